package engine

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// 游戏 id 词库
var (
	adjectives = []string{
		"brave", "clever", "happy", "mystic", "shiny",
		"elegant", "cute", "mighty", "calm", "lively",
		"witty", "dashing", "gentle", "bold", "chill",
		"bright", "charming", "sassy", "silly", "frosty",
	}

	nouns = []string{
		"chicken", "panda", "tiger", "lion", "monkey",
		"rabbit", "fox", "dolphin", "penguin", "koala",
		"corgi", "shiba", "ragdoll", "chinchilla", "hamster",
		"hedgehog", "squirrel", "raccoon", "otter", "alpaca",
	}
)

// 机器人昵称词库
var botNames = []string{
	"carol", "dave", "erin", "frank", "grace", "heidi", "ivan", "judy",
	"mallory", "niaj", "olivia", "peggy", "rupert", "sybil", "trent",
	"victor", "walter", "yvonne", "zoe", "quentin",
}

const botSuffix = "(random)"

// gameID 生成易读的游戏 id，例如 happy-panda-42
func (e *Engine) gameID() string {
	adj := adjectives[e.alloc.IntN(len(adjectives))]
	noun := nouns[e.alloc.IntN(len(nouns))]
	return fmt.Sprintf("%s-%s-%d", adj, noun, 10+e.alloc.IntN(90))
}

// botNickname 取一个本局未使用的机器人昵称，词库用完后追加序号
func (e *Engine) botNickname(taken []string) string {
	var free []string
	for _, name := range botNames {
		if !slices.Contains(taken, name+botSuffix) {
			free = append(free, name)
		}
	}
	if len(free) > 0 {
		return free[e.alloc.IntN(len(free))] + botSuffix
	}
	return fmt.Sprintf("bot-%s%s", uuid.NewString()[:4], botSuffix)
}
