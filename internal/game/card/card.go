package card

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind 定义卡牌种类
type Kind int

const (
	Prompt   Kind = iota // 黑牌（题目）
	Response             // 白牌（答案）
)

func (k Kind) String() string {
	if k == Prompt {
		return "prompt"
	}
	return "response"
}

// Ref 指向卡包中某一张牌，核心逻辑从不解析其文本
type Ref struct {
	PackID    string `json:"packId"`
	CardIndex int    `json:"cardIndex"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.PackID, r.CardIndex)
}

// PromptCard 黑牌内容
type PromptCard struct {
	Content string `json:"content"`
	Pick    int    `json:"pick"`
	Draw    int    `json:"draw"`
}

// PickCount 本轮需要出的白牌数量，至少为 1
func (c PromptCard) PickCount() int {
	return max(c.Pick, 1)
}

// Pack 卡包内容
type Pack struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Prompts   []PromptCard `json:"blackCards"`
	Responses []string     `json:"whiteCards"`
	StoredAt  int64        `json:"dateStoredMs,omitempty"`
}

// Size 返回指定种类的牌数
func (p *Pack) Size(kind Kind) int {
	if kind == Prompt {
		return len(p.Prompts)
	}
	return len(p.Responses)
}

// Stale 判断缓存内容是否超过新鲜期
func (p *Pack) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.UnixMilli(p.StoredAt)) > ttl
}

// UsedSet 已使用卡牌集合：packId -> 下标集合
type UsedSet map[string]map[int]struct{}

// Add 记录一张已使用的牌
func (u UsedSet) Add(ref Ref) {
	set, ok := u[ref.PackID]
	if !ok {
		set = make(map[int]struct{})
		u[ref.PackID] = set
	}
	set[ref.CardIndex] = struct{}{}
}

// Has 判断牌是否已使用
func (u UsedSet) Has(ref Ref) bool {
	_, ok := u[ref.PackID][ref.CardIndex]
	return ok
}

// Count 返回某个卡包已使用的数量
func (u UsedSet) Count(packID string) int {
	return len(u[packID])
}

// Clear 清空集合（回收）
func (u UsedSet) Clear() {
	clear(u)
}

// MarshalJSON 序列化为 {"pack":[1,4]}，下标有序
func (u UsedSet) MarshalJSON() ([]byte, error) {
	out := make(map[string][]int, len(u))
	for packID, set := range u {
		indexes := make([]int, 0, len(set))
		for idx := range set {
			indexes = append(indexes, idx)
		}
		slices.Sort(indexes)
		out[packID] = indexes
	}
	return json.Marshal(out)
}

// UnmarshalJSON 从 {"pack":[1,4]} 反序列化
func (u *UsedSet) UnmarshalJSON(data []byte) error {
	var in map[string][]int
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	set := make(UsedSet, len(in))
	for packID, indexes := range in {
		for _, idx := range indexes {
			set.Add(Ref{PackID: packID, CardIndex: idx})
		}
	}
	*u = set
	return nil
}

// NormalizeResponse 白牌文本首字母大写并以句号结尾
func NormalizeResponse(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	text = strings.ToUpper(text[:1]) + text[1:]
	if !strings.HasSuffix(text, ".") {
		text += "."
	}
	return text
}
