package session

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/palemoky/bad-cards/internal/game/card"
)

// Role 玩家在游戏中的身份
type Role int

const (
	RoleNone Role = iota
	RolePlayer
	RolePending
	RoleSpectator
)

// Winner 上一轮赢家
type Winner struct {
	PlayerGuid string     `json:"playerGuid"`
	CardRefs   []card.Ref `json:"cardRefs"`
}

// Session 一局游戏的完整文档
type Session struct {
	ID                string                `json:"id"`
	OwnerGuid         string                `json:"ownerGuid"`
	JudgeGuid         string                `json:"judgeGuid"`
	Started           bool                  `json:"started"`
	RoundStarted      bool                  `json:"roundStarted"`
	RoundIndex        int                   `json:"roundIndex"`
	RevealIndex       int                   `json:"revealIndex"`
	Players           PlayerMap             `json:"players"`
	PendingPlayers    PlayerMap             `json:"pendingPlayers"`
	Spectators        PlayerMap             `json:"spectators"`
	PlayerOrder       []string              `json:"playerOrder"`
	PromptCard        *card.Ref             `json:"promptCard"`
	RoundSubmissions  map[string][]card.Ref `json:"roundSubmissions"`
	UsedPromptCards   card.UsedSet          `json:"usedPromptCards"`
	UsedResponseCards card.UsedSet          `json:"usedResponseCards"`
	LastWinner        *Winner               `json:"lastWinner"`
	Settings          Settings              `json:"settings"`
	DateCreated       time.Time             `json:"dateCreated"`
	DateUpdated       time.Time             `json:"dateUpdated"`
	Version           int64                 `json:"version"`
	AutoAdvanceAt     *time.Time            `json:"autoAdvanceAt,omitempty"` // 自动进入下一轮的时间
}

// New 创建一局新游戏，房主是唯一玩家
func New(id string, owner *Player, now time.Time) *Session {
	s := &Session{
		ID:          id,
		OwnerGuid:   owner.Guid,
		RevealIndex: -1,
		Settings:    DefaultSettings(),
		DateCreated: now,
		DateUpdated: now,
	}
	s.normalize()
	s.Players.Set(owner)
	s.PlayerOrder = []string{owner.Guid}
	return s
}

// Decode 从 JSON 解析文档并补齐空集合
func Decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("反序列化游戏文档失败: %w", err)
	}
	s.normalize()
	return &s, nil
}

func (s *Session) normalize() {
	if s.RoundSubmissions == nil {
		s.RoundSubmissions = make(map[string][]card.Ref)
	}
	if s.UsedPromptCards == nil {
		s.UsedPromptCards = card.UsedSet{}
	}
	if s.UsedResponseCards == nil {
		s.UsedResponseCards = card.UsedSet{}
	}
	if s.PlayerOrder == nil {
		s.PlayerOrder = []string{}
	}
	if s.Settings.IncludedPacks == nil {
		s.Settings.IncludedPacks = []string{}
	}
	if s.Settings.IncludedThirdPartyPacks == nil {
		s.Settings.IncludedThirdPartyPacks = []string{}
	}
}

// Public 返回去除密码哈希的浅拷贝
func (s *Session) Public() *Session {
	cp := *s
	cp.Settings = s.Settings.Public()
	return &cp
}

// Role 查询玩家身份
func (s *Session) Role(guid string) Role {
	switch {
	case s.Players.Has(guid):
		return RolePlayer
	case s.PendingPlayers.Has(guid):
		return RolePending
	case s.Spectators.Has(guid):
		return RoleSpectator
	default:
		return RoleNone
	}
}

// Lookup 在所有身份中查找玩家
func (s *Session) Lookup(guid string) (*Player, bool) {
	for _, m := range []*PlayerMap{&s.Players, &s.PendingPlayers, &s.Spectators} {
		if p, ok := m.Get(guid); ok {
			return p, true
		}
	}
	return nil, false
}

// HeadCount 占用名额的人数（玩家 + 待加入玩家）
func (s *Session) HeadCount() int {
	return s.Players.Len() + s.PendingPlayers.Len()
}

// Participants 需要接收推送的全部 guid
func (s *Session) Participants() []string {
	out := make([]string, 0, s.HeadCount()+s.Spectators.Len())
	out = append(out, s.Players.Keys()...)
	out = append(out, s.PendingPlayers.Keys()...)
	out = append(out, s.Spectators.Keys()...)
	return out
}

// NonSyntheticGuids 真人玩家，按文档顺序
func (s *Session) NonSyntheticGuids() []string {
	var out []string
	for _, p := range s.Players.Values() {
		if !p.IsRandom {
			out = append(out, p.Guid)
		}
	}
	return out
}

// SyntheticCount 机器人数量
func (s *Session) SyntheticCount() int {
	n := 0
	for _, m := range []*PlayerMap{&s.Players, &s.PendingPlayers} {
		for _, p := range m.Values() {
			if p.IsRandom {
				n++
			}
		}
	}
	return n
}

// SubmissionCount 本轮已出牌人数
func (s *Session) SubmissionCount() int {
	return len(s.RoundSubmissions)
}

// GameOver 是否有玩家达到获胜轮数
func (s *Session) GameOver() bool {
	_, ok := s.Winner()
	return ok
}

// Winner 达到获胜轮数的玩家；多人同时达到时取胜场最多者，再按文档顺序
func (s *Session) Winner() (*Player, bool) {
	var best *Player
	for _, p := range s.Players.Values() {
		if p.Wins < s.Settings.RoundsToWin {
			continue
		}
		if best == nil || p.Wins > best.Wins {
			best = p
		}
	}
	return best, best != nil
}

// AllRevealed 所有出牌都已揭晓
func (s *Session) AllRevealed() bool {
	return s.RevealIndex >= s.SubmissionCount()
}

// SyncPlayerOrder 让 playerOrder 与当前玩家保持一致（保留已有顺序，新玩家追加）
func (s *Session) SyncPlayerOrder() {
	order := slices.DeleteFunc(slices.Clone(s.PlayerOrder), func(g string) bool {
		return !s.Players.Has(g)
	})
	for _, g := range s.Players.Keys() {
		if !slices.Contains(order, g) {
			order = append(order, g)
		}
	}
	s.PlayerOrder = order
}

// Submissions 按 playerOrder 返回本轮出牌的 guid
func (s *Session) Submissions() []string {
	keys := slices.Collect(maps.Keys(s.RoundSubmissions))
	slices.SortStableFunc(keys, func(a, b string) int {
		return slices.Index(s.PlayerOrder, a) - slices.Index(s.PlayerOrder, b)
	})
	return keys
}
