package session

import (
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/protocol"
)

const (
	DefaultRoundsToWin = 7
	DefaultPlayerLimit = 50
	MaxRoundsToWin     = 50
	MinPlayerLimit     = 2
)

// Settings 游戏设置（不可变值，通过 Apply 产生新值）
type Settings struct {
	IncludedPacks           []string `json:"includedPacks"`
	IncludedThirdPartyPacks []string `json:"includedThirdPartyPacks"`
	RoundsToWin             int      `json:"roundsToWin"`
	PlayerLimit             int      `json:"playerLimit"`
	InviteLink              string   `json:"inviteLink,omitempty"`
	PasswordHash            string   `json:"passwordHash,omitempty"`
	HasPassword             bool     `json:"hasPassword"`
	IsPublic                bool     `json:"isPublic"`
	WinnerBecomesJudge      bool     `json:"winnerBecomesJudge"`
	HideDuringReveal        bool     `json:"hideDuringReveal"`
	SkipReveal              bool     `json:"skipReveal"`
}

// DefaultSettings 新建游戏的默认设置
func DefaultSettings() Settings {
	return Settings{
		IncludedPacks:           []string{},
		IncludedThirdPartyPacks: []string{},
		RoundsToWin:             DefaultRoundsToWin,
		PlayerLimit:             DefaultPlayerLimit,
	}
}

// Patch 设置修改，nil 字段表示不修改
type Patch struct {
	IncludedPacks           []string `json:"includedPacks,omitempty"`
	IncludedThirdPartyPacks []string `json:"includedThirdPartyPacks,omitempty"`
	RoundsToWin             *int     `json:"roundsToWin,omitempty"`
	PlayerLimit             *int     `json:"playerLimit,omitempty"`
	InviteLink              *string  `json:"inviteLink,omitempty"`
	Password                *string  `json:"password,omitempty"` // 明文，空串表示取消密码
	IsPublic                *bool    `json:"isPublic,omitempty"`
	WinnerBecomesJudge      *bool    `json:"winnerBecomesJudge,omitempty"`
	HideDuringReveal        *bool    `json:"hideDuringReveal,omitempty"`
	SkipReveal              *bool    `json:"skipReveal,omitempty"`
}

// Limits 服务端硬性上限
type Limits struct {
	MaxPlayerLimit int
}

// AllPacks 本局启用的全部卡包
func (s Settings) AllPacks() []string {
	out := make([]string, 0, len(s.IncludedPacks)+len(s.IncludedThirdPartyPacks))
	out = append(out, s.IncludedPacks...)
	for _, id := range s.IncludedThirdPartyPacks {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// CheckPassword 校验密码；未设置密码时总是通过
func (s Settings) CheckPassword(password string) bool {
	if !s.HasPassword {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(password)) == nil
}

// Public 去除密码哈希，用于推送与接口返回
func (s Settings) Public() Settings {
	s.PasswordHash = ""
	s.IncludedPacks = slices.Clone(s.IncludedPacks)
	s.IncludedThirdPartyPacks = slices.Clone(s.IncludedThirdPartyPacks)
	return s
}

// Apply 校验并合并修改，返回新设置；原值不变
func (s Settings) Apply(p Patch, limits Limits) (Settings, error) {
	next := s
	next.IncludedPacks = slices.Clone(s.IncludedPacks)
	next.IncludedThirdPartyPacks = slices.Clone(s.IncludedThirdPartyPacks)

	if p.IncludedPacks != nil {
		next.IncludedPacks = dedupe(p.IncludedPacks)
	}
	if p.IncludedThirdPartyPacks != nil {
		next.IncludedThirdPartyPacks = dedupe(p.IncludedThirdPartyPacks)
	}
	if p.RoundsToWin != nil {
		if *p.RoundsToWin < 1 || *p.RoundsToWin > MaxRoundsToWin {
			return s, apperrors.Newf(protocol.ErrCodeInvalidSettings, "获胜轮数必须在 1 到 %d 之间", MaxRoundsToWin)
		}
		next.RoundsToWin = *p.RoundsToWin
	}
	if p.PlayerLimit != nil {
		if limits.MaxPlayerLimit > 0 && *p.PlayerLimit > limits.MaxPlayerLimit {
			return s, apperrors.Newf(protocol.ErrCodeLimitExceeded, "人数上限不能超过 %d", limits.MaxPlayerLimit)
		}
		if *p.PlayerLimit < MinPlayerLimit {
			return s, apperrors.Newf(protocol.ErrCodeInvalidSettings, "人数上限不能少于 %d", MinPlayerLimit)
		}
		next.PlayerLimit = *p.PlayerLimit
	}
	if p.InviteLink != nil {
		next.InviteLink = strings.TrimSpace(*p.InviteLink)
	}
	if p.Password != nil {
		if *p.Password == "" {
			next.PasswordHash = ""
			next.HasPassword = false
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(*p.Password), bcrypt.DefaultCost)
			if err != nil {
				return s, err
			}
			next.PasswordHash = string(hash)
			next.HasPassword = true
		}
	}
	if p.IsPublic != nil {
		next.IsPublic = *p.IsPublic
	}
	if p.WinnerBecomesJudge != nil {
		next.WinnerBecomesJudge = *p.WinnerBecomesJudge
	}
	if p.HideDuringReveal != nil {
		next.HideDuringReveal = *p.HideDuringReveal
	}
	if p.SkipReveal != nil {
		next.SkipReveal = *p.SkipReveal
	}

	return next, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
