package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/identity"
)

const gameIDAttempts = 5

// JoinOptions 加入游戏的参数
type JoinOptions struct {
	Nickname string
	Spectate bool
	Password string
}

// CreateSession 创建游戏，房主是唯一玩家
func (e *Engine) CreateSession(ctx context.Context, owner identity.Player, nickname string) (*session.Session, error) {
	if err := e.verify(owner); err != nil {
		return nil, err
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, apperrors.ErrInvalidNickname
	}

	for attempt := 0; attempt <= gameIDAttempts; attempt++ {
		id := e.gameID()
		if attempt == gameIDAttempts {
			id = uuid.NewString()
		}

		doc := session.New(id, &session.Player{Guid: owner.Guid, Nickname: nickname}, e.now())
		ok, err := e.repo.Create(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("创建游戏失败: %w", err)
		}
		if ok {
			log.Printf("🏠 游戏 %s 已创建，房主 %s", id, nickname)
			e.publish(ctx, doc)
			return doc, nil
		}
	}
	return nil, apperrors.ErrConflict
}

// JoinSession 加入游戏；已开始的游戏立即发牌，回合进行中则等下一轮加入
func (e *Engine) JoinSession(ctx context.Context, player identity.Player, gameID string, opts JoinOptions) (*session.Session, error) {
	if err := e.verify(player); err != nil {
		return nil, err
	}
	nickname := strings.TrimSpace(opts.Nickname)
	if nickname == "" {
		return nil, apperrors.ErrInvalidNickname
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		if doc.Role(player.Guid) != session.RoleNone {
			return errNoChange
		}
		if !doc.Settings.CheckPassword(opts.Password) {
			return apperrors.ErrWrongPassword
		}
		if doc.HeadCount() >= doc.Settings.PlayerLimit {
			return apperrors.ErrGameFull
		}

		p := &session.Player{Guid: player.Guid, Nickname: nickname, IsSpectating: opts.Spectate}
		if opts.Spectate {
			doc.Spectators.Set(p)
			log.Printf("👀 %s 观战游戏 %s", nickname, gameID)
			return nil
		}
		if err := e.admit(ctx, doc, p); err != nil {
			return err
		}
		log.Printf("👤 %s 加入游戏 %s", nickname, gameID)
		return nil
	})
}

// admit 让玩家入座：回合进行中先进待加入列表；游戏已开始则立即发牌
func (e *Engine) admit(ctx context.Context, doc *session.Session, p *session.Player) error {
	if doc.Started {
		packs, err := e.loadPacks(ctx, doc)
		if err != nil {
			return err
		}
		if err := e.dealTo(doc, packs, []*session.Player{p}); err != nil {
			return err
		}
	}

	if doc.RoundStarted {
		doc.PendingPlayers.Set(p)
		return nil
	}
	doc.Players.Set(p)
	doc.SyncPlayerOrder()
	return nil
}

// KickPlayer 移除玩家；房主可以踢任何人，其他人只能移除自己
func (e *Engine) KickPlayer(ctx context.Context, gameID, targetGuid string, actor identity.Player) (*session.Session, error) {
	if err := e.verify(actor); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		if doc.OwnerGuid != actor.Guid && targetGuid != actor.Guid {
			return apperrors.ErrKickForbidden
		}

		var removed *session.Player
		for _, m := range []*session.PlayerMap{&doc.Players, &doc.PendingPlayers, &doc.Spectators} {
			if p, ok := m.Delete(targetGuid); ok {
				removed = p
			}
		}
		if removed == nil {
			return apperrors.ErrNotInGame
		}

		retire(doc, removed.Hand)
		delete(doc.RoundSubmissions, targetGuid)

		if targetGuid == doc.OwnerGuid {
			doc.OwnerGuid = ""
			if humans := doc.NonSyntheticGuids(); len(humans) > 0 {
				doc.OwnerGuid = humans[0]
			}
		}
		if targetGuid == doc.JudgeGuid {
			doc.JudgeGuid = ""
			if doc.Players.Has(doc.OwnerGuid) {
				doc.JudgeGuid = doc.OwnerGuid
			}
			// 新裁判不能同时是出牌者
			delete(doc.RoundSubmissions, doc.JudgeGuid)
		}
		if doc.RevealIndex > doc.SubmissionCount() {
			doc.RevealIndex = doc.SubmissionCount()
		}
		doc.SyncPlayerOrder()

		log.Printf("👋 玩家 %s 离开游戏 %s", removed.Nickname, gameID)
		return nil
	})
}

// StartSession 应用设置，选出第一个裁判，抽黑牌并发牌
func (e *Engine) StartSession(ctx context.Context, gameID string, owner identity.Player, patch session.Patch) (*session.Session, error) {
	if err := e.verify(owner); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		if doc.OwnerGuid != owner.Guid {
			return apperrors.ErrNotOwner
		}
		if doc.Started {
			return apperrors.ErrGameStarted
		}

		settings, err := doc.Settings.Apply(patch, e.limits())
		if err != nil {
			return err
		}
		doc.Settings = settings

		humans := doc.NonSyntheticGuids()
		if len(humans) == 0 {
			return apperrors.ErrNotInGame
		}
		packs, err := e.loadPacks(ctx, doc)
		if err != nil {
			return err
		}

		doc.JudgeGuid = humans[0]
		doc.Started = true
		doc.RoundStarted = false
		doc.RoundIndex = 0
		doc.RevealIndex = -1
		if err := e.drawPrompt(doc, packs); err != nil {
			return err
		}
		if err := e.dealAll(doc, packs); err != nil {
			return err
		}
		doc.SyncPlayerOrder()

		log.Printf("🎮 游戏 %s 开始，%d 名玩家，裁判 %s", gameID, doc.Players.Len(), doc.JudgeGuid)
		return nil
	})
}

// UpdateSettings 修改设置（仅房主）
func (e *Engine) UpdateSettings(ctx context.Context, gameID string, owner identity.Player, patch session.Patch) (*session.Session, error) {
	if err := e.verify(owner); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		if doc.OwnerGuid != owner.Guid {
			return apperrors.ErrNotOwner
		}
		settings, err := doc.Settings.Apply(patch, e.limits())
		if err != nil {
			return err
		}
		if doc.Started && len(settings.AllPacks()) == 0 {
			return apperrors.ErrNoPacks
		}
		doc.Settings = settings
		return nil
	})
}

// RestartSession 清空胜场、手牌与已用牌，回到未开始状态
func (e *Engine) RestartSession(ctx context.Context, gameID string, owner identity.Player) (*session.Session, error) {
	if err := e.verify(owner); err != nil {
		return nil, err
	}

	doc, err := e.update(ctx, gameID, func(doc *session.Session) error {
		if doc.OwnerGuid != owner.Guid {
			return apperrors.ErrNotOwner
		}

		for _, p := range doc.PendingPlayers.Values() {
			doc.Players.Set(p)
		}
		doc.PendingPlayers.Clear()
		for _, p := range doc.Players.Values() {
			p.Wins = 0
			p.Hand = nil
		}

		doc.Started = false
		doc.RoundStarted = false
		doc.RoundIndex = 0
		doc.RevealIndex = -1
		doc.JudgeGuid = ""
		doc.PromptCard = nil
		doc.LastWinner = nil
		doc.AutoAdvanceAt = nil
		clear(doc.RoundSubmissions)
		doc.UsedPromptCards.Clear()
		doc.UsedResponseCards.Clear()
		doc.SyncPlayerOrder()

		log.Printf("🔄 游戏 %s 已重置", gameID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.cancelAdvance(ctx, gameID)
	return doc, nil
}

// AddSyntheticPlayer 添加一个自动出牌的机器人
func (e *Engine) AddSyntheticPlayer(ctx context.Context, gameID string, owner identity.Player) (*session.Session, error) {
	if err := e.verify(owner); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		if doc.OwnerGuid != owner.Guid {
			return apperrors.ErrNotOwner
		}
		if doc.SyntheticCount() >= e.opts.MaxSyntheticPlayers {
			return apperrors.ErrTooManyBots
		}
		if doc.HeadCount() >= doc.Settings.PlayerLimit {
			return apperrors.ErrGameFull
		}

		var taken []string
		for _, p := range append(doc.Players.Values(), doc.PendingPlayers.Values()...) {
			taken = append(taken, p.Nickname)
		}
		bot := &session.Player{
			Guid:     uuid.NewString(),
			Nickname: e.botNickname(taken),
			IsRandom: true,
		}
		if err := e.admit(ctx, doc, bot); err != nil {
			return err
		}

		log.Printf("🤖 机器人 %s 加入游戏 %s", bot.Nickname, gameID)
		return nil
	})
}

func (e *Engine) limits() session.Limits {
	return session.Limits{MaxPlayerLimit: e.opts.MaxPlayerLimit}
}
