package engine

import (
	"context"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/identity"
)

// requireJudge 当前裁判才能执行
func requireJudge(doc *session.Session, guid string) error {
	if !doc.Started {
		return apperrors.ErrGameNotStart
	}
	if doc.JudgeGuid != guid {
		return apperrors.ErrNotJudge
	}
	return nil
}

// requireSubmitter 检查玩家本轮能否出牌，返回其玩家记录
func requireSubmitter(doc *session.Session, guid string) (*session.Player, error) {
	if !doc.Started {
		return nil, apperrors.ErrGameNotStart
	}
	if !doc.RoundStarted {
		return nil, apperrors.ErrRoundNotStarted
	}
	if doc.LastWinner != nil {
		return nil, apperrors.ErrWinnerChosen
	}
	p, ok := doc.Players.Get(guid)
	if !ok {
		return nil, apperrors.ErrNotInGame
	}
	if guid == doc.JudgeGuid {
		return nil, apperrors.ErrJudgeCannotPlay
	}
	if _, ok := doc.RoundSubmissions[guid]; ok {
		return nil, apperrors.ErrAlreadySubmitted
	}
	return p, nil
}

// shuffleOrder 打乱揭晓顺序
func (e *Engine) shuffleOrder(doc *session.Session) {
	order := doc.Players.Keys()
	e.alloc.Shuffle(order)
	doc.PlayerOrder = order
}

// PlayCards 出牌
func (e *Engine) PlayCards(ctx context.Context, gameID string, player identity.Player, refs []card.Ref) (*session.Session, error) {
	if err := e.verify(player); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		p, err := requireSubmitter(doc, player.Guid)
		if err != nil {
			return err
		}
		pick, err := e.currentPick(ctx, doc)
		if err != nil {
			return err
		}
		if err := checkSubmission(p.Hand, refs, pick); err != nil {
			return err
		}

		doc.RoundSubmissions[player.Guid] = slices.Clone(refs)
		e.shuffleOrder(doc)
		return nil
	})
}

// Forfeit 放弃本轮：替玩家出牌（未指定时从手牌随机选），其余手牌作废，下一轮重新发牌
func (e *Engine) Forfeit(ctx context.Context, gameID string, player identity.Player, refs []card.Ref) (*session.Session, error) {
	if err := e.verify(player); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		p, err := requireSubmitter(doc, player.Guid)
		if err != nil {
			return err
		}
		pick, err := e.currentPick(ctx, doc)
		if err != nil {
			return err
		}
		chosen := refs
		if len(chosen) == 0 {
			chosen = e.alloc.Sample(p.Hand, pick)
		}
		if err := checkSubmission(p.Hand, chosen, pick); err != nil {
			return err
		}

		doc.RoundSubmissions[player.Guid] = slices.Clone(chosen)
		retire(doc, card.Without(p.Hand, chosen))
		p.Hand = nil
		e.shuffleOrder(doc)

		log.Printf("🏳️ %s 放弃了游戏 %s 的本轮", p.Nickname, gameID)
		return nil
	})
}

// RevealNext 揭晓下一份出牌；开启 skipReveal 时一次全部揭晓
func (e *Engine) RevealNext(ctx context.Context, gameID string, judge identity.Player) (*session.Session, error) {
	if err := e.verify(judge); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		if err := requireJudge(doc, judge.Guid); err != nil {
			return err
		}
		if !doc.RoundStarted {
			return apperrors.ErrRoundNotStarted
		}

		count := doc.SubmissionCount()
		next := doc.RevealIndex + 1
		if doc.RevealIndex < 0 {
			next = 1
		}
		if doc.Settings.SkipReveal {
			next = count
		}
		next = min(next, count)
		if next == doc.RevealIndex {
			return errNoChange
		}
		doc.RevealIndex = next
		return nil
	})
}

// SkipPromptCard 换一张黑牌，旧牌不放回牌池
func (e *Engine) SkipPromptCard(ctx context.Context, gameID string, judge identity.Player) (*session.Session, error) {
	if err := e.verify(judge); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		if err := requireJudge(doc, judge.Guid); err != nil {
			return err
		}
		if doc.RoundStarted {
			return apperrors.ErrRoundStarted
		}

		packs, err := e.loadPacks(ctx, doc)
		if err != nil {
			return err
		}
		if err := e.drawPrompt(doc, packs); err != nil {
			return err
		}
		// 新黑牌可能要求更多张，手牌随之补足
		return e.dealAll(doc, packs)
	})
}

// StartRound 开始出牌；机器人在同一次写入中自动出牌
func (e *Engine) StartRound(ctx context.Context, gameID string, judge identity.Player) (*session.Session, error) {
	if err := e.verify(judge); err != nil {
		return nil, err
	}

	return e.update(ctx, gameID, func(doc *session.Session) error {
		if err := requireJudge(doc, judge.Guid); err != nil {
			return err
		}
		if doc.RoundStarted {
			return apperrors.ErrRoundStarted
		}
		if doc.GameOver() {
			return apperrors.ErrGameOver
		}

		pick, err := e.currentPick(ctx, doc)
		if err != nil {
			return err
		}

		doc.RoundStarted = true
		doc.LastWinner = nil

		bots := 0
		for _, p := range doc.Players.Values() {
			if !p.IsRandom || p.Guid == doc.JudgeGuid {
				continue
			}
			refs := e.alloc.Sample(p.Hand, pick)
			if len(refs) == 0 {
				continue
			}
			doc.RoundSubmissions[p.Guid] = refs
			bots++
		}
		if bots > 0 {
			e.shuffleOrder(doc)
			log.Printf("🤖 游戏 %s 的 %d 个机器人已出牌", gameID, bots)
		}
		return nil
	})
}

// SelectWinner 选出本轮赢家；游戏未结束时登记自动进入下一轮
func (e *Engine) SelectWinner(ctx context.Context, gameID string, judge identity.Player, winnerGuid string) (*session.Session, error) {
	if err := e.verify(judge); err != nil {
		return nil, err
	}

	doc, err := e.update(ctx, gameID, func(doc *session.Session) error {
		if err := requireJudge(doc, judge.Guid); err != nil {
			return err
		}
		if !doc.RoundStarted {
			return apperrors.ErrRoundNotStarted
		}
		if doc.LastWinner != nil {
			return apperrors.ErrWinnerChosen
		}
		if !doc.AllRevealed() {
			return apperrors.ErrNotAllRevealed
		}
		refs, ok := doc.RoundSubmissions[winnerGuid]
		if !ok {
			return apperrors.ErrNoSubmission
		}
		winner, ok := doc.Players.Get(winnerGuid)
		if !ok {
			return apperrors.ErrNotInGame
		}

		winner.Wins++
		doc.LastWinner = &session.Winner{PlayerGuid: winnerGuid, CardRefs: slices.Clone(refs)}
		doc.AutoAdvanceAt = nil
		if !doc.GameOver() {
			at := e.now().Add(e.opts.AutoAdvanceDelay)
			doc.AutoAdvanceAt = &at
		}

		log.Printf("🏆 游戏 %s 第 %d 轮赢家 %s (%d 胜)", gameID, doc.RoundIndex+1, winner.Nickname, winner.Wins)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if doc.AutoAdvanceAt != nil {
		e.scheduleAdvance(ctx, doc.ID, *doc.AutoAdvanceAt)
	} else {
		e.recordResult(ctx, doc)
	}
	return doc, nil
}

// AdvanceRound 手动进入下一轮，取消已登记的自动推进
func (e *Engine) AdvanceRound(ctx context.Context, gameID string, judge identity.Player) (*session.Session, error) {
	if err := e.verify(judge); err != nil {
		return nil, err
	}
	doc, err := e.advance(ctx, gameID, judge.Guid)
	if err != nil {
		return nil, err
	}
	e.cancelAdvance(ctx, gameID)
	return doc, nil
}

// advance 裁判手动进入下一轮
func (e *Engine) advance(ctx context.Context, gameID, judgeGuid string) (*session.Session, error) {
	return e.update(ctx, gameID, func(doc *session.Session) error {
		if err := requireJudge(doc, judgeGuid); err != nil {
			return err
		}
		return e.nextRound(ctx, doc)
	})
}

// autoAdvance 由自动推进触发，不校验裁判
//
// 认领到的计划可能属于更晚的一轮（旧定时器在其他进程手动推进后才触发），
// 未到期时把计划放回，由正确的定时器或扫描处理。
func (e *Engine) autoAdvance(ctx context.Context, gameID string) (*session.Session, error) {
	var early *time.Time
	doc, err := e.update(ctx, gameID, func(doc *session.Session) error {
		early = nil
		// 已被手动推进或重置
		if doc.AutoAdvanceAt == nil {
			return errNoChange
		}
		if e.now().Before(*doc.AutoAdvanceAt) {
			at := *doc.AutoAdvanceAt
			early = &at
			return errNoChange
		}
		return e.nextRound(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	if early != nil {
		log.WithField("game", gameID).Debugf("⏰ 自动推进未到期，重新登记到 %v", early.Format(time.RFC3339Nano))
		e.scheduleAdvance(ctx, gameID, *early)
	}
	return doc, nil
}

// nextRound 结算本轮并开始下一轮
func (e *Engine) nextRound(ctx context.Context, doc *session.Session) error {
	if doc.GameOver() {
		return apperrors.ErrGameOver
	}
	lastWinner := doc.LastWinner

	for guid, refs := range doc.RoundSubmissions {
		if p, ok := doc.Players.Get(guid); ok {
			p.Hand = card.Without(p.Hand, refs)
		}
		retire(doc, refs)
	}
	clear(doc.RoundSubmissions)

	doc.LastWinner = nil
	doc.AutoAdvanceAt = nil
	doc.RevealIndex = -1
	doc.RoundStarted = false
	doc.RoundIndex++

	for _, p := range doc.PendingPlayers.Values() {
		doc.Players.Set(p)
	}
	doc.PendingPlayers.Clear()
	doc.SyncPlayerOrder()

	doc.JudgeGuid = e.nextJudge(doc, lastWinner)

	packs, err := e.loadPacks(ctx, doc)
	if err != nil {
		return err
	}
	if err := e.drawPrompt(doc, packs); err != nil {
		return err
	}
	if err := e.dealAll(doc, packs); err != nil {
		return err
	}

	log.Printf("⏭️ 游戏 %s 进入第 %d 轮，裁判 %s", doc.ID, doc.RoundIndex+1, doc.JudgeGuid)
	return nil
}

// nextJudge 按文档顺序在真人玩家中轮换；开启 winnerBecomesJudge 时由上一轮赢家担任
func (e *Engine) nextJudge(doc *session.Session, lastWinner *session.Winner) string {
	humans := doc.NonSyntheticGuids()
	if len(humans) == 0 {
		return ""
	}
	if doc.Settings.WinnerBecomesJudge && lastWinner != nil && slices.Contains(humans, lastWinner.PlayerGuid) {
		return lastWinner.PlayerGuid
	}
	return humans[doc.RoundIndex%len(humans)]
}

func (e *Engine) recordResult(ctx context.Context, doc *session.Session) {
	if e.recorder == nil || !doc.GameOver() {
		return
	}
	if err := e.recorder.RecordGameResult(ctx, doc); err != nil {
		log.WithField("game", doc.ID).Warnf("📊 记录对局结果失败: %v", err)
	}
}
