package engine

import (
	"context"
	"fmt"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/game/deck"
	"github.com/palemoky/bad-cards/internal/game/session"
)

// loadPacks 加载本局启用的全部卡包
func (e *Engine) loadPacks(ctx context.Context, doc *session.Session) (map[string]*card.Pack, error) {
	ids := doc.Settings.AllPacks()
	if len(ids) == 0 {
		return nil, apperrors.ErrNoPacks
	}
	packs, err := e.packs.Packs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("加载卡包失败: %w", err)
	}
	return packs, nil
}

func newPool(kind card.Kind, packs map[string]*card.Pack, used card.UsedSet) deck.Pool {
	sizes := make(map[string]int, len(packs))
	for id, p := range packs {
		if n := p.Size(kind); n > 0 {
			sizes[id] = n
		}
	}
	return deck.Pool{Kind: kind, Sizes: sizes, Used: used}
}

func pickOf(packs map[string]*card.Pack, ref *card.Ref) int {
	if ref == nil {
		return 1
	}
	p, ok := packs[ref.PackID]
	if !ok || ref.CardIndex < 0 || ref.CardIndex >= len(p.Prompts) {
		return 1
	}
	return p.Prompts[ref.CardIndex].PickCount()
}

// currentPick 本轮黑牌要求出的张数
func (e *Engine) currentPick(ctx context.Context, doc *session.Session) (int, error) {
	if doc.PromptCard == nil {
		return 1, nil
	}
	packs, err := e.packs.Packs(ctx, []string{doc.PromptCard.PackID})
	if err != nil {
		return 0, fmt.Errorf("加载卡包失败: %w", err)
	}
	return pickOf(packs, doc.PromptCard), nil
}

// drawPrompt 抽一张新黑牌，旧黑牌不放回
func (e *Engine) drawPrompt(doc *session.Session, packs map[string]*card.Pack) error {
	refs, err := e.alloc.Draw(newPool(card.Prompt, packs, doc.UsedPromptCards), 1)
	if err != nil {
		return err
	}
	doc.PromptCard = &refs[0]
	return nil
}

// dealTo 把指定玩家的手牌补到当前黑牌要求的张数
func (e *Engine) dealTo(doc *session.Session, packs map[string]*card.Pack, players []*session.Player) error {
	if len(players) == 0 {
		return nil
	}

	hands := make([][]card.Ref, len(players))
	for i, p := range players {
		hands[i] = p.Hand
	}

	pool := newPool(card.Response, packs, doc.UsedResponseCards)
	for _, p := range append(doc.Players.Values(), doc.PendingPlayers.Values()...) {
		pool.Held = append(pool.Held, p.Hand...)
	}

	target := deck.HandTarget(e.opts.HandSize, pickOf(packs, doc.PromptCard))
	dealt, err := e.alloc.Deal(pool, hands, target)
	if err != nil {
		return err
	}
	for i, p := range players {
		p.Hand = dealt[i]
	}
	return nil
}

// dealAll 给所有玩家与待加入玩家补牌
func (e *Engine) dealAll(doc *session.Session, packs map[string]*card.Pack) error {
	players := append(doc.Players.Values(), doc.PendingPlayers.Values()...)
	return e.dealTo(doc, packs, players)
}

// retire 让牌退出流通，直到下次回收
func retire(doc *session.Session, refs []card.Ref) {
	for _, ref := range refs {
		doc.UsedResponseCards.Add(ref)
	}
}

// checkSubmission 校验出牌：非空、不重复、都在手中、张数与黑牌一致
func checkSubmission(hand, refs []card.Ref, pick int) error {
	if len(refs) == 0 || card.HasDuplicates(refs) || !card.ContainsAll(hand, refs) {
		return apperrors.ErrCardsNotInHand
	}
	if len(refs) != pick {
		return apperrors.Newf(apperrors.ErrCardsNotInHand.Code, "本轮需要出 %d 张牌", pick)
	}
	return nil
}
