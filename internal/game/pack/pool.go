package pack

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
)

// Pool 卡包来源：优先静态卡包，否则走远程
type Pool struct {
	catalog *Catalog
	remote  *Remote
}

// NewPool 创建卡包来源，remote 可为 nil
func NewPool(catalog *Catalog, remote *Remote) *Pool {
	return &Pool{catalog: catalog, remote: remote}
}

// Pack 获取单个卡包
func (p *Pool) Pack(ctx context.Context, id string) (*card.Pack, error) {
	if pk, ok := p.catalog.Get(id); ok {
		return pk, nil
	}
	if p.remote == nil {
		return nil, apperrors.ErrPackNotFound
	}
	return p.remote.Get(ctx, id)
}

// Packs 并发获取多个卡包
func (p *Pool) Packs(ctx context.Context, ids []string) (map[string]*card.Pack, error) {
	var mu sync.Mutex
	out := make(map[string]*card.Pack, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			pk, err := p.Pack(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = pk
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PromptCard 解析黑牌内容
func (p *Pool) PromptCard(ctx context.Context, ref card.Ref) (card.PromptCard, error) {
	pk, err := p.Pack(ctx, ref.PackID)
	if err != nil {
		return card.PromptCard{}, err
	}
	if ref.CardIndex < 0 || ref.CardIndex >= len(pk.Prompts) {
		return card.PromptCard{}, apperrors.Newf(apperrors.ErrPackNotFound.Code, "卡牌 %s 不存在", ref)
	}
	return pk.Prompts[ref.CardIndex], nil
}

// ResponseCard 解析白牌内容
func (p *Pool) ResponseCard(ctx context.Context, ref card.Ref) (string, error) {
	pk, err := p.Pack(ctx, ref.PackID)
	if err != nil {
		return "", err
	}
	if ref.CardIndex < 0 || ref.CardIndex >= len(pk.Responses) {
		return "", apperrors.Newf(apperrors.ErrPackNotFound.Code, "卡牌 %s 不存在", ref)
	}
	return pk.Responses[ref.CardIndex], nil
}

// Summary 卡包摘要
type Summary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Quantity Quantity `json:"quantity"`
}

// Summaries 列出某个分类下的静态卡包
func (p *Pool) Summaries(typeID string) []Summary {
	if p.catalog == nil {
		return nil
	}
	var out []Summary
	for _, t := range p.catalog.Types {
		if typeID != "" && t.ID != typeID {
			continue
		}
		for _, id := range t.Packs {
			pk, ok := p.catalog.Get(id)
			if !ok {
				continue
			}
			out = append(out, Summary{
				ID:   id,
				Name: pk.Name,
				Quantity: Quantity{
					Prompts:   len(pk.Prompts),
					Responses: len(pk.Responses),
					Total:     len(pk.Prompts) + len(pk.Responses),
				},
			})
		}
	}
	return out
}
