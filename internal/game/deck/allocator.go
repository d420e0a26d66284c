package deck

import (
	"math/rand/v2"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
)

// BaseHandSize 基础手牌数
const BaseHandSize = 10

// HandTarget 手牌目标数：黑牌要求出多张时相应增加
func HandTarget(base, pick int) int {
	return base + max(pick, 1) - 1
}

// Pool 一次抽牌的牌池
//
// Sizes 只包含本局启用的卡包；Used 会被原地修改（记录与回收）。
// Held 是不参与本次发牌的其他手牌，发牌时同样视为被占用。
type Pool struct {
	Kind  card.Kind
	Sizes map[string]int
	Used  card.UsedSet
	Held  []card.Ref
}

func (p Pool) packIDs() []string {
	ids := make([]string, 0, len(p.Sizes))
	for id := range p.Sizes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (p Pool) total() int {
	n := 0
	for _, size := range p.Sizes {
		n += size
	}
	return n
}

// remaining 统计未被使用也未被持有的牌数
func (p Pool) remaining(held card.UsedSet) int {
	n := 0
	for id, size := range p.Sizes {
		for i := range size {
			ref := card.Ref{PackID: id, CardIndex: i}
			if !p.Used.Has(ref) && !held.Has(ref) {
				n++
			}
		}
	}
	return n
}

// Allocator 发牌器，随机源可注入以便复现
type Allocator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New 创建发牌器
func New(src rand.Source) *Allocator {
	return &Allocator{rng: rand.New(src)}
}

// NewSeeded 使用固定种子创建发牌器
func NewSeeded(seed uint64) *Allocator {
	return New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// pick 先等概率选卡包，再在包内等概率选牌
func (a *Allocator) pick(p Pool, ids []string, taken func(card.Ref) bool) (card.Ref, bool) {
	type candidate struct {
		packID string
		free   []int
	}

	var candidates []candidate
	for _, id := range ids {
		var free []int
		for i := range p.Sizes[id] {
			if !taken(card.Ref{PackID: id, CardIndex: i}) {
				free = append(free, i)
			}
		}
		if len(free) > 0 {
			candidates = append(candidates, candidate{packID: id, free: free})
		}
	}
	if len(candidates) == 0 {
		return card.Ref{}, false
	}

	c := candidates[a.rng.IntN(len(candidates))]
	return card.Ref{PackID: c.packID, CardIndex: c.free[a.rng.IntN(len(c.free))]}, true
}

// Draw 抽取 n 张不重复的牌并记入已使用集合
func (a *Allocator) Draw(p Pool, n int) ([]card.Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n > p.total() {
		return nil, apperrors.ErrNotEnoughCards
	}
	if p.remaining(nil) < n {
		log.Printf("♻️ %s 牌池剩余不足 %d 张，回收已使用的牌", p.Kind, n)
		p.Used.Clear()
	}

	ids := p.packIDs()
	refs := make([]card.Ref, 0, n)
	for range n {
		ref, ok := a.pick(p, ids, p.Used.Has)
		if !ok {
			p.Used.Clear()
			ref, ok = a.pick(p, ids, p.Used.Has)
		}
		if !ok {
			return nil, apperrors.ErrNotEnoughCards
		}
		p.Used.Add(ref)
		refs = append(refs, ref)
	}
	return refs, nil
}

// Deal 把每手牌补足到 target 张，已持有的牌保持不动
//
// 手中的牌视为被占用；已使用集合只记录退出流通的牌。
// 剩余不足时先回收已使用集合；若仍抽不到，才允许发出其他玩家手中的牌，
// 同一手牌内永不重复。
func (a *Allocator) Deal(p Pool, hands [][]card.Ref, target int) ([][]card.Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if target > p.total() {
		return nil, apperrors.ErrNotEnoughCards
	}

	out := make([][]card.Ref, len(hands))
	held := card.UsedSet{}
	for _, ref := range p.Held {
		held.Add(ref)
	}
	needed := 0
	for i, h := range hands {
		out[i] = slices.Clone(h)
		for _, ref := range h {
			held.Add(ref)
		}
		needed += max(target-len(h), 0)
	}

	if needed > 0 && p.remaining(held) < needed {
		log.Printf("♻️ %s 牌池剩余不足 %d 张，回收已使用的牌", p.Kind, needed)
		p.Used.Clear()
	}

	ids := p.packIDs()
	for i := range out {
		for len(out[i]) < target {
			mine := out[i]
			ref, ok := a.pick(p, ids, func(r card.Ref) bool { return p.Used.Has(r) || held.Has(r) })
			if !ok {
				p.Used.Clear()
				ref, ok = a.pick(p, ids, held.Has)
			}
			if !ok {
				log.Printf("♻️ %s 牌池已全部在手，重复发出其他玩家手中的牌", p.Kind)
				ref, ok = a.pick(p, ids, func(r card.Ref) bool { return slices.Contains(mine, r) })
			}
			if !ok {
				return nil, apperrors.ErrNotEnoughCards
			}
			out[i] = append(out[i], ref)
			held.Add(ref)
		}
	}
	return out, nil
}

// Sample 从 refs 中随机选出 n 张（不足则全部返回）
func (a *Allocator) Sample(refs []card.Ref, n int) []card.Ref {
	a.mu.Lock()
	defer a.mu.Unlock()

	shuffled := slices.Clone(refs)
	a.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:min(n, len(shuffled))]
}

// Shuffle 打乱字符串切片（原地）
func (a *Allocator) Shuffle(items []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// IntN 返回 [0, n) 的随机数
func (a *Allocator) IntN(n int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.IntN(n)
}
