package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
)

// RemoteCache 远程卡包的二级缓存，未命中返回 nil, nil
type RemoteCache interface {
	LoadPack(ctx context.Context, id string) (*card.Pack, error)
	SavePack(ctx context.Context, p *card.Pack) error
}

// RemoteOptions 远程卡包配置
type RemoteOptions struct {
	BaseURL   string
	Timeout   time.Duration
	CacheTTL  time.Duration // Redis 中内容的新鲜期
	MemoryTTL time.Duration // 内存中无访问的保留时长
}

type memoryEntry struct {
	pack       *card.Pack
	lastAccess time.Time
}

// Remote 第三方卡包源：内存 -> Redis -> HTTP
type Remote struct {
	opts   RemoteOptions
	client *http.Client
	cache  RemoteCache

	mu     sync.Mutex
	memory map[string]*memoryEntry
	group  singleflight.Group

	now func() time.Time
}

// NewRemote 创建远程卡包源
func NewRemote(opts RemoteOptions, cache RemoteCache) *Remote {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.MemoryTTL == 0 {
		opts.MemoryTTL = time.Hour
	}
	return &Remote{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		cache:  cache,
		memory: make(map[string]*memoryEntry),
		now:    time.Now,
	}
}

// Get 获取远程卡包，同一 id 的并发请求只会拉取一次
func (r *Remote) Get(ctx context.Context, id string) (*card.Pack, error) {
	if p := r.fromMemory(id); p != nil {
		return p, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if p := r.fromMemory(id); p != nil {
			return p, nil
		}

		if r.cache != nil {
			stored, err := r.cache.LoadPack(ctx, id)
			if err != nil {
				log.Printf("⚠️ 读取卡包缓存 %s 失败: %v", id, err)
			} else if stored != nil && !stored.Stale(r.now(), r.opts.CacheTTL) {
				r.remember(stored)
				return stored, nil
			}
		}

		p, err := r.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if err := r.cache.SavePack(ctx, p); err != nil {
				log.Printf("⚠️ 写入卡包缓存 %s 失败: %v", id, err)
			}
		}
		r.remember(p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*card.Pack), nil
}

func (r *Remote) fromMemory(id string) *card.Pack {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, e := range r.memory {
		if now.Sub(e.lastAccess) > r.opts.MemoryTTL {
			delete(r.memory, key)
		}
	}

	e, ok := r.memory[id]
	if !ok {
		return nil
	}
	e.lastAccess = now
	return e.pack
}

func (r *Remote) remember(p *card.Pack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[p.ID] = &memoryEntry{pack: p, lastAccess: r.now()}
}

type remoteDeck struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type remoteCard struct {
	Text []string `json:"text"`
}

type remoteCards struct {
	Calls     []remoteCard `json:"calls"`
	Responses []remoteCard `json:"responses"`
}

func (r *Remote) fetch(ctx context.Context, id string) (*card.Pack, error) {
	if r.opts.BaseURL == "" {
		return nil, apperrors.ErrPackNotFound
	}

	var deck remoteDeck
	if err := r.getJSON(ctx, "/decks/"+id, &deck); err != nil {
		return nil, err
	}
	var cards remoteCards
	if err := r.getJSON(ctx, "/decks/"+id+"/cards", &cards); err != nil {
		return nil, err
	}

	p := &card.Pack{
		ID:        id,
		Name:      deck.Name,
		Prompts:   make([]card.PromptCard, 0, len(cards.Calls)),
		Responses: make([]string, 0, len(cards.Responses)),
		StoredAt:  r.now().UnixMilli(),
	}
	for _, c := range cards.Calls {
		p.Prompts = append(p.Prompts, card.PromptCard{
			Content: strings.Join(c.Text, "_"),
			Pick:    len(c.Text) - 1,
			Draw:    max(len(c.Text)-2, 0),
		})
	}
	for _, c := range cards.Responses {
		if len(c.Text) == 0 {
			continue
		}
		p.Responses = append(p.Responses, card.NormalizeResponse(c.Text[0]))
	}

	log.Printf("📦 已拉取远程卡包 %s (%s): %d 黑 / %d 白", id, p.Name, len(p.Prompts), len(p.Responses))
	return p, nil
}

func (r *Remote) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(r.opts.BaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("请求远程卡包失败: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.ErrPackNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("远程卡包返回状态码 %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析远程卡包失败: %w", err)
	}
	return nil
}
