package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/game/deck"
	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/identity"
)

// Repository 游戏文档存储，Replace 按 version 比较并交换
type Repository interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Create(ctx context.Context, doc *session.Session) (bool, error)
	Replace(ctx context.Context, doc *session.Session) error
	ListPublic(ctx context.Context, since time.Time, offset, limit int) ([]*session.Session, error)
}

// Scheduler 自动推进计划的持久化存储
type Scheduler interface {
	ScheduleAdvance(ctx context.Context, gameID string, at time.Time) error
	CancelAdvance(ctx context.Context, gameID string) error
	ClaimAdvance(ctx context.Context, gameID string) (bool, error)
	DueAdvances(ctx context.Context, before time.Time) ([]string, error)
}

// Publisher 集群总线发布端
type Publisher interface {
	Publish(ctx context.Context, doc *session.Session) error
}

// PackSource 卡包来源
type PackSource interface {
	Packs(ctx context.Context, ids []string) (map[string]*card.Pack, error)
}

// ResultRecorder 记录结束的对局（排行榜）
type ResultRecorder interface {
	RecordGameResult(ctx context.Context, doc *session.Session) error
}

// Deps 引擎依赖
type Deps struct {
	Repo      Repository
	Scheduler Scheduler
	Publisher Publisher
	Packs     PackSource
	Verifier  identity.Verifier
	Allocator *deck.Allocator
	Recorder  ResultRecorder  // 可选
	Now       func() time.Time // 可选，测试注入
}

// Options 引擎参数
type Options struct {
	HandSize            int
	MaxPlayerLimit      int
	MaxSyntheticPlayers int
	AutoAdvanceDelay    time.Duration
	PublicWindow        time.Duration
	PublicPageSize      int
	ConflictRetries     int
	SweepInterval       time.Duration
	SweepGrace          time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		HandSize:            deck.BaseHandSize,
		MaxPlayerLimit:      session.DefaultPlayerLimit,
		MaxSyntheticPlayers: 10,
		AutoAdvanceDelay:    10 * time.Second,
		PublicWindow:        15 * time.Minute,
		PublicPageSize:      20,
		ConflictRetries:     5,
		SweepInterval:       5 * time.Second,
		SweepGrace:          5 * time.Second,
	}
}

// Engine 会话引擎：游戏文档的唯一修改入口
type Engine struct {
	repo      Repository
	scheduler Scheduler
	publisher Publisher
	packs     PackSource
	verifier  identity.Verifier
	alloc     *deck.Allocator
	recorder  ResultRecorder
	now       func() time.Time
	opts      Options

	locks *keyedMutex

	timersMu sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool
}

// New 创建引擎
func New(deps Deps, opts Options) *Engine {
	def := DefaultOptions()
	if opts.HandSize <= 0 {
		opts.HandSize = def.HandSize
	}
	if opts.MaxPlayerLimit <= 0 {
		opts.MaxPlayerLimit = def.MaxPlayerLimit
	}
	if opts.AutoAdvanceDelay <= 0 {
		opts.AutoAdvanceDelay = def.AutoAdvanceDelay
	}
	if opts.PublicWindow <= 0 {
		opts.PublicWindow = def.PublicWindow
	}
	if opts.PublicPageSize <= 0 {
		opts.PublicPageSize = def.PublicPageSize
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.SweepGrace <= 0 {
		opts.SweepGrace = def.SweepGrace
	}

	e := &Engine{
		repo:      deps.Repo,
		scheduler: deps.Scheduler,
		publisher: deps.Publisher,
		packs:     deps.Packs,
		verifier:  deps.Verifier,
		alloc:     deps.Allocator,
		recorder:  deps.Recorder,
		now:       deps.Now,
		opts:      opts,
		locks:     newKeyedMutex(),
		timers:    make(map[string]*time.Timer),
	}
	if e.publisher == nil {
		e.publisher = nopPublisher{}
	}
	if e.verifier == nil {
		e.verifier = identity.TrustAll{}
	}
	if e.alloc == nil {
		e.alloc = deck.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *session.Session) error { return nil }

// errNoChange 表示操作无需写入，直接返回当前文档
var errNoChange = errors.New("no change")

// update 读取-修改-写入，同进程内按游戏串行，跨进程靠版本号比较并交换
//
// fn 可能被执行多次，每次拿到的都是刚读出的新文档。写入成功后发布到总线。
func (e *Engine) update(ctx context.Context, id string, fn func(doc *session.Session) error) (*session.Session, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	for attempt := 0; ; attempt++ {
		doc, err := e.repo.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("读取游戏 %s 失败: %w", id, err)
		}
		if doc == nil {
			return nil, apperrors.ErrGameNotFound
		}

		if err := fn(doc); err != nil {
			if errors.Is(err, errNoChange) {
				return doc, nil
			}
			return nil, err
		}

		doc.DateUpdated = e.now()
		err = e.repo.Replace(ctx, doc)
		if err == nil {
			e.publish(ctx, doc)
			return doc, nil
		}
		if !errors.Is(err, apperrors.ErrVersionConflict) {
			var gameErr *apperrors.GameError
			if errors.As(err, &gameErr) {
				return nil, err
			}
			return nil, fmt.Errorf("写入游戏 %s 失败: %w", id, err)
		}
		if attempt >= e.opts.ConflictRetries {
			log.WithField("game", id).Warnf("⚔️ 版本冲突重试 %d 次仍失败", attempt)
			return nil, apperrors.ErrConflict
		}
		log.WithField("game", id).Debugf("⚔️ 版本冲突，第 %d 次重试", attempt+1)
	}
}

// publish 发布失败只记录日志，写入本身已经成功
func (e *Engine) publish(ctx context.Context, doc *session.Session) {
	if err := e.publisher.Publish(ctx, doc); err != nil {
		log.WithField("game", doc.ID).Warnf("📡 发布游戏更新失败: %v", err)
	}
}

func (e *Engine) verify(actor identity.Player) error {
	return e.verifier.Verify(actor)
}

// GetSession 读取游戏
func (e *Engine) GetSession(ctx context.Context, gameID string) (*session.Session, error) {
	doc, err := e.repo.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("读取游戏 %s 失败: %w", gameID, err)
	}
	if doc == nil {
		return nil, apperrors.ErrGameNotFound
	}
	return doc, nil
}

// ListPublicSessions 最近更新过的公开游戏，page 从 0 开始
func (e *Engine) ListPublicSessions(ctx context.Context, page int) ([]*session.Session, error) {
	page = max(page, 0)
	since := e.now().Add(-e.opts.PublicWindow)
	return e.repo.ListPublic(ctx, since, page*e.opts.PublicPageSize, e.opts.PublicPageSize)
}
