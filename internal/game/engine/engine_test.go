package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/game/deck"
	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/identity"
	"github.com/palemoky/bad-cards/internal/server/storage"
)

var (
	alice = identity.Player{Guid: "alice"}
	bob   = identity.Player{Guid: "bob"}
	carol = identity.Player{Guid: "carol"}
)

type staticPacks map[string]*card.Pack

func (s staticPacks) Packs(_ context.Context, ids []string) (map[string]*card.Pack, error) {
	out := make(map[string]*card.Pack, len(ids))
	for _, id := range ids {
		p, ok := s[id]
		if !ok {
			return nil, apperrors.ErrPackNotFound
		}
		out[id] = p
	}
	return out, nil
}

func makePack(id string, prompts, responses, pick int) *card.Pack {
	p := &card.Pack{ID: id, Name: id}
	for i := range prompts {
		p.Prompts = append(p.Prompts, card.PromptCard{Content: fmt.Sprintf("%s prompt %d _", id, i), Pick: pick})
	}
	for i := range responses {
		p.Responses = append(p.Responses, fmt.Sprintf("%s response %d.", id, i))
	}
	return p
}

func testPacks() staticPacks {
	return staticPacks{
		"base":  makePack("base", 20, 100, 1),
		"tiny":  makePack("tiny", 5, 5, 1),
		"pick2": makePack("pick2", 5, 60, 2),
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	docs []*session.Session
	fail bool
}

func (p *recordingPublisher) Publish(_ context.Context, doc *session.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("bus down")
	}
	p.docs = append(p.docs, doc)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.docs)
}

type recordingRecorder struct {
	games atomic.Int32
}

func (r *recordingRecorder) RecordGameResult(context.Context, *session.Session) error {
	r.games.Add(1)
	return nil
}

type harness struct {
	engine   *Engine
	store    *storage.RedisStore
	sched    *storage.RedisScheduler
	pub      *recordingPublisher
	recorder *recordingRecorder
	client   *redis.Client
	deps     Deps
	opts     Options
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := DefaultOptions()
	opts.AutoAdvanceDelay = time.Hour
	for _, fn := range tweak {
		fn(&opts)
	}

	h := &harness{
		store:    storage.NewRedisStore(client),
		sched:    storage.NewRedisScheduler(client),
		pub:      &recordingPublisher{},
		recorder: &recordingRecorder{},
		client:   client,
		opts:     opts,
	}
	h.deps = Deps{
		Repo:      h.store,
		Scheduler: h.sched,
		Publisher: h.pub,
		Packs:     testPacks(),
		Allocator: deck.NewSeeded(42),
		Recorder:  h.recorder,
	}
	h.engine = New(h.deps, opts)
	t.Cleanup(h.engine.Stop)
	return h
}

// sibling 模拟共享同一存储的另一个进程
func (h *harness) sibling(t *testing.T, tweak func(*Deps)) *Engine {
	t.Helper()
	deps := h.deps
	deps.Allocator = deck.NewSeeded(7)
	if tweak != nil {
		tweak(&deps)
	}
	e := New(deps, h.opts)
	t.Cleanup(e.Stop)
	return e
}

func ints(v int) *int { return &v }

func boolp(v bool) *bool { return &v }

func strp(v string) *string { return &v }

// startedGame 创建 alice 的游戏，加入其他玩家并开始
func (h *harness) startedGame(t *testing.T, packs []string, others ...identity.Player) string {
	t.Helper()
	ctx := context.Background()

	doc, err := h.engine.CreateSession(ctx, alice, "Alice")
	require.NoError(t, err)
	for _, p := range others {
		_, err := h.engine.JoinSession(ctx, p, doc.ID, JoinOptions{Nickname: p.Guid})
		require.NoError(t, err)
	}
	_, err = h.engine.StartSession(ctx, doc.ID, alice, session.Patch{IncludedPacks: packs, RoundsToWin: ints(3)})
	require.NoError(t, err)
	return doc.ID
}

// playRound 裁判开始回合，submitter 出第一张牌，裁判全部揭晓
func (h *harness) playRound(t *testing.T, gameID string, judge identity.Player, submitters ...identity.Player) *session.Session {
	t.Helper()
	ctx := context.Background()

	_, err := h.engine.StartRound(ctx, gameID, judge)
	require.NoError(t, err)

	var doc *session.Session
	for _, p := range submitters {
		cur, err := h.engine.GetSession(ctx, gameID)
		require.NoError(t, err)
		player, _ := cur.Players.Get(p.Guid)
		doc, err = h.engine.PlayCards(ctx, gameID, p, player.Hand[:1])
		require.NoError(t, err)
	}
	for {
		doc, err = h.engine.RevealNext(ctx, gameID, judge)
		require.NoError(t, err)
		if doc.AllRevealed() {
			return doc
		}
	}
}

// assertHandsValid 手牌无重复，且不与已使用集合重叠
func assertHandsValid(t *testing.T, doc *session.Session) {
	t.Helper()
	for _, p := range append(doc.Players.Values(), doc.PendingPlayers.Values()...) {
		assert.False(t, card.HasDuplicates(p.Hand), "hand of %s has duplicates", p.Guid)
		for _, ref := range p.Hand {
			assert.False(t, doc.UsedResponseCards.Has(ref), "card %s of %s is also used", ref, p.Guid)
		}
	}
}

func TestUpdate_PublishesEverySuccessfulWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.engine.CreateSession(ctx, alice, "Alice")
	require.NoError(t, err)
	_, err = h.engine.JoinSession(ctx, bob, doc.ID, JoinOptions{Nickname: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, h.pub.count())

	// 重复加入不写入也不发布
	_, err = h.engine.JoinSession(ctx, bob, doc.ID, JoinOptions{Nickname: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, h.pub.count())

	// 失败的操作不发布
	_, err = h.engine.StartSession(ctx, doc.ID, bob, session.Patch{})
	assert.ErrorIs(t, err, apperrors.ErrNotOwner)
	assert.Equal(t, 2, h.pub.count())
}

func TestUpdate_PublishFailureDoesNotFailWrite(t *testing.T) {
	h := newHarness(t)
	h.pub.fail = true
	ctx := context.Background()

	doc, err := h.engine.CreateSession(ctx, alice, "Alice")
	require.NoError(t, err)
	_, err = h.engine.JoinSession(ctx, bob, doc.ID, JoinOptions{Nickname: "Bob"})
	require.NoError(t, err)

	stored, err := h.store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, stored.Players.Has("bob"))
}

// conflictingRepo 每次写入都报告版本冲突
type conflictingRepo struct {
	Repository
	replaces atomic.Int32
}

func (r *conflictingRepo) Replace(context.Context, *session.Session) error {
	r.replaces.Add(1)
	return apperrors.ErrVersionConflict
}

func TestUpdate_ConflictRetriesAreBounded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc, err := h.engine.CreateSession(ctx, alice, "Alice")
	require.NoError(t, err)

	repo := &conflictingRepo{Repository: h.store}
	e := h.sibling(t, func(d *Deps) { d.Repo = repo })

	_, err = e.JoinSession(ctx, bob, doc.ID, JoinOptions{Nickname: "Bob"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Equal(t, int32(h.opts.ConflictRetries+1), repo.replaces.Load())
}

func TestUpdate_StorageFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc, err := h.engine.CreateSession(ctx, alice, "Alice")
	require.NoError(t, err)

	require.NoError(t, h.client.Close())
	_, err = h.engine.JoinSession(ctx, bob, doc.ID, JoinOptions{Nickname: "Bob"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
}

func TestUpdate_GameNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.JoinSession(context.Background(), bob, "missing", JoinOptions{Nickname: "Bob"})
	assert.ErrorIs(t, err, apperrors.ErrGameNotFound)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = h.engine.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrGameNotFound)
}

func TestIdentityRejectedWithoutStateChange(t *testing.T) {
	h := newHarness(t)
	signer := identity.NewSigner("secret", time.Hour)
	h.deps.Verifier = signer
	e := h.sibling(t, nil)
	ctx := context.Background()

	token, err := signer.Issue("alice")
	require.NoError(t, err)
	owner := identity.Player{Guid: "alice", Token: token}
	doc, err := e.CreateSession(ctx, owner, "Alice")
	require.NoError(t, err)

	// 用 alice 的令牌冒充 bob
	_, err = e.JoinSession(ctx, identity.Player{Guid: "bob", Token: token}, doc.ID, JoinOptions{Nickname: "Bob"})
	assert.Equal(t, apperrors.KindIdentity, apperrors.KindOf(err))

	stored, err := e.GetSession(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Version, stored.Version)
	assert.False(t, stored.Players.Has("bob"))
}

func TestListPublicSessions(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PublicPageSize = 2 })
	ctx := context.Background()

	for i := range 3 {
		owner := identity.Player{Guid: fmt.Sprintf("owner-%d", i)}
		doc, err := h.engine.CreateSession(ctx, owner, "Owner")
		require.NoError(t, err)
		_, err = h.engine.UpdateSettings(ctx, doc.ID, owner, session.Patch{IsPublic: boolp(true)})
		require.NoError(t, err)
	}
	_, err := h.engine.CreateSession(ctx, alice, "Private")
	require.NoError(t, err)

	first, err := h.engine.ListPublicSessions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	second, err := h.engine.ListPublicSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func TestNew_FillsDefaults(t *testing.T) {
	t.Parallel()

	e := New(Deps{}, Options{})
	t.Cleanup(e.Stop)
	def := DefaultOptions()
	assert.Equal(t, def.SweepGrace, e.opts.SweepGrace)
	assert.Equal(t, def.SweepInterval, e.opts.SweepInterval)
	assert.Equal(t, def.AutoAdvanceDelay, e.opts.AutoAdvanceDelay)
	assert.Equal(t, def.HandSize, e.opts.HandSize)
}

func TestKeyedMutex_ReleasesIdleKeys(t *testing.T) {
	t.Parallel()

	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("game")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size())
}
