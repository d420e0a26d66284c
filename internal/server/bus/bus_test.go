package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/protocol/codec"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func startBus(t *testing.T, b *RedisBus) <-chan *session.Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := make(chan *session.Session, 8)
	go func() {
		_ = b.Run(ctx, func(_ context.Context, doc *session.Session) { got <- doc })
	}()

	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not subscribe in time")
	}
	return got
}

func TestRedisBus_DeliversToEveryProcess(t *testing.T) {
	t.Parallel()

	for _, encoding := range []string{codec.EncodingJSON, codec.EncodingProtobuf} {
		t.Run(encoding, func(t *testing.T) {
			client := newTestClient(t)
			c, err := codec.New(encoding)
			require.NoError(t, err)

			a := NewRedisBus(client, "", c)
			b := NewRedisBus(client, "", c)
			gotA := startBus(t, a)
			gotB := startBus(t, b)

			doc := session.New("shy-moose-07", &session.Player{Guid: "alice"}, time.Now())
			doc.Players.Set(&session.Player{Guid: "bob"})
			require.NoError(t, a.Publish(context.Background(), doc))

			for name, ch := range map[string]<-chan *session.Session{"publisher": gotA, "peer": gotB} {
				select {
				case d := <-ch:
					assert.Equal(t, "shy-moose-07", d.ID, name)
					assert.Equal(t, []string{"alice", "bob"}, d.Players.Keys(), name)
				case <-time.After(2 * time.Second):
					t.Fatalf("%s did not receive the document", name)
				}
			}
		})
	}
}

func TestRedisBus_SkipsGarbage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	c, _ := codec.New(codec.EncodingJSON)
	b := NewRedisBus(client, "test-games", c)
	got := startBus(t, b)

	require.NoError(t, client.Publish(context.Background(), "test-games", "not json").Err())
	doc := session.New("after-garbage", &session.Player{Guid: "x"}, time.Now())
	require.NoError(t, b.Publish(context.Background(), doc))

	select {
	case d := <-got:
		assert.Equal(t, "after-garbage", d.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid message after garbage was not delivered")
	}
}

func TestRedisBus_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	c, _ := codec.New(codec.EncodingJSON)
	b := NewRedisBus(client, "", c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, func(context.Context, *session.Session) {}) }()
	<-b.Ready()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
