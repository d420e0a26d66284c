package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/bad-cards/internal/game/session"
)

func finishedGame(winner string) *session.Session {
	doc := session.New("g", &session.Player{Guid: "alice", Nickname: "Alice"}, time.Now())
	doc.Players.Set(&session.Player{Guid: "bob", Nickname: "Bob"})
	doc.Players.Set(&session.Player{Guid: "bot", Nickname: "Robo", IsRandom: true})
	doc.Settings.RoundsToWin = 2
	p, _ := doc.Players.Get(winner)
	p.Wins = 2
	return doc
}

func TestLeaderboard_RecordGameResult(t *testing.T) {
	t.Parallel()

	client, _ := newTestRedis(t)
	lm := NewLeaderboardManager(client)
	ctx := context.Background()

	require.NoError(t, lm.RecordGameResult(ctx, finishedGame("bob")))
	require.NoError(t, lm.RecordGameResult(ctx, finishedGame("bob")))
	require.NoError(t, lm.RecordGameResult(ctx, finishedGame("alice")))

	bob, err := lm.GetPlayerStats(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, bob)
	assert.Equal(t, 3, bob.GamesPlayed)
	assert.Equal(t, 2, bob.GamesWon)
	assert.Equal(t, 4, bob.RoundsWon)
	assert.Equal(t, -1, bob.CurrentStreak)
	assert.Equal(t, 2, bob.MaxWinStreak)

	bot, err := lm.GetPlayerStats(ctx, "bot")
	require.NoError(t, err)
	assert.Nil(t, bot, "synthetic players are not ranked")

	board, err := lm.GetLeaderboard(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "bob", board[0].PlayerGuid)
	assert.Equal(t, 2, board[0].GamesWon)
	assert.InDelta(t, 66.6, board[0].WinRate, 0.1)

	weekly, err := lm.GetLeaderboard(ctx, 10, true)
	require.NoError(t, err)
	require.Len(t, weekly, 2)
	assert.Equal(t, "bob", weekly[0].PlayerGuid)
}

func TestLeaderboard_IgnoresUnfinishedGame(t *testing.T) {
	t.Parallel()

	client, _ := newTestRedis(t)
	lm := NewLeaderboardManager(client)

	doc := session.New("g", &session.Player{Guid: "alice"}, time.Now())
	require.NoError(t, lm.RecordGameResult(context.Background(), doc))

	stats, err := lm.GetPlayerStats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, stats)
}
