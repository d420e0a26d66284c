package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/game/deck"
	"github.com/palemoky/bad-cards/internal/game/engine"
	"github.com/palemoky/bad-cards/internal/game/pack"
	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/identity"
	"github.com/palemoky/bad-cards/internal/protocol"
	"github.com/palemoky/bad-cards/internal/server/storage"
	"github.com/palemoky/bad-cards/internal/testutil"
)

const buildVersion = 7

func catalogFS(t *testing.T) fstest.MapFS {
	t.Helper()
	type prompt struct {
		Content string `json:"content"`
		Pick    int    `json:"pick"`
	}
	file := struct {
		Pack      map[string]string `json:"pack"`
		Prompts   []prompt          `json:"black"`
		Responses []string          `json:"white"`
	}{Pack: map[string]string{"id": "base", "name": "Base Set"}}
	for i := range 10 {
		file.Prompts = append(file.Prompts, prompt{Content: fmt.Sprintf("Prompt %d _", i), Pick: 1})
	}
	for i := range 60 {
		file.Responses = append(file.Responses, fmt.Sprintf("Answer %d.", i))
	}
	data, err := json.Marshal(file)
	require.NoError(t, err)

	return fstest.MapFS{
		"types.json":               {Data: []byte(`{"types":[{"id":"official","name":"Official","packs":["base"]}]}`)},
		"official/packs/base.json": {Data: data},
	}
}

type fixture struct {
	srv         *httptest.Server
	engine      *engine.Engine
	cards       *testutil.MockCards
	leaderboard *testutil.MockLeaderboard
}

func newFixture(t *testing.T, verifier identity.Verifier, registrar Registrar) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	catalog, err := pack.LoadCatalog(catalogFS(t))
	require.NoError(t, err)

	opts := engine.DefaultOptions()
	opts.AutoAdvanceDelay = time.Hour
	eng := engine.New(engine.Deps{
		Repo:      storage.NewRedisStore(client),
		Scheduler: storage.NewRedisScheduler(client),
		Packs:     pack.NewPool(catalog, nil),
		Verifier:  verifier,
		Allocator: deck.NewSeeded(3),
	}, opts)
	t.Cleanup(eng.Stop)

	f := &fixture{
		engine:      eng,
		cards:       new(testutil.MockCards),
		leaderboard: new(testutil.MockLeaderboard),
	}
	a := New(Deps{
		Engine:       eng,
		Cards:        f.cards,
		Leaderboard:  f.leaderboard,
		Registrar:    registrar,
		BuildVersion: buildVersion,
		PublicURL:    "https://cards.example.com/",
	})
	f.srv = httptest.NewServer(a.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) (int, protocol.Response) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return decodeResponse(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (int, protocol.Response) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	return decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) (int, protocol.Response) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out protocol.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func gameOf(t *testing.T, resp protocol.Response) *session.Session {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	doc, err := session.Decode(resp.Result)
	require.NoError(t, err)
	return doc
}

func TestRegister(t *testing.T) {
	t.Run("guid only without secret", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		status, resp := f.post(t, "/api/user/register", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, buildVersion, resp.BuildVersion)

		var p identity.Player
		require.NoError(t, json.Unmarshal(resp.Result, &p))
		assert.NotEmpty(t, p.Guid)
		assert.Empty(t, p.Token)
	})

	t.Run("signed token", func(t *testing.T) {
		signer := identity.NewSigner("secret", time.Hour)
		f := newFixture(t, signer, signer)
		_, resp := f.post(t, "/api/user/register", nil)

		var p identity.Player
		require.NoError(t, json.Unmarshal(resp.Result, &p))
		assert.NoError(t, signer.Verify(p))
	})
}

func TestGameFlow(t *testing.T) {
	f := newFixture(t, nil, nil)

	status, resp := f.post(t, "/api/game/create", map[string]any{"playerGuid": "alice", "nickname": "Alice"})
	require.Equal(t, http.StatusOK, status)
	doc := gameOf(t, resp)
	assert.Equal(t, "alice", doc.OwnerGuid)
	id := doc.ID

	status, resp = f.post(t, "/api/game/join", map[string]any{"gameId": id, "playerGuid": "bob", "nickname": "Bob"})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, gameOf(t, resp).Players.Has("bob"))

	status, resp = f.post(t, "/api/game/start", map[string]any{
		"gameId": id, "playerGuid": "alice",
		"settings": map[string]any{"includedPacks": []string{"base"}, "roundsToWin": 1},
	})
	require.Equal(t, http.StatusOK, status)
	doc = gameOf(t, resp)
	assert.True(t, doc.Started)
	assert.Equal(t, "alice", doc.JudgeGuid)

	status, _ = f.post(t, "/api/game/start-round", map[string]any{"gameId": id, "playerGuid": "alice"})
	require.Equal(t, http.StatusOK, status)

	bob, _ := doc.Players.Get("bob")
	status, resp = f.post(t, "/api/game/play-cards", map[string]any{"gameId": id, "playerGuid": "bob", "cards": bob.Hand[:1]})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, gameOf(t, resp).SubmissionCount())

	status, _ = f.post(t, "/api/game/reveal-next", map[string]any{"gameId": id, "playerGuid": "alice"})
	require.Equal(t, http.StatusOK, status)

	status, resp = f.post(t, "/api/game/select-winner", map[string]any{"gameId": id, "playerGuid": "alice", "winnerGuid": "bob"})
	require.Equal(t, http.StatusOK, status)
	doc = gameOf(t, resp)
	assert.True(t, doc.GameOver())

	// 游戏结束后不能进入下一轮
	status, resp = f.post(t, "/api/game/next-round", map[string]any{"gameId": id, "playerGuid": "alice"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.ErrGameOver.Code, resp.Error.Code)

	status, resp = f.post(t, "/api/game/restart", map[string]any{"gameId": id, "playerGuid": "alice"})
	require.Equal(t, http.StatusOK, status)
	assert.False(t, gameOf(t, resp).Started)

	status, resp = f.get(t, "/api/game/get/"+id)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, gameOf(t, resp).ID)
}

func TestErrorStatusMapping(t *testing.T) {
	signer := identity.NewSigner("secret", time.Hour)
	f := newFixture(t, signer, signer)

	aliceToken, err := signer.Issue("alice")
	require.NoError(t, err)
	bobToken, err := signer.Issue("bob")
	require.NoError(t, err)

	_, resp := f.post(t, "/api/game/create", map[string]any{"playerGuid": "alice", "token": aliceToken, "nickname": "Alice"})
	id := gameOf(t, resp).ID

	cases := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"not found", "/api/game/join", map[string]any{"gameId": "missing", "playerGuid": "bob", "token": bobToken, "nickname": "Bob"}, http.StatusNotFound},
		{"missing game id", "/api/game/kick", map[string]any{"playerGuid": "alice", "token": aliceToken}, http.StatusNotFound},
		{"identity", "/api/game/join", map[string]any{"gameId": id, "playerGuid": "bob", "token": aliceToken, "nickname": "Bob"}, http.StatusUnauthorized},
		{"bad token", "/api/game/start", map[string]any{"gameId": id, "playerGuid": "alice", "token": "bad"}, http.StatusUnauthorized},
		{"validation", "/api/game/join", map[string]any{"gameId": id, "playerGuid": "bob", "token": bobToken}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := f.post(t, tc.path, tc.body)
			assert.Equal(t, tc.status, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, buildVersion, resp.BuildVersion)
		})
	}

	t.Run("not owner", func(t *testing.T) {
		_, resp := f.post(t, "/api/game/join", map[string]any{"gameId": id, "playerGuid": "bob", "token": bobToken, "nickname": "Bob"})
		require.Nil(t, resp.Error)
		status, resp := f.post(t, "/api/game/start", map[string]any{"gameId": id, "playerGuid": "bob", "token": bobToken})
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, apperrors.ErrNotOwner.Code, resp.Error.Code)
	})

	t.Run("capacity", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/game/update-settings",
			strings.NewReader(fmt.Sprintf(`{"gameId":%q,"playerGuid":"alice","settings":{"playerLimit":2}}`, id)))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+aliceToken)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		status, _ := decodeResponse(t, resp)
		require.Equal(t, http.StatusOK, status)

		carolToken, err := signer.Issue("carol")
		require.NoError(t, err)
		status, body := f.post(t, "/api/game/join", map[string]any{"gameId": id, "playerGuid": "carol", "token": carolToken, "nickname": "Carol"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, apperrors.ErrGameFull.Code, body.Error.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(f.srv.URL+"/api/game/join", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		status, body := decodeResponse(t, resp)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, protocol.ErrCodeInvalidMsg, body.Error.Code)
	})
}

func TestPasswordHashNeverLeaves(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, resp := f.post(t, "/api/game/create", map[string]any{"playerGuid": "alice", "nickname": "Alice"})
	id := gameOf(t, resp).ID

	_, resp = f.post(t, "/api/game/update-settings", map[string]any{
		"gameId": id, "playerGuid": "alice", "settings": map[string]any{"password": "hunter2"},
	})
	doc := gameOf(t, resp)
	assert.True(t, doc.Settings.HasPassword)
	assert.NotContains(t, string(resp.Result), "passwordHash")

	status, resp := f.post(t, "/api/game/join", map[string]any{"gameId": id, "playerGuid": "bob", "nickname": "Bob", "password": "nope"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperrors.ErrWrongPassword.Code, resp.Error.Code)

	status, _ = f.post(t, "/api/game/join", map[string]any{"gameId": id, "playerGuid": "bob", "nickname": "Bob", "password": "hunter2"})
	assert.Equal(t, http.StatusOK, status)
}

func TestBotsAndKick(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, resp := f.post(t, "/api/game/create", map[string]any{"playerGuid": "alice", "nickname": "Alice"})
	id := gameOf(t, resp).ID

	status, resp := f.post(t, "/api/game/add-bot", map[string]any{"gameId": id, "playerGuid": "alice"})
	require.Equal(t, http.StatusOK, status)
	doc := gameOf(t, resp)
	require.Equal(t, 1, doc.SyntheticCount())

	var bot string
	for _, p := range doc.Players.Values() {
		if p.IsRandom {
			bot = p.Guid
		}
	}
	status, resp = f.post(t, "/api/game/kick", map[string]any{"gameId": id, "playerGuid": "alice", "targetGuid": bot})
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, gameOf(t, resp).SyntheticCount())
}

func TestPublicGames(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, resp := f.post(t, "/api/game/create", map[string]any{"playerGuid": "alice", "nickname": "Alice"})
	id := gameOf(t, resp).ID
	_, resp = f.post(t, "/api/game/update-settings", map[string]any{
		"gameId": id, "playerGuid": "alice", "settings": map[string]any{"isPublic": true, "password": "x"},
	})
	require.Nil(t, resp.Error)

	status, resp := f.get(t, "/api/games/public?page=0")
	require.Equal(t, http.StatusOK, status)
	var games []json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Result, &games))
	require.Len(t, games, 1)
	assert.Contains(t, string(games[0]), id)
	assert.NotContains(t, string(games[0]), "passwordHash")
}

func TestInviteQR(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, resp := f.post(t, "/api/game/create", map[string]any{"playerGuid": "alice", "nickname": "Alice"})
	id := gameOf(t, resp).ID

	res, err := http.Get(f.srv.URL + "/api/game/invite-qr/" + id)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	png, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	status, _ := f.get(t, "/api/game/invite-qr/missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestInviteURL(t *testing.T) {
	t.Parallel()

	a := New(Deps{PublicURL: "https://cards.example.com/"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "https://cards.example.com/game/red-fox-01", a.inviteURL(req, "red-fox-01"))

	a = New(Deps{})
	req = httptest.NewRequest(http.MethodGet, "http://cards.local/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://cards.local/game/red-fox-01", a.inviteURL(req, "red-fox-01"))
}

func TestCardQueries(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.cards.On("Summaries", "official").Return([]pack.Summary{{ID: "base", Name: "Base Set"}})
	status, resp := f.get(t, "/api/packs?type=official")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Result), "Base Set")

	ref := card.Ref{PackID: "base", CardIndex: 2}
	f.cards.On("PromptCard", mock.Anything, ref).Return(card.PromptCard{Content: "Why? _", Pick: 1}, nil)
	status, resp = f.get(t, "/api/card/prompt/base/2")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Result), "Why? _")

	missing := card.Ref{PackID: "nope", CardIndex: 0}
	f.cards.On("ResponseCard", mock.Anything, missing).Return("", apperrors.ErrPackNotFound)
	status, _ = f.get(t, "/api/card/response/nope/0")
	assert.Equal(t, http.StatusNotFound, status)

	status, resp = f.get(t, "/api/card/response/base/x")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, protocol.ErrCodeInvalidCards, resp.Error.Code)

	f.cards.AssertExpectations(t)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t, nil, nil)

	entries := []storage.LeaderboardEntry{{Rank: 1, PlayerGuid: "alice", Nickname: "Alice", GamesWon: 3}}
	f.leaderboard.On("GetLeaderboard", mock.Anything, maxLeaderboardLimit, true).Return(entries, nil)
	f.leaderboard.On("GetLeaderboard", mock.Anything, defaultLeaderboard, false).Return(entries, nil)

	status, resp := f.get(t, "/api/leaderboard?limit=1000&weekly=true")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Result), "alice")

	status, _ = f.get(t, "/api/leaderboard")
	assert.Equal(t, http.StatusOK, status)

	f.leaderboard.On("GetPlayerStats", mock.Anything, "alice").Return(&storage.PlayerStats{PlayerGuid: "alice", GamesWon: 3}, nil)
	f.leaderboard.On("GetPlayerStats", mock.Anything, "ghost").Return(nil, nil)
	status, _ = f.get(t, "/api/player/stats/alice")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.get(t, "/api/player/stats/ghost")
	assert.Equal(t, http.StatusNotFound, status)

	f.leaderboard.AssertExpectations(t)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusNotFound, statusOf(apperrors.ErrGameNotFound))
	assert.Equal(t, http.StatusForbidden, statusOf(apperrors.ErrNotJudge))
	assert.Equal(t, http.StatusUnauthorized, statusOf(apperrors.ErrIdentity))
	assert.Equal(t, http.StatusConflict, statusOf(apperrors.ErrTooManyBots))
	assert.Equal(t, http.StatusConflict, statusOf(apperrors.ErrConflict))
	assert.Equal(t, http.StatusBadRequest, statusOf(apperrors.ErrCardsNotInHand))
	assert.Equal(t, http.StatusInternalServerError, statusOf(fmt.Errorf("redis: %w", context.DeadlineExceeded)))
}
