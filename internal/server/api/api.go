package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/game/engine"
	"github.com/palemoky/bad-cards/internal/game/pack"
	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/identity"
	"github.com/palemoky/bad-cards/internal/protocol"
	"github.com/palemoky/bad-cards/internal/server/storage"
)

// maxBodySize 动作请求体上限
const maxBodySize = 64 << 10

// Cards 卡包与卡牌内容查询
type Cards interface {
	Summaries(typeID string) []pack.Summary
	PromptCard(ctx context.Context, ref card.Ref) (card.PromptCard, error)
	ResponseCard(ctx context.Context, ref card.Ref) (string, error)
}

// Leaderboard 战绩查询
type Leaderboard interface {
	GetLeaderboard(ctx context.Context, limit int, weekly bool) ([]storage.LeaderboardEntry, error)
	GetPlayerStats(ctx context.Context, guid string) (*storage.PlayerStats, error)
}

// Registrar 为新玩家分配身份
type Registrar interface {
	Register() (identity.Player, error)
}

// Deps API 依赖
type Deps struct {
	Engine       *engine.Engine
	Cards        Cards
	Leaderboard  Leaderboard // 可为 nil
	Registrar    Registrar
	BuildVersion int
	PublicURL    string // 邀请链接前缀，为空时按请求推导
}

// API 动作接口：每个引擎操作一个 POST，另有若干只读查询
type API struct {
	deps Deps
}

// New 创建 API
func New(deps Deps) *API {
	if deps.Registrar == nil {
		deps.Registrar = identity.TrustAll{}
	}
	return &API{deps: deps}
}

// Handler 返回挂载了全部路由的 http.Handler
func (a *API) Handler() http.Handler {
	r := httprouter.New()

	r.POST("/api/user/register", a.handleRegister)

	r.POST("/api/game/create", a.handleCreate)
	r.POST("/api/game/join", a.action(a.join))
	r.POST("/api/game/kick", a.action(a.kick))
	r.POST("/api/game/start", a.action(a.start))
	r.POST("/api/game/update-settings", a.action(a.updateSettings))
	r.POST("/api/game/play-cards", a.action(a.playCards))
	r.POST("/api/game/forfeit", a.action(a.forfeit))
	r.POST("/api/game/reveal-next", a.action(a.revealNext))
	r.POST("/api/game/skip-prompt", a.action(a.skipPrompt))
	r.POST("/api/game/start-round", a.action(a.startRound))
	r.POST("/api/game/select-winner", a.action(a.selectWinner))
	r.POST("/api/game/next-round", a.action(a.nextRound))
	r.POST("/api/game/restart", a.action(a.restart))
	r.POST("/api/game/add-bot", a.action(a.addBot))

	r.GET("/api/game/get/:gameId", a.handleGet)
	r.GET("/api/game/invite-qr/:gameId", a.handleInviteQR)
	r.GET("/api/games/public", a.handlePublic)
	r.GET("/api/packs", a.handlePacks)
	r.GET("/api/card/prompt/:packId/:cardIndex", a.handlePromptCard)
	r.GET("/api/card/response/:packId/:cardIndex", a.handleResponseCard)
	r.GET("/api/leaderboard", a.handleLeaderboard)
	r.GET("/api/player/stats/:guid", a.handlePlayerStats)

	r.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		log.WithField("path", r.URL.Path).Errorf("💥 处理请求时发生 panic: %v", v)
		a.writeError(w, errors.New("internal error"))
	}
	return r
}

// request 动作请求体，各操作只读取自己需要的字段
type request struct {
	GameID     string        `json:"gameId"`
	PlayerGuid string        `json:"playerGuid"`
	Token      string        `json:"token"`
	Nickname   string        `json:"nickname"`
	Spectate   bool          `json:"isSpectating"`
	Password   string        `json:"password"`
	TargetGuid string        `json:"targetGuid"`
	WinnerGuid string        `json:"winnerGuid"`
	Cards      []card.Ref    `json:"cards"`
	Settings   session.Patch `json:"settings"`
}

// player 请求方身份，令牌也可以放在 Authorization: Bearer 头中
func (req *request) player(r *http.Request) identity.Player {
	token := req.Token
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return identity.Player{Guid: req.PlayerGuid, Token: token}
}

type actionFunc func(ctx context.Context, req *request, actor identity.Player) (*session.Session, error)

// action 解析请求体，执行引擎操作并返回更新后的文档
func (a *API) action(fn actionFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		req, err := decodeRequest(w, r)
		if err != nil {
			a.writeError(w, err)
			return
		}
		if req.GameID == "" {
			a.writeError(w, apperrors.ErrGameNotFound)
			return
		}

		doc, err := fn(r.Context(), req, req.player(r))
		if err != nil {
			a.writeError(w, err)
			return
		}
		a.writeResult(w, doc.Public())
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*request, error) {
	var req request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil {
		return nil, apperrors.Newf(protocol.ErrCodeInvalidMsg, "无效的请求: %v", err)
	}
	return &req, nil
}

// statusOf 按错误分类映射 HTTP 状态码
func statusOf(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindAuthorization:
		return http.StatusForbidden
	case apperrors.KindIdentity:
		return http.StatusUnauthorized
	case apperrors.KindCapacity, apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeResult(w http.ResponseWriter, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.write(w, http.StatusOK, protocol.Response{BuildVersion: a.deps.BuildVersion, Result: raw})
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	payload := &protocol.ErrorPayload{Code: protocol.ErrCodeUnknown, Message: protocol.ErrorText(protocol.ErrCodeUnknown)}

	var ge *apperrors.GameError
	if errors.As(err, &ge) {
		payload = &protocol.ErrorPayload{Code: ge.Code, Message: ge.Message}
	}
	if status == http.StatusInternalServerError {
		log.Errorf("❌ 请求处理失败: %v", err)
	}
	a.write(w, status, protocol.Response{BuildVersion: a.deps.BuildVersion, Error: payload})
}

func (a *API) write(w http.ResponseWriter, status int, resp protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warnf("写入响应失败: %v", err)
	}
}
