package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/card"
	"github.com/palemoky/bad-cards/internal/protocol"
)

const (
	qrSize              = 320
	defaultLeaderboard  = 10
	maxLeaderboardLimit = 100
)

func (a *API) handleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	doc, err := a.deps.Engine.GetSession(r.Context(), ps.ByName("gameId"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResult(w, doc.Public())
}

// handlePublic 最近活跃的公开游戏，?page= 从 0 开始
func (a *API) handlePublic(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	docs, err := a.deps.Engine.ListPublicSessions(r.Context(), max(page, 0))
	if err != nil {
		a.writeError(w, err)
		return
	}
	for i, doc := range docs {
		docs[i] = doc.Public()
	}
	a.writeResult(w, docs)
}

// handleInviteQR 生成游戏邀请链接的二维码 PNG
func (a *API) handleInviteQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	doc, err := a.deps.Engine.GetSession(r.Context(), ps.ByName("gameId"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	link := doc.Settings.InviteLink
	if link == "" {
		link = a.inviteURL(r, doc.ID)
	}
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		a.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// inviteURL 优先使用配置的公开地址，否则按请求推导（兼容反向代理）
func (a *API) inviteURL(r *http.Request, gameID string) string {
	base := strings.TrimRight(a.deps.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/game/" + url.PathEscape(gameID)
}

// handlePacks 列出静态卡包，?type= 过滤分类
func (a *API) handlePacks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	a.writeResult(w, a.deps.Cards.Summaries(r.URL.Query().Get("type")))
}

func (a *API) handlePromptCard(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ref, err := parseRef(ps)
	if err != nil {
		a.writeError(w, err)
		return
	}
	c, err := a.deps.Cards.PromptCard(r.Context(), ref)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResult(w, c)
}

func (a *API) handleResponseCard(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ref, err := parseRef(ps)
	if err != nil {
		a.writeError(w, err)
		return
	}
	text, err := a.deps.Cards.ResponseCard(r.Context(), ref)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResult(w, map[string]string{"content": text})
}

func parseRef(ps httprouter.Params) (card.Ref, error) {
	idx, err := strconv.Atoi(ps.ByName("cardIndex"))
	if err != nil || idx < 0 {
		return card.Ref{}, apperrors.Newf(protocol.ErrCodeInvalidCards, "无效的卡牌序号: %s", ps.ByName("cardIndex"))
	}
	return card.Ref{PackID: ps.ByName("packId"), CardIndex: idx}, nil
}

// handleLeaderboard 排行榜，?weekly=1 返回本周榜
func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if a.deps.Leaderboard == nil {
		a.writeResult(w, []any{})
		return
	}
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLeaderboard
	}
	weekly, _ := strconv.ParseBool(q.Get("weekly"))

	entries, err := a.deps.Leaderboard.GetLeaderboard(r.Context(), min(limit, maxLeaderboardLimit), weekly)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResult(w, entries)
}

func (a *API) handlePlayerStats(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if a.deps.Leaderboard == nil {
		a.writeError(w, apperrors.Newf(protocol.ErrCodeGameNotFound, "战绩不可用"))
		return
	}
	stats, err := a.deps.Leaderboard.GetPlayerStats(r.Context(), ps.ByName("guid"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if stats == nil {
		a.writeError(w, apperrors.Newf(protocol.ErrCodeGameNotFound, "暂无战绩"))
		return
	}
	a.writeResult(w, stats)
}
