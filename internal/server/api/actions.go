package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/game/engine"
	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/identity"
)

// handleRegister 分配 guid（配置了密钥时同时签发令牌）
func (a *API) handleRegister(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	p, err := a.deps.Registrar.Register()
	if err != nil {
		a.writeError(w, err)
		return
	}
	log.Printf("🆕 新玩家 %s", p.Guid)
	a.writeResult(w, p)
}

// handleCreate 创建游戏，请求中不需要 gameId
func (a *API) handleCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, err := decodeRequest(w, r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	doc, err := a.deps.Engine.CreateSession(r.Context(), req.player(r), req.Nickname)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResult(w, doc.Public())
}

func (a *API) join(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.JoinSession(ctx, actor, req.GameID, engine.JoinOptions{
		Nickname: req.Nickname,
		Spectate: req.Spectate,
		Password: req.Password,
	})
}

func (a *API) kick(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.KickPlayer(ctx, req.GameID, req.TargetGuid, actor)
}

func (a *API) start(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.StartSession(ctx, req.GameID, actor, req.Settings)
}

func (a *API) updateSettings(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.UpdateSettings(ctx, req.GameID, actor, req.Settings)
}

func (a *API) playCards(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.PlayCards(ctx, req.GameID, actor, req.Cards)
}

func (a *API) forfeit(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.Forfeit(ctx, req.GameID, actor, req.Cards)
}

func (a *API) revealNext(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.RevealNext(ctx, req.GameID, actor)
}

func (a *API) skipPrompt(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.SkipPromptCard(ctx, req.GameID, actor)
}

func (a *API) startRound(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.StartRound(ctx, req.GameID, actor)
}

func (a *API) selectWinner(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.SelectWinner(ctx, req.GameID, actor, req.WinnerGuid)
}

func (a *API) nextRound(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.AdvanceRound(ctx, req.GameID, actor)
}

func (a *API) restart(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.RestartSession(ctx, req.GameID, actor)
}

func (a *API) addBot(ctx context.Context, req *request, actor identity.Player) (*session.Session, error) {
	return a.deps.Engine.AddSyntheticPlayer(ctx, req.GameID, actor)
}
