package ws

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/lastword/internal/game"
)

type ConnCtx struct {
	Code         string
	ContestantID string
	Role         string // "host" | "player"
}

// Server is the interactive socket.io surface. It also receives session
// events and pushes fresh state to everyone in the session's room.
type Server struct {
	RM       *game.Registry
	defaults game.SessionConfig

	// operator credentials required by game:create; empty means open
	opUser, opPass string

	mu      sync.RWMutex
	members map[string]map[string]socketio.Conn // sessionCode -> socketID -> Conn
}

func New(rm *game.Registry, defaults game.SessionConfig) *Server {
	return &Server{RM: rm, defaults: defaults, members: make(map[string]map[string]socketio.Conn)}
}

// SetOperator requires game:create to carry these credentials, matching the
// BasicAuth guard on the REST operator routes.
func (srv *Server) SetOperator(user, pass string) {
	srv.opUser, srv.opPass = user, pass
}

type createPayload struct {
	Config game.SessionConfig `json:"config"`
	Auth   struct {
		User     string `json:"user"`
		Password string `json:"password"`
	} `json:"auth"`
}

type resumePayload struct {
	SessionCode  string `json:"sessionCode"`
	Role         string `json:"role"`
	Token        string `json:"token"`
	ContestantID string `json:"contestantId"`
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "game:create", srv.create)

	io.OnEvent("/", "game:join", func(s socketio.Conn, payload struct {
		SessionCode string            `json:"sessionCode"`
		Name        string            `json:"name"`
		Source      game.AnswerSource `json:"source"`
	}) map[string]any {
		sess, err := srv.RM.Get(payload.SessionCode)
		if err != nil {
			return srv.err(s, err)
		}
		c, err := sess.Join(payload.Name, payload.Source)
		if err != nil {
			return srv.err(s, err)
		}
		srv.attach(s, &ConnCtx{Code: sess.Code, Role: "player", ContestantID: c.ID})
		log.Info().Str("sid", s.ID()).Str("code", sess.Code).Str("contestant_id", c.ID).Msg("game:join")
		srv.emitStateToConn(s, sess.State())
		return map[string]any{"contestantId": c.ID}
	})

	// game:resume (reconnection)
	io.OnEvent("/", "game:resume", srv.resume)

	io.OnEvent("/", "game:start", func(s socketio.Conn) map[string]any {
		sess, errOut := srv.hostSession(s)
		if sess == nil {
			return errOut
		}
		if err := sess.Start(); err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "game:openTurn", func(s socketio.Conn) map[string]any {
		sess, errOut := srv.hostSession(s)
		if sess == nil {
			return errOut
		}
		st, err := sess.OpenTurn(context.Background())
		if err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("code", sess.Code).Int("turn", st.Turn).Msg("game:openTurn")
		// kick off automated answers in background (best-effort)
		go func() {
			if _, err := sess.CollectAutomatedAnswers(context.Background()); err != nil {
				log.Warn().Err(err).Str("code", sess.Code).Msg("automated answers failed")
			}
		}()
		return map[string]any{"turn": st.Turn, "question": st.CurrentQuestion}
	})

	io.OnEvent("/", "game:submit", func(s socketio.Conn, payload struct {
		Text string `json:"text"`
	}) map[string]any {
		ctx := connCtx(s)
		sess, err := srv.RM.Get(ctx.Code)
		if err != nil {
			return srv.err(s, err)
		}
		if ctx.Role != "player" {
			return srv.errCode(s, "unauthorized", "only contestants can submit answers")
		}
		if err := sess.SubmitAnswer(ctx.ContestantID, payload.Text); err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "game:close", func(s socketio.Conn) map[string]any {
		sess, errOut := srv.hostSession(s)
		if sess == nil {
			return errOut
		}
		res, err := sess.CloseAndAdjudicate(context.Background())
		if err != nil {
			out := srv.err(s, err)
			if res != nil {
				out["result"] = res
			}
			return out
		}
		return map[string]any{"closed": res != nil, "result": res}
	})

	io.OnEvent("/", "game:abort", func(s socketio.Conn, payload struct {
		Reason string `json:"reason"`
	}) map[string]any {
		sess, errOut := srv.hostSession(s)
		if sess == nil {
			return errOut
		}
		reason := payload.Reason
		if reason == "" {
			reason = "aborted by host"
		}
		if err := sess.Abort(reason); err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"ok": true}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.Code != "" {
			srv.detach(ctx.Code, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) create(s socketio.Conn, payload createPayload) map[string]any {
	if !srv.operatorOK(payload.Auth.User, payload.Auth.Password) {
		return srv.errCode(s, "unauthorized", "operator credentials required")
	}
	cfg := payload.Config
	if cfg.MinContestants == 0 {
		cfg.MinContestants = srv.defaults.MinContestants
	}
	if cfg.AnswerWindowSeconds == 0 {
		cfg.AnswerWindowSeconds = srv.defaults.AnswerWindowSeconds
	}
	sess := srv.RM.Create(cfg)
	srv.attach(s, &ConnCtx{Code: sess.Code, Role: "host"})
	log.Info().Str("sid", s.ID()).Str("code", sess.Code).Msg("game:create")
	srv.emitState(sess.State())
	return map[string]any{"sessionCode": sess.Code, "hostToken": sess.HostToken()}
}

func (srv *Server) resume(s socketio.Conn, payload resumePayload) map[string]any {
	sess, err := srv.RM.Get(payload.SessionCode)
	if err != nil {
		return srv.err(s, err)
	}
	var ctx *ConnCtx
	if payload.Role == "host" {
		if !sess.CheckHostToken(payload.Token) {
			log.Warn().Str("sid", s.ID()).Str("code", sess.Code).Msg("game:resume with invalid host token")
			return srv.errCode(s, "unauthorized", "invalid host token")
		}
		ctx = &ConnCtx{Code: sess.Code, Role: "host"}
	} else {
		if _, err := sess.Contestant(payload.ContestantID); err != nil {
			return srv.err(s, err)
		}
		ctx = &ConnCtx{Code: sess.Code, Role: "player", ContestantID: payload.ContestantID}
	}
	srv.attach(s, ctx)
	log.Info().Str("sid", s.ID()).Str("code", sess.Code).Str("role", ctx.Role).Msg("game:resume")
	srv.emitStateToConn(s, sess.State())
	return map[string]any{"ok": true}
}

func (srv *Server) operatorOK(user, pass string) bool {
	if srv.opUser == "" && srv.opPass == "" {
		return true
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(srv.opUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(srv.opPass)) == 1
	return userOK && passOK
}

// Publish pushes session events to the session's sockets.
func (srv *Server) Publish(_ context.Context, ev game.Event) {
	srv.emitState(ev.State)
	switch ev.Type {
	case game.EventTurnAdjudicated, game.EventRankingFailed:
		srv.broadcast(ev.SessionCode, "game:result", map[string]any{
			"result": ev.Result,
			"failed": ev.Type == game.EventRankingFailed,
			"reason": ev.Reason,
		})
	case game.EventSessionFinished:
		srv.broadcast(ev.SessionCode, "game:finished", map[string]any{
			"survivor": ev.ContestantID,
			"reason":   ev.Reason,
		})
	}
}

func (srv *Server) hostSession(s socketio.Conn) (*game.Session, map[string]any) {
	ctx := connCtx(s)
	sess, err := srv.RM.Get(ctx.Code)
	if err != nil {
		return nil, srv.err(s, err)
	}
	if ctx.Role != "host" {
		return nil, srv.errCode(s, "unauthorized", "only the host can do this")
	}
	return sess, nil
}

func (srv *Server) attach(s socketio.Conn, ctx *ConnCtx) {
	if prev := connCtx(s); prev.Code != "" && prev.Code != ctx.Code {
		srv.detach(prev.Code, s)
		s.Leave(prev.Code)
	}
	s.SetContext(ctx)
	s.Join(ctx.Code)
	srv.mu.Lock()
	if srv.members[ctx.Code] == nil {
		srv.members[ctx.Code] = make(map[string]socketio.Conn)
	}
	srv.members[ctx.Code][s.ID()] = s
	srv.mu.Unlock()
}

func (srv *Server) detach(code string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[code]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, code)
		}
	}
}

func (srv *Server) conns(code string) []socketio.Conn {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]socketio.Conn, 0, len(srv.members[code]))
	for _, c := range srv.members[code] {
		out = append(out, c)
	}
	return out
}

func (srv *Server) emitState(st game.State) {
	for _, c := range srv.conns(st.Code) {
		srv.emitStateToConn(c, st)
	}
}

func (srv *Server) emitStateToConn(c socketio.Conn, st game.State) {
	c.Emit("game:state", personalize(st, connCtx(c)))
}

func (srv *Server) broadcast(code, event string, payload any) {
	for _, c := range srv.conns(code) {
		c.Emit(event, payload)
	}
}

// personalize hides other contestants' pending answers from players.
func personalize(st game.State, ctx *ConnCtx) map[string]any {
	you := map[string]any{"role": ctx.Role}
	if ctx.Role != "host" {
		own := map[string]string{}
		if text, ok := st.PendingAnswers[ctx.ContestantID]; ok {
			own[ctx.ContestantID] = text
		}
		st.PendingAnswers = own
		if ctx.ContestantID != "" {
			you["contestantId"] = ctx.ContestantID
		}
	}
	return map[string]any{"state": st, "you": you}
}

func connCtx(s socketio.Conn) *ConnCtx {
	if ctx, ok := s.Context().(*ConnCtx); ok && ctx != nil {
		return ctx
	}
	return &ConnCtx{}
}

func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	return srv.errCode(s, game.ErrorCode(err), err.Error())
}

func (srv *Server) errCode(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": code, "message": message}
}
