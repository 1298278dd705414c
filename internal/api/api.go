package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/lastword/internal/game"
)

// Handler exposes the session registry over REST.
type Handler struct {
	rm       *game.Registry
	defaults game.SessionConfig
	single   bool

	// collect runs automated answers after a turn opens
	collect func(*game.Session)
}

type Option func(*Handler)

// WithDefaults fills zero fields of client supplied session configs.
func WithDefaults(cfg game.SessionConfig) Option {
	return func(h *Handler) { h.defaults = cfg }
}

// WithSingleSession refuses to create a session while another one is running.
func WithSingleSession(on bool) Option {
	return func(h *Handler) { h.single = on }
}

func WithCollector(fn func(*game.Session)) Option {
	return func(h *Handler) { h.collect = fn }
}

func New(rm *game.Registry, opts ...Option) *Handler {
	h := &Handler{rm: rm}
	h.collect = h.collectInBackground
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the routes. operator guards everything that drives a
// session or reveals pending answers; contestant routes stay open and only
// see who has answered.
func (h *Handler) Register(r gin.IRouter, operator ...gin.HandlerFunc) {
	r.GET("/api/session/active", h.active)

	api := r.Group("/api/sessions")
	api.GET("", h.list)
	api.GET("/:code", h.state)
	api.POST("/:code/contestants", h.join)
	api.POST("/:code/answers", h.submit)

	op := api.Group("", operator...)
	op.GET("/:code/full", h.fullState)
	op.POST("", h.create)
	op.DELETE("/:code", h.remove)
	op.POST("/:code/start", h.start)
	op.POST("/:code/turns", h.openTurn)
	op.POST("/:code/automated", h.automated)
	op.POST("/:code/close", h.close)
	op.POST("/:code/abort", h.abort)
}

func (h *Handler) active(c *gin.Context) {
	if code, sess := h.rm.Active(); sess != nil {
		c.JSON(http.StatusOK, gin.H{"sessionCode": code, "phase": sess.Phase()})
		return
	}
	c.Status(http.StatusNotFound)
}

func (h *Handler) list(c *gin.Context) {
	sessions := h.rm.List()
	for i := range sessions {
		sessions[i] = sessions[i].Redacted()
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) state(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.State().Redacted())
}

func (h *Handler) fullState(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.State())
}

type createReq struct {
	Config game.SessionConfig `json:"config"`
}

func (h *Handler) create(c *gin.Context) {
	var req createReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
			return
		}
	}
	if h.single {
		if code, sess := h.rm.Active(); sess != nil && sess.Phase() != game.PhaseFinished {
			c.JSON(http.StatusConflict, gin.H{"error": "session_active", "sessionCode": code})
			return
		}
	}
	cfg := req.Config
	if cfg.MinContestants == 0 {
		cfg.MinContestants = h.defaults.MinContestants
	}
	if cfg.AnswerWindowSeconds == 0 {
		cfg.AnswerWindowSeconds = h.defaults.AnswerWindowSeconds
	}
	if !cfg.AllowLateJoin {
		cfg.AllowLateJoin = h.defaults.AllowLateJoin
	}
	sess := h.rm.Create(cfg)
	c.JSON(http.StatusCreated, gin.H{"sessionCode": sess.Code, "hostToken": sess.HostToken(), "state": sess.State()})
}

type joinReq struct {
	DisplayName string            `json:"displayName" binding:"required"`
	Source      game.AnswerSource `json:"source"`
}

func (h *Handler) join(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req joinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	ct, err := sess.Join(req.DisplayName, req.Source)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contestant": ct})
}

func (h *Handler) start(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Start(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.State())
}

func (h *Handler) openTurn(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	st, err := sess.OpenTurn(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if h.collect != nil && hasAutomated(st) {
		h.collect(sess)
	}
	c.JSON(http.StatusOK, st)
}

type submitReq struct {
	ContestantID string `json:"contestantId" binding:"required"`
	Text         string `json:"text"`
}

func (h *Handler) submit(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if err := sess.SubmitAnswer(req.ContestantID, req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) automated(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	n, err := sess.CollectAutomatedAnswers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answers": n})
}

func (h *Handler) close(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	res, err := sess.CloseAndAdjudicate(c.Request.Context())
	if err != nil {
		if errors.Is(err, game.ErrRankingUnavailable) && res != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": game.ErrorCode(err), "message": err.Error(), "result": res})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": res != nil, "result": res})
}

type abortReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) abort(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req abortReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "aborted by operator"
	}
	if err := sess.Abort(req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.State())
}

func (h *Handler) remove(c *gin.Context) {
	if err := h.rm.Delete(c.Param("code")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) session(c *gin.Context) (*game.Session, bool) {
	sess, err := h.rm.Get(c.Param("code"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) collectInBackground(sess *game.Session) {
	go func() {
		n, err := sess.CollectAutomatedAnswers(context.Background())
		if err != nil {
			log.Warn().Err(err).Str("code", sess.Code).Msg("automated answers failed")
			return
		}
		log.Debug().Str("code", sess.Code).Int("answers", n).Msg("automated answers ready")
	}()
}

func hasAutomated(st game.State) bool {
	for _, c := range st.Roster {
		if !c.Eliminated && c.IsAutomated() {
			return true
		}
	}
	return false
}

func writeError(c *gin.Context, err error) {
	code := game.ErrorCode(err)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrUnknownSession), errors.Is(err, game.ErrUnknownContestant):
		return http.StatusNotFound
	case errors.Is(err, game.ErrInsufficientPlayers):
		return http.StatusUnprocessableEntity
	case errors.Is(err, game.ErrPlayerEliminated),
		errors.Is(err, game.ErrWindowClosed),
		errors.Is(err, game.ErrSessionFinished),
		errors.Is(err, game.ErrAlreadyStarted),
		errors.Is(err, game.ErrNotStarted),
		errors.Is(err, game.ErrJoinClosed),
		errors.Is(err, game.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, game.ErrQuestionUnavailable),
		errors.Is(err, game.ErrRankingUnavailable),
		errors.Is(err, game.ErrNoAnswerer):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
