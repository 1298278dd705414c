package game

import (
	"context"
	"crypto/subtle"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type turnStage int

const (
	stageIdle turnStage = iota
	stageOpening
	stageOpen
	stageAdjudicating
)

const maxConcurrentAutomated = 8

// Deps are the collaborators a session talks to. Zero values are replaced
// by Registry with sensible defaults.
type Deps struct {
	Questions     QuestionSource
	Ranker        RankingPort
	Answerer      AutomatedAnswerer
	Clock         clockwork.Clock
	Scheduler     *WindowScheduler
	RankAttempts  int
	RankBackoff   time.Duration
	OracleTimeout time.Duration
}

// Session is one elimination game. All exported methods are safe for
// concurrent use; each one applies fully or not at all.
type Session struct {
	Code      string
	CreatedAt time.Time

	hostToken string

	cfg     SessionConfig
	deps    Deps
	publish func(Event)

	mu       sync.Mutex
	phase    Phase
	turn     int
	question string
	roster   *Roster
	clock    *TurnClock
	stage    turnStage

	// per turn state
	pending   map[string]string // contestantID -> answer
	submitSeq map[string]int    // contestantID -> order of first submission
	seq       int

	// bumped on abort so in-flight oracle calls drop their results
	epoch int

	eventSeq uint64 // last sequence number handed to an event

	survivor   string
	lastResult *TurnResult
}

func newSession(code string, cfg SessionConfig, deps Deps, publish func(Event)) *Session {
	cfg = cfg.withDefaults()
	if publish == nil {
		publish = func(Event) {}
	}
	return &Session{
		Code:      code,
		CreatedAt: deps.Clock.Now().UTC(),
		hostToken: uuid.NewString(),
		cfg:       cfg,
		deps:      deps,
		publish:   publish,
		phase:     PhaseWaiting,
		roster:    NewRoster(),
		clock:     NewTurnClock(deps.Clock, time.Duration(cfg.AnswerWindowSeconds)*time.Second),
		pending:   make(map[string]string),
		submitSeq: make(map[string]int),
	}
}

func (s *Session) Config() SessionConfig { return s.cfg }

// HostToken is handed to whoever created the session and lets them drive it
// from a reconnecting client.
func (s *Session) HostToken() string { return s.hostToken }

func (s *Session) CheckHostToken(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.hostToken)) == 1
}

func (s *Session) Join(displayName string, source AnswerSource) (Contestant, error) {
	s.mu.Lock()
	if s.phase == PhaseFinished {
		s.mu.Unlock()
		return Contestant{}, ErrSessionFinished
	}
	if s.phase == PhaseInProgress && !s.cfg.AllowLateJoin {
		s.mu.Unlock()
		return Contestant{}, ErrJoinClosed
	}
	c := s.roster.Add(displayName, source, s.deps.Clock.Now())
	c.FirstTurn = s.turn + 1
	ev := s.eventLocked(EventContestantJoined)
	ev.ContestantID = c.ID
	out := *c
	s.mu.Unlock()

	log.Info().Str("code", s.Code).Str("contestant_id", out.ID).Str("source", string(out.Source)).Msg("contestant joined")
	s.publish(ev)
	return out, nil
}

func (s *Session) Start() error {
	s.mu.Lock()
	switch s.phase {
	case PhaseFinished:
		s.mu.Unlock()
		return ErrSessionFinished
	case PhaseInProgress:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if active := len(s.roster.Active()); active < s.cfg.MinContestants {
		s.mu.Unlock()
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientPlayers, active, s.cfg.MinContestants)
	}
	s.phase = PhaseInProgress
	ev := s.eventLocked(EventSessionStarted)
	s.mu.Unlock()

	log.Info().Str("code", s.Code).Msg("session started")
	s.publish(ev)
	return nil
}

// OpenTurn fetches the next question and opens the answer window. The turn
// counter only moves if the question could be fetched.
func (s *Session) OpenTurn(ctx context.Context) (State, error) {
	s.mu.Lock()
	if err := s.checkRunningLocked(); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	if s.stage != stageIdle {
		s.mu.Unlock()
		return State{}, ErrTurnInProgress
	}
	s.stage = stageOpening
	epoch := s.epoch
	next := s.turn + 1
	s.mu.Unlock()

	question, qerr := s.fetchQuestion(ctx, next)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return State{}, ErrSessionFinished
	}
	if qerr != nil {
		s.stage = stageIdle
		s.mu.Unlock()
		log.Warn().Err(qerr).Str("code", s.Code).Int("turn", next).Msg("could not fetch question")
		return State{}, qerr
	}
	s.turn = next
	s.question = question
	s.pending = make(map[string]string)
	s.submitSeq = make(map[string]int)
	s.seq = 0
	s.clock.Open()
	s.stage = stageOpen
	s.deps.Scheduler.Schedule(s.Code, s.clock.Duration(), func() { s.expireTurn(next) })
	ev := s.eventLocked(EventTurnOpened)
	st := ev.State
	s.mu.Unlock()

	log.Info().Str("code", s.Code).Int("turn", next).Msg("turn opened")
	s.publish(ev)
	return st, nil
}

func (s *Session) fetchQuestion(ctx context.Context, turn int) (string, error) {
	if s.deps.Questions == nil {
		return "", fmt.Errorf("%w: no question source configured", ErrQuestionUnavailable)
	}
	qctx, cancel := s.oracleContext(ctx)
	defer cancel()
	q, err := s.deps.Questions.NextQuestion(qctx, s.Code, turn)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrQuestionUnavailable, err)
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return "", fmt.Errorf("%w: empty question", ErrQuestionUnavailable)
	}
	return q, nil
}

// SubmitAnswer records text as the contestant's answer for the open turn.
// A later submission replaces an earlier one.
func (s *Session) SubmitAnswer(contestantID, text string) error {
	s.mu.Lock()
	if err := s.submitLocked(contestantID, text); err != nil {
		s.mu.Unlock()
		return err
	}
	ev := s.eventLocked(EventAnswerSubmitted)
	ev.ContestantID = contestantID
	s.mu.Unlock()

	log.Debug().Str("code", s.Code).Int("turn", ev.Turn).Str("contestant_id", contestantID).Msg("answer submitted")
	s.publish(ev)
	return nil
}

func (s *Session) submitLocked(contestantID, text string) error {
	if s.phase == PhaseFinished {
		return ErrSessionFinished
	}
	c, err := s.roster.Find(contestantID)
	if err != nil {
		return err
	}
	if c.Eliminated {
		return ErrPlayerEliminated
	}
	if s.phase != PhaseInProgress || s.stage != stageOpen || s.clock.Expired() {
		return ErrWindowClosed
	}
	if c.FirstTurn > s.turn {
		return fmt.Errorf("%w: joined during turn %d", ErrWindowClosed, s.turn)
	}
	if _, ok := s.pending[contestantID]; !ok {
		s.seq++
		s.submitSeq[contestantID] = s.seq
	}
	s.pending[contestantID] = text
	return nil
}

// CollectAutomatedAnswers asks every active automated contestant that has not
// answered yet for an answer to the current question. Answers that come back
// after the window closed are dropped and ErrWindowClosed is returned.
func (s *Session) CollectAutomatedAnswers(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.phase == PhaseFinished {
		s.mu.Unlock()
		return 0, ErrSessionFinished
	}
	if s.phase != PhaseInProgress || s.stage != stageOpen {
		s.mu.Unlock()
		return 0, ErrWindowClosed
	}
	var targets []Contestant
	for _, c := range s.playingLocked(s.turn) {
		if _, answered := s.pending[c.ID]; c.IsAutomated() && !answered {
			targets = append(targets, *c)
		}
	}
	turn, question, epoch := s.turn, s.question, s.epoch
	s.mu.Unlock()

	if len(targets) == 0 {
		return 0, nil
	}
	if s.deps.Answerer == nil {
		return 0, ErrNoAnswerer
	}

	actx, cancel := s.oracleContext(ctx)
	defer cancel()
	answers := make([]string, len(targets))
	var g errgroup.Group
	g.SetLimit(maxConcurrentAutomated)
	for i, c := range targets {
		g.Go(func() error {
			text, err := s.deps.Answerer.Answer(actx, c, question)
			if err != nil {
				log.Warn().Err(err).Str("code", s.Code).Int("turn", turn).Str("contestant_id", c.ID).Msg("automated contestant failed to answer")
				return nil
			}
			answers[i] = text
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	if s.epoch != epoch || s.turn != turn {
		s.mu.Unlock()
		return 0, ErrWindowClosed
	}
	var events []Event
	var lastErr error
	for i, c := range targets {
		if answers[i] == "" {
			continue
		}
		if err := s.submitLocked(c.ID, answers[i]); err != nil {
			lastErr = err
			continue
		}
		ev := s.eventLocked(EventAnswerSubmitted)
		ev.ContestantID = c.ID
		events = append(events, ev)
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.publish(ev)
	}
	if len(events) == 0 && lastErr != nil {
		return 0, lastErr
	}
	log.Info().Str("code", s.Code).Int("turn", turn).Int("answers", len(events)).Int("asked", len(targets)).Msg("automated answers collected")
	return len(events), nil
}

// CloseAndAdjudicate closes the open answer window and applies this turn's
// eliminations. It returns (nil, nil) if the window was already closed.
func (s *Session) CloseAndAdjudicate(ctx context.Context) (*TurnResult, error) {
	return s.closeTurn(ctx, 0)
}

func (s *Session) expireTurn(turn int) {
	ctx := context.Background()
	res, err := s.closeTurn(ctx, turn)
	switch {
	case err != nil:
		log.Error().Err(err).Str("code", s.Code).Int("turn", turn).Msg("timeout adjudication failed")
	case res != nil:
		log.Info().Str("code", s.Code).Int("turn", turn).Msg("answer window closed by timeout")
	}
}

// closeTurn adjudicates the open turn. With onlyTurn > 0 it is a no-op unless
// that exact turn is still open; this is what the timeout path uses.
func (s *Session) closeTurn(ctx context.Context, onlyTurn int) (*TurnResult, error) {
	s.mu.Lock()
	if s.phase == PhaseFinished {
		s.mu.Unlock()
		if onlyTurn > 0 {
			return nil, nil
		}
		return nil, ErrSessionFinished
	}
	if s.phase == PhaseWaiting {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	if s.stage != stageOpen || (onlyTurn > 0 && onlyTurn != s.turn) {
		s.mu.Unlock()
		return nil, nil
	}

	answers := maps.Clone(s.pending)
	seqs := maps.Clone(s.submitSeq)
	for id := range answers {
		if _, err := s.roster.Find(id); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: answer recorded for unknown contestant %s", ErrInvariant, id)
		}
	}

	s.stage = stageAdjudicating
	s.clock.Stop()
	s.deps.Scheduler.Cancel(s.Code)
	turn, question, epoch := s.turn, s.question, s.epoch

	result := &TurnResult{Turn: turn, Question: question, Forfeited: []string{}, Rankings: []RankedAnswer{}}
	var respondents []*Contestant
	for _, c := range s.playingLocked(turn) {
		text, ok := answers[c.ID]
		if !ok || strings.TrimSpace(text) == "" {
			s.eliminateLocked(c.ID, turn)
			result.Forfeited = append(result.Forfeited, c.ID)
			continue
		}
		respondents = append(respondents, c)
	}

	if len(respondents) < 2 {
		events := s.concludeLocked(result)
		s.mu.Unlock()
		s.logResult(result)
		s.publishAll(events)
		return result, nil
	}

	texts := make([]string, len(respondents))
	order := make([]int, len(respondents))
	ids := make([]string, len(respondents))
	for i, c := range respondents {
		texts[i] = answers[c.ID]
		order[i] = seqs[c.ID]
		ids[i] = c.ID
	}
	s.mu.Unlock()

	scores, rerr := s.rank(ctx, question, texts)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		log.Info().Str("code", s.Code).Int("turn", turn).Msg("session aborted during adjudication; discarding ranking")
		return nil, ErrSessionFinished
	}
	if rerr != nil {
		s.stage = stageIdle
		s.lastResult = result
		ev := s.eventLocked(EventRankingFailed)
		ev.Result = result
		ev.Reason = rerr.Error()
		s.mu.Unlock()
		log.Error().Err(rerr).Str("code", s.Code).Int("turn", turn).Int("forfeited", len(result.Forfeited)).Msg("ranking unavailable; no ranking elimination this turn")
		s.publish(ev)
		return result, rerr
	}

	for i := range ids {
		result.Rankings = append(result.Rankings, RankedAnswer{ContestantID: ids[i], Answer: texts[i], Score: scores[i]})
	}
	worst := ids[worstRespondent(scores, order)]
	if err := s.eliminateLocked(worst, turn); err != nil {
		s.stage = stageIdle
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	result.Eliminated = worst
	result.Ranked = true
	events := s.concludeLocked(result)
	s.mu.Unlock()

	s.logResult(result)
	s.publishAll(events)
	return result, nil
}

// playingLocked returns the active contestants taking part in turn, in join
// order. Contestants who joined while turn was running are left out.
func (s *Session) playingLocked(turn int) []*Contestant {
	active := s.roster.Active()
	out := make([]*Contestant, 0, len(active))
	for _, c := range active {
		if c.FirstTurn <= turn {
			out = append(out, c)
		}
	}
	return out
}

// eliminateLocked also drops the contestant's answer so pending answers never
// name an eliminated contestant.
func (s *Session) eliminateLocked(id string, turn int) error {
	if _, err := s.roster.Eliminate(id, turn); err != nil {
		return err
	}
	delete(s.pending, id)
	delete(s.submitSeq, id)
	return nil
}

func (s *Session) rank(ctx context.Context, question string, answers []string) ([]float64, error) {
	if s.deps.Ranker == nil {
		return nil, fmt.Errorf("%w: no ranking oracle configured", ErrRankingUnavailable)
	}
	rctx, cancel := s.oracleContext(ctx)
	defer cancel()
	return rankWithRetry(rctx, s.deps.Ranker, s.deps.Clock, s.deps.RankAttempts, s.deps.RankBackoff, s.Code, question, answers)
}

// concludeLocked finishes the session if at most one contestant is left and
// returns the events describing the adjudication.
func (s *Session) concludeLocked(result *TurnResult) []Event {
	active := s.roster.Active()
	if len(active) <= 1 {
		s.phase = PhaseFinished
		if len(active) == 1 {
			s.survivor = active[0].ID
		}
		result.Finished = true
		result.Survivor = s.survivor
	}
	s.stage = stageIdle
	s.lastResult = result

	ev := s.eventLocked(EventTurnAdjudicated)
	ev.Result = result
	events := []Event{ev}
	if result.Finished {
		fin := s.eventLocked(EventSessionFinished)
		fin.ContestantID = s.survivor
		fin.Reason = "decided"
		events = append(events, fin)
	}
	return events
}

// Abort ends the session immediately. Pending adjudications are discarded.
func (s *Session) Abort(reason string) error {
	s.mu.Lock()
	if s.phase == PhaseFinished {
		s.mu.Unlock()
		return ErrSessionFinished
	}
	s.phase = PhaseFinished
	s.epoch++
	s.stage = stageIdle
	s.clock.Stop()
	s.deps.Scheduler.Cancel(s.Code)
	ev := s.eventLocked(EventSessionFinished)
	ev.Reason = reason
	s.mu.Unlock()

	log.Info().Str("code", s.Code).Str("reason", reason).Msg("session aborted")
	s.publish(ev)
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Turn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

func (s *Session) Contestant(id string) (Contestant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.roster.Find(id)
	if err != nil {
		return Contestant{}, err
	}
	return *c, nil
}

func (s *Session) stateLocked() State {
	st := State{
		Code:                s.Code,
		Phase:               s.phase,
		Turn:                s.turn,
		CurrentQuestion:     s.question,
		WindowOpen:          s.stage == stageOpen,
		SecondsRemaining:    s.clock.SecondsRemaining(),
		MinContestants:      s.cfg.MinContestants,
		AnswerWindowSeconds: s.cfg.AnswerWindowSeconds,
		AllowLateJoin:       s.cfg.AllowLateJoin,
		Roster:              s.roster.Snapshot(),
		PendingAnswers:      maps.Clone(s.pending),
		Survivor:            s.survivor,
		CreatedAt:           s.CreatedAt,
	}
	if s.clock.IsOpen() {
		opened := s.clock.OpenedAt()
		st.WindowOpenedAt = &opened
	}
	if st.PendingAnswers == nil {
		st.PendingAnswers = map[string]string{}
	}
	if s.lastResult != nil {
		r := *s.lastResult
		st.LastResult = &r
	}
	return st
}

func (s *Session) event(t EventType) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventLocked(t)
}

func (s *Session) eventLocked(t EventType) Event {
	s.eventSeq++
	ev := newEvent(t, s.stateLocked(), s.deps.Clock.Now())
	ev.Seq = s.eventSeq
	return ev
}

func (s *Session) checkRunningLocked() error {
	switch s.phase {
	case PhaseFinished:
		return ErrSessionFinished
	case PhaseWaiting:
		return ErrNotStarted
	}
	return nil
}

func (s *Session) oracleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.deps.OracleTimeout > 0 {
		return context.WithTimeout(ctx, s.deps.OracleTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) publishAll(events []Event) {
	for _, ev := range events {
		s.publish(ev)
	}
}

func (s *Session) logResult(r *TurnResult) {
	log.Info().
		Str("code", s.Code).
		Int("turn", r.Turn).
		Strs("forfeited", r.Forfeited).
		Str("eliminated", r.Eliminated).
		Bool("finished", r.Finished).
		Str("survivor", r.Survivor).
		Msg("turn adjudicated")
}
