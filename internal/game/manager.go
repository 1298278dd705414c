package game

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const defaultRankAttempts = 3

// Registry owns every live session, keyed by its join code.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	active   string // most recently created session, for single-session mode

	deps Deps

	subMu       sync.RWMutex
	subscribers FanOut
}

func NewRegistry(deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewWindowScheduler(deps.Clock)
	}
	if deps.RankAttempts <= 0 {
		deps.RankAttempts = defaultRankAttempts
	}
	return &Registry{sessions: make(map[string]*Session), deps: deps}
}

// Subscribe adds a publisher that receives the events of every session.
func (rm *Registry) Subscribe(p Publisher) {
	rm.subMu.Lock()
	defer rm.subMu.Unlock()
	rm.subscribers = append(rm.subscribers, p)
}

func (rm *Registry) publish(ev Event) {
	rm.subMu.RLock()
	subs := rm.subscribers
	rm.subMu.RUnlock()
	subs.Publish(context.Background(), ev)
}

func (rm *Registry) Create(cfg SessionConfig) *Session {
	rm.mu.Lock()
	code := randomCode(5)
	for rm.sessions[code] != nil {
		code = randomCode(5)
	}
	s := newSession(code, cfg, rm.deps, rm.publish)
	rm.sessions[code] = s
	rm.active = code
	rm.mu.Unlock()

	log.Info().Str("code", code).Int("min_contestants", s.cfg.MinContestants).Int("window_seconds", s.cfg.AnswerWindowSeconds).Msg("session created")
	rm.publish(s.event(EventSessionCreated))
	return s
}

func (rm *Registry) Get(code string) (*Session, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	s := rm.sessions[code]
	if s == nil {
		return nil, ErrUnknownSession
	}
	return s, nil
}

func (rm *Registry) Active() (string, *Session) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rm.active == "" {
		return "", nil
	}
	return rm.active, rm.sessions[rm.active]
}

// Delete aborts the session if it is still running and forgets it.
func (rm *Registry) Delete(code string) error {
	rm.mu.Lock()
	s := rm.sessions[code]
	if s == nil {
		rm.mu.Unlock()
		return ErrUnknownSession
	}
	delete(rm.sessions, code)
	if rm.active == code {
		rm.active = ""
	}
	rm.mu.Unlock()

	if s.Phase() != PhaseFinished {
		_ = s.Abort("deleted")
	}
	rm.deps.Scheduler.Cancel(code)
	return nil
}

// List returns a snapshot of every session, oldest first.
func (rm *Registry) List() []State {
	rm.mu.RLock()
	sessions := make([]*Session, 0, len(rm.sessions))
	for _, s := range rm.sessions {
		sessions = append(sessions, s)
	}
	rm.mu.RUnlock()

	out := make([]State, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.State())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Shutdown stops all pending answer-window timers.
func (rm *Registry) Shutdown() {
	rm.deps.Scheduler.Close()
}

func randomCode(n int) string {
	letters := []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
