package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// WindowScheduler keeps at most one pending answer-window timeout per session.
type WindowScheduler struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timers map[string]*windowTimer
	closed bool
}

type windowTimer struct {
	timer clockwork.Timer
	done  chan struct{}
}

func NewWindowScheduler(clock clockwork.Clock) *WindowScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WindowScheduler{clock: clock, timers: make(map[string]*windowTimer)}
}

// Schedule arms a one-shot timer for code, replacing any existing one.
// fire runs on its own goroutine.
func (ws *WindowScheduler) Schedule(code string, d time.Duration, fire func()) {
	wt := &windowTimer{timer: ws.clock.NewTimer(d), done: make(chan struct{})}

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		stopAndDrainTimer(wt.timer)
		return
	}
	if existing, ok := ws.timers[code]; ok {
		existing.cancel()
		log.Debug().Str("code", code).Msg("replaced existing window timer")
	}
	ws.timers[code] = wt
	ws.mu.Unlock()

	go func() {
		select {
		case <-wt.timer.Chan():
			if !ws.remove(code, wt) {
				return
			}
			log.Debug().Str("code", code).Msg("answer window expired")
			fire()
		case <-wt.done:
		}
	}()
}

// Cancel stops the pending timer for code, if any.
func (ws *WindowScheduler) Cancel(code string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if wt, ok := ws.timers[code]; ok {
		wt.cancel()
		delete(ws.timers, code)
	}
}

func (ws *WindowScheduler) Pending() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.timers)
}

// Close cancels every pending timer and rejects new ones.
func (ws *WindowScheduler) Close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for code, wt := range ws.timers {
		wt.cancel()
		delete(ws.timers, code)
	}
	ws.closed = true
}

// remove deletes wt if it is still the registered timer for code.
func (ws *WindowScheduler) remove(code string, wt *windowTimer) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.timers[code] != wt {
		return false
	}
	delete(ws.timers, code)
	return true
}

func (wt *windowTimer) cancel() {
	stopAndDrainTimer(wt.timer)
	close(wt.done)
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
