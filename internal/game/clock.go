package game

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// TurnClock answers "how long is the current answer window still open".
// It never closes anything itself; see WindowScheduler.
type TurnClock struct {
	clock    clockwork.Clock
	duration time.Duration
	openedAt time.Time
	open     bool
}

func NewTurnClock(clock clockwork.Clock, duration time.Duration) *TurnClock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TurnClock{clock: clock, duration: duration}
}

// Open records the start of a window and returns its deadline.
func (tc *TurnClock) Open() time.Time {
	tc.openedAt = tc.clock.Now()
	tc.open = true
	return tc.openedAt.Add(tc.duration)
}

func (tc *TurnClock) Stop() { tc.open = false }

func (tc *TurnClock) IsOpen() bool { return tc.open }

func (tc *TurnClock) OpenedAt() time.Time { return tc.openedAt }

func (tc *TurnClock) Duration() time.Duration { return tc.duration }

func (tc *TurnClock) Remaining() time.Duration {
	if !tc.open {
		return tc.duration
	}
	left := tc.duration - tc.clock.Since(tc.openedAt)
	if left < 0 {
		return 0
	}
	return left
}

// SecondsRemaining truncates to whole seconds.
func (tc *TurnClock) SecondsRemaining() int {
	return int(tc.Remaining() / time.Second)
}

func (tc *TurnClock) Expired() bool {
	return tc.open && tc.Remaining() == 0
}
