package game

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventContestantJoined EventType = "contestant_joined"
	EventSessionStarted   EventType = "session_started"
	EventTurnOpened       EventType = "turn_opened"
	EventAnswerSubmitted  EventType = "answer_submitted"
	EventTurnAdjudicated  EventType = "turn_adjudicated"
	EventRankingFailed    EventType = "ranking_failed"
	EventSessionFinished  EventType = "session_finished"
)

// Event is emitted after a session operation has been applied. State is the
// session snapshot taken right after the change.
//
// Events are delivered after the session lock is released, so two concurrent
// operations may reach a subscriber in either order. Seq is assigned under
// the lock and grows by one per event of a session; consumers that only care
// about the latest state should drop events with a Seq below the last seen.
type Event struct {
	ID           string      `json:"id"`
	Seq          uint64      `json:"seq"`
	Type         EventType   `json:"type"`
	SessionCode  string      `json:"sessionCode"`
	Turn         int         `json:"turn"`
	ContestantID string      `json:"contestantId,omitempty"`
	Result       *TurnResult `json:"result,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	At           time.Time   `json:"at"`
	State        State       `json:"state"`
}

// Publisher receives session events. Publish is called without the session
// lock held and must not block for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// FanOut delivers every event to each publisher in order.
type FanOut []Publisher

func (f FanOut) Publish(ctx context.Context, ev Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

func newEvent(t EventType, st State, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		SessionCode: st.Code,
		Turn:        st.Turn,
		At:          at.UTC(),
		State:       st,
	}
}
