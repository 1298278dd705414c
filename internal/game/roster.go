package game

import (
	"time"

	"github.com/google/uuid"
)

// Roster holds the contestants of one session in join order.
// It is not safe for concurrent use; Session serializes access to it.
type Roster struct {
	order []*Contestant
	byID  map[string]*Contestant
}

func NewRoster() *Roster {
	return &Roster{byID: make(map[string]*Contestant)}
}

func (r *Roster) Add(displayName string, source AnswerSource, now time.Time) *Contestant {
	if source != SourceAutomated {
		source = SourceExternal
	}
	c := &Contestant{
		ID:               uuid.NewString(),
		DisplayName:      displayName,
		Source:           source,
		EliminatedOnTurn: -1,
		JoinedAt:         now.UTC(),
	}
	r.order = append(r.order, c)
	r.byID[c.ID] = c
	return c
}

func (r *Roster) Find(id string) (*Contestant, error) {
	c := r.byID[id]
	if c == nil {
		return nil, ErrUnknownContestant
	}
	return c, nil
}

// Eliminate marks a contestant eliminated at the given turn. Repeated calls
// are no-ops and keep the first turn; the bool reports whether this call did it.
func (r *Roster) Eliminate(id string, atTurn int) (bool, error) {
	c := r.byID[id]
	if c == nil {
		return false, ErrUnknownContestant
	}
	if c.Eliminated {
		return false, nil
	}
	c.Eliminated = true
	c.EliminatedOnTurn = atTurn
	return true, nil
}

func (r *Roster) Active() []*Contestant {
	out := make([]*Contestant, 0, len(r.order))
	for _, c := range r.order {
		if !c.Eliminated {
			out = append(out, c)
		}
	}
	return out
}

func (r *Roster) Len() int { return len(r.order) }

// Snapshot copies every contestant, eliminated ones included, in join order.
func (r *Roster) Snapshot() []Contestant {
	out := make([]Contestant, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, *c)
	}
	return out
}
