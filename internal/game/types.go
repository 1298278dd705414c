package game

import (
	"time"
)

type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseInProgress Phase = "in_progress"
	PhaseFinished   Phase = "finished"
)

// AnswerSource tells the engine where a contestant's answers come from.
type AnswerSource string

const (
	// SourceAutomated answers are produced by an AutomatedAnswerer when the
	// operator collects automated answers for the open turn.
	SourceAutomated AnswerSource = "automated"
	// SourceExternal answers only ever arrive through SubmitAnswer.
	SourceExternal AnswerSource = "external"
)

type SessionConfig struct {
	MinContestants      int  `json:"minContestants"`
	AnswerWindowSeconds int  `json:"answerWindowSeconds"`
	AllowLateJoin       bool `json:"allowLateJoin"`
}

// minContestants is the floor for MinContestants; a session must be able to
// eliminate someone before it finishes.
const minContestants = 2

func (c SessionConfig) withDefaults() SessionConfig {
	if c.MinContestants < minContestants {
		c.MinContestants = minContestants
	}
	if c.AnswerWindowSeconds <= 0 {
		c.AnswerWindowSeconds = 30
	}
	return c
}

type Contestant struct {
	ID               string       `json:"id"`
	DisplayName      string       `json:"displayName"`
	Source           AnswerSource `json:"source"`
	Eliminated       bool         `json:"eliminated"`
	EliminatedOnTurn int          `json:"eliminatedOnTurn"`
	// FirstTurn is the first turn the contestant answers in. Late joiners
	// sit out the turn that was running when they joined.
	FirstTurn        int          `json:"firstTurn"`
	JoinedAt         time.Time    `json:"joinedAt"`
}

func (c *Contestant) IsAutomated() bool { return c.Source == SourceAutomated }

// RankedAnswer is one row of a ranking batch, in the order it was sent to the oracle.
type RankedAnswer struct {
	ContestantID string  `json:"contestantId"`
	Answer       string  `json:"answer"`
	Score        float64 `json:"score"`
}

// TurnResult describes what one adjudication did to the roster.
type TurnResult struct {
	Turn       int            `json:"turn"`
	Question   string         `json:"question"`
	Forfeited  []string       `json:"forfeited"`
	Rankings   []RankedAnswer `json:"rankings"`
	Eliminated string         `json:"eliminated,omitempty"`
	Ranked     bool           `json:"ranked"`
	Finished   bool           `json:"finished"`
	Survivor   string         `json:"survivor,omitempty"`
}

// State is a point-in-time copy of a session; safe to hand to transports.
type State struct {
	Code                string            `json:"sessionCode"`
	Phase               Phase             `json:"phase"`
	Turn                int               `json:"turn"`
	CurrentQuestion     string            `json:"currentQuestion"`
	WindowOpen          bool              `json:"windowOpen"`
	WindowOpenedAt      *time.Time        `json:"windowOpenedAt,omitempty"`
	SecondsRemaining    int               `json:"secondsRemaining"`
	MinContestants      int               `json:"minContestants"`
	AnswerWindowSeconds int               `json:"answerWindowSeconds"`
	AllowLateJoin       bool              `json:"allowLateJoin"`
	Roster              []Contestant      `json:"roster"`
	PendingAnswers      map[string]string `json:"pendingAnswers"`
	Survivor            string            `json:"survivor,omitempty"`
	LastResult          *TurnResult       `json:"lastResult,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
}

// Redacted keeps who has answered the open turn but drops the answer texts.
func (st State) Redacted() State {
	hidden := make(map[string]string, len(st.PendingAnswers))
	for id := range st.PendingAnswers {
		hidden[id] = ""
	}
	st.PendingAnswers = hidden
	return st
}

// ActiveCount counts non-eliminated contestants in the snapshot.
func (st State) ActiveCount() int {
	n := 0
	for _, c := range st.Roster {
		if !c.Eliminated {
			n++
		}
	}
	return n
}
