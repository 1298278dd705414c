package game

import "errors"

var (
	ErrUnknownSession      = errors.New("session not found")
	ErrInsufficientPlayers = errors.New("not enough contestants to start")
	ErrUnknownContestant   = errors.New("unknown contestant")
	ErrPlayerEliminated    = errors.New("contestant already eliminated")
	ErrWindowClosed        = errors.New("answer window closed")
	ErrQuestionUnavailable = errors.New("question unavailable")
	ErrRankingUnavailable  = errors.New("ranking unavailable")
	ErrSessionFinished     = errors.New("session finished")
	ErrAlreadyStarted      = errors.New("session already started")
	ErrNotStarted          = errors.New("session not started")
	ErrJoinClosed          = errors.New("joining closed for this session")
	ErrTurnInProgress      = errors.New("a turn is still open")
	ErrNoAnswerer          = errors.New("no automated answerer configured")
	ErrInvariant           = errors.New("internal invariant violated")
)

// ErrorCode maps an engine error to the stable string transports send to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, ErrInsufficientPlayers):
		return "insufficient_players"
	case errors.Is(err, ErrUnknownContestant):
		return "unknown_contestant"
	case errors.Is(err, ErrPlayerEliminated):
		return "player_eliminated"
	case errors.Is(err, ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, ErrQuestionUnavailable):
		return "question_unavailable"
	case errors.Is(err, ErrRankingUnavailable):
		return "ranking_unavailable"
	case errors.Is(err, ErrSessionFinished):
		return "session_finished"
	case errors.Is(err, ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrJoinClosed):
		return "join_closed"
	case errors.Is(err, ErrTurnInProgress):
		return "turn_in_progress"
	case errors.Is(err, ErrNoAnswerer):
		return "no_answerer"
	}
	return "internal"
}
