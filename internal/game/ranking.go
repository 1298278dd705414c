package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RankingPort scores a batch of answers to one question. The returned slice
// must have the same length and order as answers; a lower score is worse.
// Implementations do not retry.
type RankingPort interface {
	Rank(ctx context.Context, question string, answers []string) ([]float64, error)
}

// QuestionSource produces the prompt for a turn.
type QuestionSource interface {
	NextQuestion(ctx context.Context, sessionCode string, turn int) (string, error)
}

// AutomatedAnswerer supplies answers for contestants with SourceAutomated.
type AutomatedAnswerer interface {
	Answer(ctx context.Context, contestant Contestant, question string) (string, error)
}

type RankingFunc func(ctx context.Context, question string, answers []string) ([]float64, error)

func (f RankingFunc) Rank(ctx context.Context, question string, answers []string) ([]float64, error) {
	return f(ctx, question, answers)
}

type QuestionFunc func(ctx context.Context, sessionCode string, turn int) (string, error)

func (f QuestionFunc) NextQuestion(ctx context.Context, sessionCode string, turn int) (string, error) {
	return f(ctx, sessionCode, turn)
}

type AnswerFunc func(ctx context.Context, contestant Contestant, question string) (string, error)

func (f AnswerFunc) Answer(ctx context.Context, contestant Contestant, question string) (string, error) {
	return f(ctx, contestant, question)
}

var errMalformedScores = errors.New("malformed ranking result")

func validateScores(scores []float64, want int) error {
	if len(scores) != want {
		return fmt.Errorf("%w: got %d scores for %d answers", errMalformedScores, len(scores), want)
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: score %d is not a finite number", errMalformedScores, i)
		}
	}
	return nil
}

// rankWithRetry calls the port up to attempts times, waiting backoff*attempt
// between failures. It gives up early when ctx is done.
func rankWithRetry(ctx context.Context, port RankingPort, clock clockwork.Clock, attempts int, backoff time.Duration, code, question string, answers []string) ([]float64, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		scores, err := port.Rank(ctx, question, answers)
		if err == nil {
			err = validateScores(scores, len(answers))
		}
		if err == nil {
			return scores, nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Str("code", code).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("ranking attempt failed")

		if ctx.Err() != nil {
			break
		}
		if attempt < attempts && backoff > 0 {
			select {
			case <-clock.After(backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrRankingUnavailable, ctx.Err())
			}
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrRankingUnavailable, lastErr)
}

// worstRespondent returns the index of the lowest score. Ties go to the
// respondent whose first submission this turn came earliest.
func worstRespondent(scores []float64, submittedSeq []int) int {
	worst := 0
	for i := 1; i < len(scores); i++ {
		switch {
		case scores[i] < scores[worst]:
			worst = i
		case scores[i] == scores[worst] && submittedSeq[i] < submittedSeq[worst]:
			worst = i
		}
	}
	return worst
}
