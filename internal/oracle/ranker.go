package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kiliankoe/lastword/internal/ai"
)

const rankSystemPrompt = `You judge answers in an elimination quiz. For every answer give a score between 0 and 1 for how good, funny and fitting it is.
Reply with a list of numbers only, one per answer, in the order given. Example for three answers: [0.8, 0.1, 0.55]`

var ErrMalformedRanking = errors.New("malformed ranking")

// LLMRanker scores answers with a model. It does not retry; the engine does.
type LLMRanker struct {
	provider ai.Provider
	model    string
}

func NewLLMRanker(p ai.Provider, model string) *LLMRanker {
	return &LLMRanker{provider: p, model: model}
}

func (r *LLMRanker) Rank(ctx context.Context, question string, answers []string) ([]float64, error) {
	out, err := r.provider.Complete(ctx, ai.Request{
		Model:       r.model,
		System:      rankSystemPrompt,
		Prompt:      rankPrompt(question, answers),
		Temperature: 0.5,
		TopP:        0.5,
		MaxTokens:   128,
	})
	if err != nil {
		return nil, err
	}
	scores, err := parseScores(out)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(answers) {
		return nil, fmt.Errorf("%w: %d scores for %d answers", ErrMalformedRanking, len(scores), len(answers))
	}
	return scores, nil
}

func rankPrompt(question string, answers []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", question)
	for i, a := range answers {
		fmt.Fprintf(&sb, "Answer %d: %s\n", i+1, a)
	}
	return sb.String()
}

// parseScores pulls the first bracketed list of numbers out of a model reply.
// It accepts JSON as well as python style lists with quoted numbers.
func parseScores(s string) ([]float64, error) {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no list in %q", ErrMalformedRanking, s)
	}
	body := s[start : end+1]

	var scores []float64
	if err := json.Unmarshal([]byte(body), &scores); err == nil {
		return scores, nil
	}

	inner := strings.TrimSpace(body[1 : len(body)-1])
	if inner == "" {
		return []float64{}, nil
	}
	for _, part := range strings.Split(inner, ",") {
		part = strings.Trim(strings.TrimSpace(part), "'\"")
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrMalformedRanking, part)
		}
		scores = append(scores, v)
	}
	return scores, nil
}
