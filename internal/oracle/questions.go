package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/kiliankoe/lastword/internal/ai"
	"github.com/kiliankoe/lastword/internal/game"
)

const (
	askSystemPrompt = "You are the host of an elimination quiz. You write short, open questions that can be answered in one sentence. Every question must be new."
	askPrompt       = "Return exactly one new question and nothing else. Never repeat a question you already asked."
)

// LLMQuestions asks a model for each turn's question. It keeps the
// conversation per session so the model can see what it already asked.
type LLMQuestions struct {
	provider ai.Provider
	model    string

	mu      sync.Mutex
	history map[string][]ai.Message
}

func NewLLMQuestions(p ai.Provider, model string) *LLMQuestions {
	return &LLMQuestions{provider: p, model: model, history: make(map[string][]ai.Message)}
}

func (q *LLMQuestions) NextQuestion(ctx context.Context, code string, turn int) (string, error) {
	q.mu.Lock()
	history := append([]ai.Message(nil), q.history[code]...)
	q.mu.Unlock()

	out, err := q.provider.Complete(ctx, ai.Request{
		Model:       q.model,
		System:      askSystemPrompt,
		History:     history,
		Prompt:      askPrompt,
		Temperature: 1.5,
		TopP:        0.5,
		MaxTokens:   128,
	})
	if err != nil {
		return "", err
	}
	question := cleanLine(out)
	if question == "" {
		return "", ai.ErrEmptyCompletion
	}

	q.mu.Lock()
	q.history[code] = append(q.history[code],
		ai.Message{Role: "user", Content: askPrompt},
		ai.Message{Role: "assistant", Content: question},
	)
	q.mu.Unlock()
	log.Debug().Str("code", code).Int("turn", turn).Str("question", question).Msg("question generated")
	return question, nil
}

// Publish drops the history of finished sessions.
func (q *LLMQuestions) Publish(_ context.Context, ev game.Event) {
	if ev.Type != game.EventSessionFinished {
		return
	}
	q.mu.Lock()
	delete(q.history, ev.SessionCode)
	q.mu.Unlock()
}

var ErrBankExhausted = errors.New("question bank exhausted")

// QuestionBank serves questions from a YAML file:
//
//	shuffle: true
//	questions:
//	  - What would you never say on a first date?
type QuestionBank struct {
	Questions []string `yaml:"questions"`
	Shuffle   bool     `yaml:"shuffle"`

	mu    sync.Mutex
	order map[string][]int
	next  map[string]int
}

func LoadQuestionBank(path string) (*QuestionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	return ParseQuestionBank(data)
}

func ParseQuestionBank(data []byte) (*QuestionBank, error) {
	var b QuestionBank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	kept := b.Questions[:0]
	for _, q := range b.Questions {
		if q = strings.TrimSpace(q); q != "" {
			kept = append(kept, q)
		}
	}
	b.Questions = kept
	if len(b.Questions) == 0 {
		return nil, errors.New("question bank has no questions")
	}
	b.order = make(map[string][]int)
	b.next = make(map[string]int)
	return &b, nil
}

// NextQuestion hands out each question at most once per session.
func (b *QuestionBank) NextQuestion(_ context.Context, code string, _ int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.order[code]
	if !ok {
		if b.Shuffle {
			order = rand.Perm(len(b.Questions))
		} else {
			order = make([]int, len(b.Questions))
			for i := range order {
				order[i] = i
			}
		}
		b.order[code] = order
	}
	i := b.next[code]
	if i >= len(order) {
		return "", ErrBankExhausted
	}
	b.next[code] = i + 1
	return b.Questions[order[i]], nil
}

func (b *QuestionBank) Publish(_ context.Context, ev game.Event) {
	if ev.Type != game.EventSessionFinished {
		return
	}
	b.mu.Lock()
	delete(b.order, ev.SessionCode)
	delete(b.next, ev.SessionCode)
	b.mu.Unlock()
}

// cleanLine strips quotes and list markers models like to add.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimLeft(s, "-* ")
	if i := strings.Index(s, ". "); i > 0 && i <= 3 {
		if _, err := strconv.Atoi(s[:i]); err == nil {
			s = s[i+2:]
		}
	}
	return strings.Trim(s, "\"' ")
}
