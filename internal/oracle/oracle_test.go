package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kiliankoe/lastword/internal/ai"
	"github.com/kiliankoe/lastword/internal/game"
)

type fakeProvider struct {
	mu       sync.Mutex
	requests []ai.Request
	replies  []string
	err      error
}

func (f *fakeProvider) Complete(_ context.Context, r ai.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", ai.ErrEmptyCompletion
	}
	out := f.replies[0]
	f.replies = f.replies[1:]
	return out, nil
}

func TestParseScores(t *testing.T) {
	cases := []struct {
		in   string
		want []float64
	}{
		{"[0.8, 0.1, 0.5]", []float64{0.8, 0.1, 0.5}},
		{"Here you go:\n```python\n['0.9', '0.2']\n```", []float64{0.9, 0.2}},
		{"[1,2,3,]", []float64{1, 2, 3}},
		{"[]", []float64{}},
	}
	for _, c := range cases {
		got, err := parseScores(c.in)
		if err != nil {
			t.Fatalf("parse %q: %v", c.in, err)
		}
		if len(got) != len(c.want) {
			t.Fatalf("parse %q: expected %v, got %v", c.in, c.want, got)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("parse %q: expected %v, got %v", c.in, c.want, got)
			}
		}
	}

	for _, bad := range []string{"no list here", "[0.5, great]", "] backwards ["} {
		if _, err := parseScores(bad); !errors.Is(err, ErrMalformedRanking) {
			t.Fatalf("expected ErrMalformedRanking for %q, got %v", bad, err)
		}
	}
}

func TestLLMRanker(t *testing.T) {
	p := &fakeProvider{replies: []string{"[3, 1, 2]", "[1]"}}
	r := NewLLMRanker(p, "judge")

	scores, err := r.Rank(t.Context(), "Why?", []string{"a1", "a2", "a3"})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(scores) != 3 || scores[1] != 1 {
		t.Fatalf("unexpected scores %v", scores)
	}
	prompt := p.requests[0].Prompt
	if !strings.HasPrefix(prompt, "Question: Why?\n\n") || !strings.Contains(prompt, "Answer 2: a2\n") {
		t.Fatalf("unexpected prompt %q", prompt)
	}
	if p.requests[0].Model != "judge" {
		t.Fatal("ranker should use its model")
	}

	if _, err := r.Rank(t.Context(), "Why?", []string{"a", "b"}); !errors.Is(err, ErrMalformedRanking) {
		t.Fatalf("expected ErrMalformedRanking on wrong length, got %v", err)
	}
	if len(p.requests) != 2 {
		t.Fatal("ranker must not retry on its own")
	}
}

func TestLLMQuestionsKeepsHistoryPerSession(t *testing.T) {
	p := &fakeProvider{replies: []string{"1. \"What is love?\"", "Why is the sky blue?\nextra", "Who are you?"}}
	q := NewLLMQuestions(p, "host")

	first, err := q.NextQuestion(t.Context(), "AAAAA", 1)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != "What is love?" {
		t.Fatalf("expected cleaned question, got %q", first)
	}
	second, _ := q.NextQuestion(t.Context(), "AAAAA", 2)
	if second != "Why is the sky blue?" {
		t.Fatalf("expected first line only, got %q", second)
	}
	if len(p.requests[1].History) != 2 || p.requests[1].History[1].Content != "What is love?" {
		t.Fatalf("second request should carry the first question, got %+v", p.requests[1].History)
	}

	q.NextQuestion(t.Context(), "BBBBB", 1)
	if len(p.requests[2].History) != 0 {
		t.Fatal("history should not leak between sessions")
	}

	q.Publish(t.Context(), game.Event{Type: game.EventSessionFinished, SessionCode: "AAAAA"})
	if _, ok := q.history["AAAAA"]; ok {
		t.Fatal("finished session history should be dropped")
	}
}

func TestQuestionBank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	os.WriteFile(path, []byte("questions:\n  - First?\n  - \"  \"\n  - Second?\n"), 0644)

	b, err := LoadQuestionBank(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(b.Questions) != 2 {
		t.Fatalf("blank entries should be dropped, got %v", b.Questions)
	}
	ctx := t.Context()
	if q, _ := b.NextQuestion(ctx, "AAAAA", 1); q != "First?" {
		t.Fatalf("expected First?, got %q", q)
	}
	if q, _ := b.NextQuestion(ctx, "BBBBB", 1); q != "First?" {
		t.Fatalf("each session should start at the top, got %q", q)
	}
	if q, _ := b.NextQuestion(ctx, "AAAAA", 2); q != "Second?" {
		t.Fatalf("expected Second?, got %q", q)
	}
	if _, err := b.NextQuestion(ctx, "AAAAA", 3); !errors.Is(err, ErrBankExhausted) {
		t.Fatalf("expected ErrBankExhausted, got %v", err)
	}

	if _, err := ParseQuestionBank([]byte("questions: []")); err == nil {
		t.Fatal("empty bank should be rejected")
	}
}

func TestQuestionBankShuffleCoversAll(t *testing.T) {
	b, err := ParseQuestionBank([]byte("shuffle: true\nquestions: [a, b, c, d]"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	seen := map[string]bool{}
	for i := 1; i <= 4; i++ {
		q, err := b.NextQuestion(t.Context(), "AAAAA", i)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		seen[q] = true
	}
	if len(seen) != 4 {
		t.Fatalf("shuffled bank should hand out every question once, got %v", seen)
	}
}

func TestLLMAnswerer(t *testing.T) {
	p := &fakeProvider{replies: []string{"Because."}}
	a := NewLLMAnswerer(p, "player", "")
	out, err := a.Answer(t.Context(), game.Contestant{DisplayName: "Robo"}, "Why?")
	if err != nil || out != "Because." {
		t.Fatalf("unexpected answer %q %v", out, err)
	}
	r := p.requests[0]
	if r.Prompt != "Why?" || !strings.Contains(r.System, "Robo") || r.Model != "player" {
		t.Fatalf("unexpected request %+v", r)
	}
}
