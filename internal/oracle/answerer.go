package oracle

import (
	"context"
	"fmt"

	"github.com/kiliankoe/lastword/internal/ai"
	"github.com/kiliankoe/lastword/internal/game"
)

// LLMAnswerer plays automated contestants.
type LLMAnswerer struct {
	provider ai.Provider
	model    string
	system   string
}

func NewLLMAnswerer(p ai.Provider, model, systemPrompt string) *LLMAnswerer {
	if systemPrompt == "" {
		systemPrompt = "You are a contestant in a quiz show. Answer briefly in one sentence."
	}
	return &LLMAnswerer{provider: p, model: model, system: systemPrompt}
}

func (a *LLMAnswerer) Answer(ctx context.Context, c game.Contestant, question string) (string, error) {
	system := a.system
	if c.DisplayName != "" {
		system = fmt.Sprintf("%s Your name is %s.", a.system, c.DisplayName)
	}
	return a.provider.Complete(ctx, ai.Request{
		Model:       a.model,
		System:      system,
		Prompt:      question,
		Temperature: 0.8,
		MaxTokens:   200,
	})
}
