package ai

import (
	"context"
	"errors"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call. History is sent between the system
// prompt and Prompt, which lets callers keep a running conversation.
type Request struct {
	Model       string
	System      string
	History     []Message
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

var ErrEmptyCompletion = errors.New("empty completion")

// Messages returns the full chat for req in send order.
func (r Request) Messages() []Message {
	out := make([]Message, 0, len(r.History)+2)
	if r.System != "" {
		out = append(out, Message{Role: "system", Content: r.System})
	}
	out = append(out, r.History...)
	if r.Prompt != "" {
		out = append(out, Message{Role: "user", Content: r.Prompt})
	}
	return out
}
