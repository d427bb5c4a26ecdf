package llm

import (
	"context"
	"errors"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrEmptyResponse = errors.New("llm returned no choices")

type Message struct {
	Role    string
	Content string
}

// Provider talks to a chat completion backend
type Provider interface {
	Model() string
	Complete(ctx context.Context, messages []Message) (string, error)
	// Stream calls onDelta for each content fragment in arrival order.
	// It returns ctx.Err() when the context is cancelled mid-stream.
	Stream(ctx context.Context, messages []Message, onDelta func(string) error) error
}

// MockProvider answers without an external API, for local development
type MockProvider struct{}

func (MockProvider) Model() string { return "mock-legalsathi" }

func (m MockProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	return m.reply(messages), nil
}

func (m MockProvider) Stream(ctx context.Context, messages []Message, onDelta func(string) error) error {
	words := strings.SplitAfter(m.reply(messages), " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(w); err != nil {
			return err
		}
	}
	return nil
}

func (MockProvider) reply(messages []Message) string {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = messages[i].Content
			break
		}
	}
	return "Understood. (mock) You asked: \"" + last + "\""
}
