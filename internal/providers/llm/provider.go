// Package llm talks to an OpenAI-compatible chat completion API. Token usage
// reported by the provider is the input to metering, so a completion without
// usage data is treated as a failure.
package llm

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Completion struct {
	Text        string `json:"text"`
	TotalTokens int64  `json:"total_tokens"`
}

type Provider interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

// NoOpProvider returns a canned completion. Used in tests and when no API
// key is configured.
type NoOpProvider struct {
	Text        string
	TotalTokens int64
}

func (p *NoOpProvider) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	text := p.Text
	if text == "" {
		text = "ok"
	}
	tokens := p.TotalTokens
	if tokens <= 0 {
		tokens = 1
	}
	return &Completion{Text: text, TotalTokens: tokens}, nil
}
