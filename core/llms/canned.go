package llms

import (
	"context"
	"strings"
	"time"
)

// Canned is an offline backend with templated responses. It answers
// greetings and questions differently from statements, which is enough
// to exercise the full pipeline without a model behind it.
type Canned struct {
	greeting string
	question string
	fallback string
	latency  time.Duration
	chunkLen int
}

// CannedOption configures a Canned backend.
type CannedOption func(*Canned)

// WithResponses overrides the three response templates.
func WithResponses(greeting, question, fallback string) CannedOption {
	return func(c *Canned) {
		c.greeting = greeting
		c.question = question
		c.fallback = fallback
	}
}

// WithLatency adds artificial generation delay.
func WithLatency(d time.Duration) CannedOption {
	return func(c *Canned) { c.latency = d }
}

// NewCanned creates a canned backend with the default templates.
func NewCanned(opts ...CannedOption) *Canned {
	c := &Canned{
		greeting: "Hello! How can I help you today?",
		question: "That's a good question. Let me think about it.",
		fallback: "I see. Tell me more about that.",
		chunkLen: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate picks a template based on the last user message.
func (c *Canned) Generate(ctx context.Context, messages []Message) (*GenerationResult, error) {
	start := time.Now()
	if c.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.latency):
		}
	}

	text := c.respond(lastUserContent(messages))
	total := time.Since(start)
	return &GenerationResult{
		Text:             text,
		Tokens:           len(strings.Fields(text)),
		TimeToFirstToken: total,
		TotalTime:        total,
		FinishReason:     "stop",
	}, nil
}

// GenerateStream emits the templated response in small chunks.
func (c *Canned) GenerateStream(ctx context.Context, messages []Message, chunks chan<- string) (*GenerationResult, error) {
	start := time.Now()
	text := c.respond(lastUserContent(messages))

	var firstToken time.Duration
	for i := 0; i < len(text); i += c.chunkLen {
		if c.latency > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.latency / time.Duration(1+len(text)/c.chunkLen)):
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		end := i + c.chunkLen
		if end > len(text) {
			end = len(text)
		}
		if firstToken == 0 {
			firstToken = time.Since(start)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunks <- text[i:end]:
		}
	}

	total := time.Since(start)
	return &GenerationResult{
		Text:             text,
		Tokens:           len(strings.Fields(text)),
		TimeToFirstToken: firstToken,
		TotalTime:        total,
		FinishReason:     "stop",
	}, nil
}

// IsAvailable always reports true.
func (c *Canned) IsAvailable(context.Context) bool { return true }

func (c *Canned) respond(prompt string) string {
	lowered := strings.ToLower(prompt)
	switch {
	case strings.Contains(lowered, "hello") || strings.Contains(lowered, "hi ") ||
		strings.HasPrefix(lowered, "hi") || strings.Contains(lowered, "hey"):
		return c.greeting
	case strings.Contains(prompt, "?") ||
		strings.HasPrefix(lowered, "what") || strings.HasPrefix(lowered, "how") ||
		strings.HasPrefix(lowered, "why") || strings.HasPrefix(lowered, "when") ||
		strings.HasPrefix(lowered, "where") || strings.HasPrefix(lowered, "who"):
		return c.question
	default:
		return c.fallback
	}
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
