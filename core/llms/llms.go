// Package llms defines the language model abstraction the pipeline
// generates responses through.
package llms

import (
	"context"
	"time"
)

// Role describes who a message is from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in a conversation.
type Message struct {
	Role    Role
	Content string
	// Name optionally identifies the speaker for multi-party prompts.
	Name string
}

// GenerationResult is a completed generation together with its timing.
type GenerationResult struct {
	Text             string
	Tokens           int
	TimeToFirstToken time.Duration
	TotalTime        time.Duration
	TokensPerSecond  float64
	FinishReason     string
}

// Backend generates responses from a conversation. GenerateStream sends
// incremental text chunks on the channel as they arrive and returns the
// complete result; implementations must stop promptly when the context
// is cancelled and must not send on the channel after returning.
type Backend interface {
	Generate(ctx context.Context, messages []Message) (*GenerationResult, error)
	GenerateStream(ctx context.Context, messages []Message, chunks chan<- string) (*GenerationResult, error)
	IsAvailable(ctx context.Context) bool
}
