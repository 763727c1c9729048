// Package conversations keeps the bounded message history a session
// prompts its model with.
package conversations

import (
	"log"
	"sync"

	"github.com/jinzhu/copier"

	"github.com/elaravoice/elara-core/core/llms"
)

// DefaultMaxTurns bounds how many messages a history retains.
const DefaultMaxTurns = 32

// History is a bounded, concurrency-safe message log. When full, the
// oldest non-system message is evicted.
type History struct {
	mu       sync.Mutex
	messages []llms.Message
	maxTurns int
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithMaxTurns overrides the retention bound.
func WithMaxTurns(n int) HistoryOption {
	return func(h *History) { h.maxTurns = n }
}

// NewHistory creates an empty history.
func NewHistory(opts ...HistoryOption) *History {
	h := &History{maxTurns: DefaultMaxTurns}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Append adds a message, evicting the oldest non-system message once
// the bound is reached.
func (h *History) Append(message llms.Message) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, message)
	if len(h.messages) <= h.maxTurns {
		return
	}

	for i, m := range h.messages {
		if m.Role != llms.RoleSystem {
			h.messages = append(h.messages[:i], h.messages[i+1:]...)
			return
		}
	}
	h.messages = h.messages[1:]
}

// Messages returns a defensive copy of the history.
func (h *History) Messages() []llms.Message {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]llms.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Snapshot deep-copies the history, so callers can mutate the result
// freely while the session keeps appending.
func (h *History) Snapshot() []llms.Message {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []llms.Message
	if err := copier.CopyWithOption(&out, h.messages, copier.Option{DeepCopy: true}); err != nil {
		log.Println("Failed to snapshot conversation history", "error", err)
		out = make([]llms.Message, len(h.messages))
		copy(out, h.messages)
	}
	return out
}

// Len reports the number of retained messages.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Clear drops all messages.
func (h *History) Clear() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
