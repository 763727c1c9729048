package conversations

import (
	"fmt"
	"testing"

	"github.com/elaravoice/elara-core/core/llms"
)

func TestHistoryAppendAndRead(t *testing.T) {
	h := NewHistory()
	h.Append(llms.Message{Role: llms.RoleUser, Content: "hello"})
	h.Append(llms.Message{Role: llms.RoleAssistant, Content: "hi"})

	messages := h.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "hello" || messages[1].Content != "hi" {
		t.Fatalf("unexpected order: %+v", messages)
	}
}

func TestHistoryEvictsOldestNonSystem(t *testing.T) {
	h := NewHistory(WithMaxTurns(3))
	h.Append(llms.Message{Role: llms.RoleSystem, Content: "instructions"})
	for i := 0; i < 5; i++ {
		h.Append(llms.Message{Role: llms.RoleUser, Content: fmt.Sprintf("message %d", i)})
	}

	messages := h.Messages()
	if len(messages) != 3 {
		t.Fatalf("expected bound of 3, got %d", len(messages))
	}
	if messages[0].Role != llms.RoleSystem {
		t.Fatal("system message should survive eviction")
	}
	if messages[1].Content != "message 3" || messages[2].Content != "message 4" {
		t.Fatalf("expected newest user messages, got %+v", messages)
	}
}

func TestHistoryMessagesIsACopy(t *testing.T) {
	h := NewHistory()
	h.Append(llms.Message{Role: llms.RoleUser, Content: "original"})

	messages := h.Messages()
	messages[0].Content = "mutated"

	if h.Messages()[0].Content != "original" {
		t.Fatal("mutating the returned slice must not affect the history")
	}
}

func TestHistorySnapshotIsolation(t *testing.T) {
	h := NewHistory()
	h.Append(llms.Message{Role: llms.RoleUser, Content: "before"})

	snapshot := h.Snapshot()
	h.Append(llms.Message{Role: llms.RoleAssistant, Content: "after"})

	if len(snapshot) != 1 {
		t.Fatalf("snapshot should be fixed at capture time, got %d messages", len(snapshot))
	}
	snapshot[0].Content = "mutated"
	if h.Messages()[0].Content != "before" {
		t.Fatal("mutating the snapshot must not affect the history")
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.Append(llms.Message{Role: llms.RoleUser, Content: "hello"})
	h.Clear()

	if h.Len() != 0 {
		t.Fatalf("expected empty history, got %d", h.Len())
	}
}
