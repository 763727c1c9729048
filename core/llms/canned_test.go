package llms

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCannedRoutesByPromptShape(t *testing.T) {
	c := NewCanned()

	cases := []struct {
		prompt string
		want   string
	}{
		{"hello there", c.greeting},
		{"hey, anyone home", c.greeting},
		{"what time is it?", c.question},
		{"how does this work", c.question},
		{"i had pasta for lunch", c.fallback},
	}
	for _, tc := range cases {
		result, err := c.Generate(context.Background(), []Message{{Role: RoleUser, Content: tc.prompt}})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.prompt, err)
		}
		if result.Text != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.prompt, tc.want, result.Text)
		}
		if result.FinishReason != "stop" {
			t.Fatalf("%q: expected stop, got %q", tc.prompt, result.FinishReason)
		}
	}
}

func TestCannedUsesLastUserMessage(t *testing.T) {
	c := NewCanned()
	result, err := c.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: c.greeting},
		{Role: RoleUser, Content: "what is the weather?"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != c.question {
		t.Fatalf("expected question template, got %q", result.Text)
	}
}

func TestCannedStreamReassembles(t *testing.T) {
	c := NewCanned()
	chunks := make(chan string, 64)

	result, err := c.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(chunks)

	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	if b.String() != result.Text {
		t.Fatalf("streamed text %q does not match result %q", b.String(), result.Text)
	}
}

func TestCannedRespectsCancellation(t *testing.T) {
	c := NewCanned(WithLatency(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Generate(ctx, []Message{{Role: RoleUser, Content: "hello"}}); err == nil {
		t.Fatal("expected context error")
	}
}
