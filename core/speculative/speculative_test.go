package speculative

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elaravoice/elara-core/core/llms"
)

// stubBackend is a scriptable llms.Backend that records calls and
// cancellations.
type stubBackend struct {
	text    string
	latency time.Duration
	err     error

	calls     atomic.Int32
	cancelled atomic.Int32

	mu       sync.Mutex
	lastMsgs []llms.Message
}

func (s *stubBackend) Generate(ctx context.Context, messages []llms.Message) (*llms.GenerationResult, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastMsgs = append([]llms.Message{}, messages...)
	s.mu.Unlock()

	if s.latency > 0 {
		select {
		case <-ctx.Done():
			s.cancelled.Add(1)
			return nil, ctx.Err()
		case <-time.After(s.latency):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llms.GenerationResult{
		Text:         s.text,
		Tokens:       len(strings.Fields(s.text)),
		FinishReason: "stop",
	}, nil
}

func (s *stubBackend) GenerateStream(ctx context.Context, messages []llms.Message, chunks chan<- string) (*llms.GenerationResult, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastMsgs = append([]llms.Message{}, messages...)
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	words := strings.Fields(s.text)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		select {
		case <-ctx.Done():
			s.cancelled.Add(1)
			return nil, ctx.Err()
		case chunks <- chunk:
		}
	}
	return &llms.GenerationResult{
		Text:         s.text,
		Tokens:       len(words),
		FinishReason: "stop",
	}, nil
}

func (s *stubBackend) IsAvailable(context.Context) bool { return true }

func (s *stubBackend) lastMessages() []llms.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsgs
}

func userMessage(content string) []llms.Message {
	return []llms.Message{{Role: llms.RoleUser, Content: content}}
}

func testConfig(mode Mode) Config {
	config := DefaultConfig()
	config.Mode = mode
	return config
}

const goodResponse = "The weather today is sunny with a light breeze in the afternoon."

func TestDraftFirstAcceptsGoodDraft(t *testing.T) {
	fast := &stubBackend{text: goodResponse}
	slow := &stubBackend{text: "slow response text here."}
	e := NewExecutor(fast, slow, testConfig(ModeDraftFirst))

	result, err := e.Execute(context.Background(), userMessage("weather today"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelFast {
		t.Fatalf("expected fast model, got %v", result.ModelUsed)
	}
	if result.UsedFallback {
		t.Fatal("good draft must not count as a fallback")
	}
	if slow.calls.Load() != 0 {
		t.Fatalf("slow model should not run for an easy query, got %d calls", slow.calls.Load())
	}
	if result.ComplexityScore == nil {
		t.Fatal("draft-first should report complexity")
	}
}

func TestDraftFirstRoutesComplexQueriesToSlow(t *testing.T) {
	fast := &stubBackend{text: goodResponse}
	slow := &stubBackend{text: "a thorough explanation of the tradeoffs."}
	e := NewExecutor(fast, slow, testConfig(ModeDraftFirst))

	result, err := e.Execute(context.Background(),
		userMessage("explain and compare the two approaches, then analyze the tradeoffs"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow {
		t.Fatalf("expected slow model for complex query, got %v", result.ModelUsed)
	}
	if result.UsedFallback {
		t.Fatal("direct routing is not a fallback")
	}
	if fast.calls.Load() != 0 {
		t.Fatal("fast model should be skipped for complex queries")
	}
}

func TestDraftFirstFallsBackOnLowQuality(t *testing.T) {
	fast := &stubBackend{text: "@@@ ### $$$ %%% ^^^ &&& *** ((("}
	slow := &stubBackend{text: "a proper answer to the question."}
	e := NewExecutor(fast, slow, testConfig(ModeDraftFirst))

	result, err := e.Execute(context.Background(), userMessage("weather today"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow {
		t.Fatalf("expected slow fallback, got %v", result.ModelUsed)
	}
	if !result.UsedFallback {
		t.Fatal("expected fallback to be recorded")
	}
	if result.Text != slow.text {
		t.Fatalf("expected slow text, got %q", result.Text)
	}
}

func TestDraftFirstFallsBackOnTimeout(t *testing.T) {
	fast := &stubBackend{text: goodResponse, latency: 500 * time.Millisecond}
	slow := &stubBackend{text: "the slow model answers instead."}
	config := testConfig(ModeDraftFirst)
	config.DraftTimeout = 20 * time.Millisecond
	e := NewExecutor(fast, slow, config)

	result, err := e.Execute(context.Background(), userMessage("weather today"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow || !result.UsedFallback {
		t.Fatalf("expected slow fallback after timeout, got %+v", result)
	}
}

func TestDraftFirstTimeoutWithoutFallback(t *testing.T) {
	fast := &stubBackend{text: goodResponse, latency: 500 * time.Millisecond}
	slow := &stubBackend{text: "unused"}
	config := DefaultConfig()
	config.DraftTimeout = 20 * time.Millisecond
	config.FallbackEnabled = false
	e := NewExecutor(fast, slow, config)

	_, err := e.Execute(context.Background(), userMessage("weather today"))
	if !errors.Is(err, ErrDraftTimeout) {
		t.Fatalf("expected draft timeout error, got %v", err)
	}
	if slow.calls.Load() != 0 {
		t.Fatal("slow model must not run when fallback is disabled")
	}
}

func TestDraftFirstHedgesModerateComplexity(t *testing.T) {
	// One marker word plus a long prompt lands between the speculative
	// and complexity thresholds, so the slow model starts in parallel.
	prompt := "explain " + strings.Repeat("the situation with the account ", 8)

	fast := &stubBackend{text: goodResponse, latency: 500 * time.Millisecond}
	slow := &stubBackend{text: "the hedged slow answer arrives first."}
	config := testConfig(ModeDraftFirst)
	config.DraftTimeout = 20 * time.Millisecond
	e := NewExecutor(fast, slow, config)

	result, err := e.Execute(context.Background(), userMessage(prompt))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow || !result.UsedFallback {
		t.Fatalf("expected hedged slow result, got %+v", result)
	}
	if slow.calls.Load() != 1 {
		t.Fatalf("hedged slow run should be consumed, not restarted; got %d calls", slow.calls.Load())
	}
}

func TestDraftFirstFallsBackOnDraftError(t *testing.T) {
	fast := &stubBackend{err: errors.New("draft model unavailable")}
	slow := &stubBackend{text: "recovered by the slow model."}
	e := NewExecutor(fast, slow, testConfig(ModeDraftFirst))

	result, err := e.Execute(context.Background(), userMessage("weather today"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow || !result.UsedFallback {
		t.Fatalf("expected slow fallback on draft error, got %+v", result)
	}
}

func TestRaceParallelFastWins(t *testing.T) {
	fast := &stubBackend{text: goodResponse}
	slow := &stubBackend{text: "slow", latency: 500 * time.Millisecond}
	e := NewExecutor(fast, slow, testConfig(ModeRaceParallel))

	result, err := e.Execute(context.Background(), userMessage("weather today"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelFast {
		t.Fatalf("expected fast winner, got %v", result.ModelUsed)
	}

	// The losing slow run is cancelled rather than left to finish.
	deadline := time.Now().Add(time.Second)
	for slow.cancelled.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if slow.cancelled.Load() == 0 {
		t.Fatal("expected the losing slow run to be cancelled")
	}
}

func TestRaceParallelFastWinButLowQuality(t *testing.T) {
	fast := &stubBackend{text: "@@@ ### $$$ %%% ^^^ &&& *** ((("}
	slow := &stubBackend{text: "the quality answer from the slow model.", latency: 50 * time.Millisecond}
	e := NewExecutor(fast, slow, testConfig(ModeRaceParallel))

	result, err := e.Execute(context.Background(), userMessage("weather today"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow || !result.UsedFallback {
		t.Fatalf("expected fresh slow result, got %+v", result)
	}
	if result.Text != slow.text {
		t.Fatalf("unexpected text %q", result.Text)
	}
}

func TestRaceParallelSlowWins(t *testing.T) {
	fast := &stubBackend{text: goodResponse, latency: 500 * time.Millisecond}
	slow := &stubBackend{text: "the slow model was faster today."}
	e := NewExecutor(fast, slow, testConfig(ModeRaceParallel))

	result, err := e.Execute(context.Background(), userMessage("weather today"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow {
		t.Fatalf("expected slow winner, got %v", result.ModelUsed)
	}
	if result.UsedFallback {
		t.Fatal("winning outright is not a fallback")
	}
}

func TestRaceParallelRoutesComplexToSlow(t *testing.T) {
	fast := &stubBackend{text: goodResponse}
	slow := &stubBackend{text: "a thorough explanation of the tradeoffs."}
	e := NewExecutor(fast, slow, testConfig(ModeRaceParallel))

	result, err := e.Execute(context.Background(),
		userMessage("explain and compare the two approaches, then analyze the tradeoffs"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow {
		t.Fatalf("expected slow model for complex query, got %v", result.ModelUsed)
	}
	if fast.calls.Load() != 0 {
		t.Fatal("fast model should be skipped for complex queries")
	}
	if result.ComplexityScore == nil || *result.ComplexityScore <= e.config.ComplexityThreshold {
		t.Fatalf("expected complexity above threshold, got %v", result.ComplexityScore)
	}
}

func TestHybridStreamingStaysOnGoodDraft(t *testing.T) {
	fast := &stubBackend{text: goodResponse + " It should stay pleasant through the evening hours."}
	slow := &stubBackend{text: "unused"}
	e := NewExecutor(fast, slow, testConfig(ModeHybridStreaming))

	chunks := make(chan string, 256)
	result, err := e.ExecuteStream(context.Background(), userMessage("weather today"), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(chunks)

	if result.ModelUsed != ModelFast {
		t.Fatalf("expected fast model, got %v", result.ModelUsed)
	}
	if slow.calls.Load() != 0 {
		t.Fatal("slow model should not run for a good draft")
	}

	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	if b.String() != result.Text {
		t.Fatalf("streamed text %q does not match result %q", b.String(), result.Text)
	}
}

func TestHybridStreamingSwitchesOnQualityDrop(t *testing.T) {
	badDraft := strings.TrimSpace(strings.Repeat("error: failed to respond ", 5))
	fast := &stubBackend{text: badDraft}
	slow := &stubBackend{text: "and here is the corrected continuation."}
	e := NewExecutor(fast, slow, testConfig(ModeHybridStreaming))

	chunks := make(chan string, 256)
	result, err := e.ExecuteStream(context.Background(), userMessage("weather today"), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ModelUsed != ModelHybrid || !result.UsedFallback {
		t.Fatalf("expected hybrid fallback, got %+v", result)
	}
	if !strings.HasSuffix(result.Text, slow.text) {
		t.Fatalf("expected slow continuation at the end of %q", result.Text)
	}
	if !strings.HasPrefix(result.Text, "error: failed") {
		t.Fatalf("expected draft prefix preserved in %q", result.Text)
	}

	// The continuation prompt carries the draft prefix as a trailing
	// assistant message.
	msgs := slow.lastMessages()
	lastMsg := msgs[len(msgs)-1]
	if lastMsg.Role != llms.RoleAssistant || !strings.HasPrefix(lastMsg.Content, "error: failed") {
		t.Fatalf("expected draft prefix in continuation prompt, got %+v", lastMsg)
	}
}

func TestHybridStreamingRoutesComplexToSlow(t *testing.T) {
	fast := &stubBackend{text: "unused draft"}
	slow := &stubBackend{text: "a thorough explanation of the tradeoffs."}
	e := NewExecutor(fast, slow, testConfig(ModeHybridStreaming))

	chunks := make(chan string, 256)
	result, err := e.ExecuteStream(context.Background(),
		userMessage("explain and compare the two approaches, then analyze the tradeoffs"), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(chunks)

	if result.ModelUsed != ModelSlow {
		t.Fatalf("expected slow model for complex query, got %v", result.ModelUsed)
	}
	if fast.calls.Load() != 0 {
		t.Fatal("fast model should be skipped for complex queries")
	}

	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	if b.String() != slow.text {
		t.Fatalf("streamed text %q does not match slow response %q", b.String(), slow.text)
	}
}

func TestDraftVerifyAcceptsCompleteDraft(t *testing.T) {
	fast := &stubBackend{text: "The answer you need is right here."}
	slow := &stubBackend{text: "unused"}
	e := NewExecutor(fast, slow, testConfig(ModeDraftVerify))

	result, err := e.Execute(context.Background(), userMessage("tell me the answer please"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelFast {
		t.Fatalf("expected fast-only result, got %v", result.ModelUsed)
	}
	if result.UsedFallback {
		t.Fatal("accepted drafts are not fallbacks")
	}
	if slow.calls.Load() != 0 {
		t.Fatal("slow model should not run for an accepted complete draft")
	}
	if fast.calls.Load() != 1 {
		t.Fatalf("expected a single draft iteration, got %d", fast.calls.Load())
	}
}

func TestDraftVerifyRejectsAndFinishesWithSlow(t *testing.T) {
	fast := &stubBackend{text: "@@@@@ ##### $$$$$"}
	slow := &stubBackend{text: "A clean answer produced by the slow model."}
	e := NewExecutor(fast, slow, testConfig(ModeDraftVerify))

	result, err := e.Execute(context.Background(), userMessage("tell me the answer please"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.UsedFallback {
		t.Fatal("expected fallback after rejected draft")
	}
	if !strings.Contains(result.Text, slow.text) {
		t.Fatalf("expected slow completion in %q", result.Text)
	}
}

func TestDraftVerifyExhaustsIterations(t *testing.T) {
	fast := &stubBackend{text: "more words that trail off and"}
	slow := &stubBackend{text: " finally a conclusion."}
	config := testConfig(ModeDraftVerify)
	config.MaxDraftIterations = 3
	e := NewExecutor(fast, slow, config)

	result, err := e.Execute(context.Background(), userMessage("tell me a story"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fast.calls.Load() != 3 {
		t.Fatalf("expected 3 draft iterations, got %d", fast.calls.Load())
	}
	if slow.calls.Load() != 1 {
		t.Fatalf("expected slow completion, got %d calls", slow.calls.Load())
	}
	if !strings.HasSuffix(result.Text, slow.text) {
		t.Fatalf("expected slow completion at the end of %q", result.Text)
	}
	if result.ModelUsed != ModelHybrid {
		t.Fatalf("expected hybrid attribution, got %v", result.ModelUsed)
	}
}

func TestDraftVerifyRoutesComplexToSlow(t *testing.T) {
	fast := &stubBackend{text: "unused"}
	slow := &stubBackend{text: "A full explanation from the slow model."}
	e := NewExecutor(fast, slow, testConfig(ModeDraftVerify))

	result, err := e.Execute(context.Background(),
		userMessage("explain and compare the two approaches, then analyze the tradeoffs"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelUsed != ModelSlow {
		t.Fatalf("expected slow routing, got %v", result.ModelUsed)
	}
	if fast.calls.Load() != 0 {
		t.Fatal("fast model should be skipped for complex queries")
	}
}

func TestExecuteRespectsCancelledContext(t *testing.T) {
	fast := &stubBackend{text: goodResponse, latency: time.Second}
	slow := &stubBackend{text: "slow", latency: time.Second}
	e := NewExecutor(fast, slow, testConfig(ModeRaceParallel))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Execute(ctx, userMessage("weather today")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestStatsWelfordMean(t *testing.T) {
	e := NewExecutor(&stubBackend{}, &stubBackend{}, DefaultConfig())

	e.updateStats(true, false, 10*time.Millisecond)
	e.updateStats(true, false, 20*time.Millisecond)
	e.updateStats(true, false, 30*time.Millisecond)

	stats := e.Stats()
	if stats.FastCalls != 3 || stats.FastSuccesses != 3 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.AvgFastTimeMS < 19.9 || stats.AvgFastTimeMS > 20.1 {
		t.Fatalf("expected mean near 20ms, got %f", stats.AvgFastTimeMS)
	}
}

func TestStatsFallbackCounting(t *testing.T) {
	e := NewExecutor(&stubBackend{}, &stubBackend{}, DefaultConfig())

	e.updateStats(true, true, 50*time.Millisecond)
	e.updateStats(false, true, 80*time.Millisecond)

	stats := e.Stats()
	if stats.FastCalls != 1 || stats.FastSuccesses != 0 {
		t.Fatalf("unexpected fast counts: %+v", stats)
	}
	if stats.SlowCalls != 2 || stats.SlowFallbacks != 1 {
		t.Fatalf("unexpected slow counts: %+v", stats)
	}
}

func TestStatsAccumulateAcrossExecutions(t *testing.T) {
	fast := &stubBackend{text: goodResponse}
	slow := &stubBackend{text: "slow"}
	e := NewExecutor(fast, slow, testConfig(ModeDraftFirst))

	for i := 0; i < 5; i++ {
		if _, err := e.Execute(context.Background(), userMessage("weather today")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stats := e.Stats()
	if stats.FastCalls != 5 || stats.FastSuccesses != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.AvgFastTimeMS < 0 {
		t.Fatalf("mean must be non-negative, got %f", stats.AvgFastTimeMS)
	}

	e.ResetStats()
	if e.Stats() != (Stats{}) {
		t.Fatal("expected stats cleared")
	}
}

func TestConfigDefaults(t *testing.T) {
	config := DefaultConfig()
	if config.Mode != ModeDraftFirst {
		t.Fatalf("unexpected default mode %v", config.Mode)
	}
	if !config.FallbackEnabled {
		t.Fatal("fallback should default on")
	}
	if config.SpeculativeThreshold <= 0 || config.SpeculativeThreshold >= config.ComplexityThreshold {
		t.Fatalf("speculative threshold %f should sit below complexity threshold %f",
			config.SpeculativeThreshold, config.ComplexityThreshold)
	}
	if config.DraftTimeout != 100*time.Millisecond {
		t.Fatalf("unexpected draft timeout %v", config.DraftTimeout)
	}
}
