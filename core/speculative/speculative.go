// Package speculative races a fast draft model against a slower, higher
// quality one so most turns answer at draft-model latency without giving
// up quality on the hard ones.
package speculative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/elaravoice/elara-core/core/llms"
)

// Mode selects the execution strategy.
type Mode string

const (
	// ModeDraftFirst tries the fast model first and upgrades when the
	// query is complex or the draft is poor. Recommended default.
	ModeDraftFirst Mode = "draft_first"
	// ModeRaceParallel runs both models and takes the first acceptable
	// response.
	ModeRaceParallel Mode = "race_parallel"
	// ModeHybridStreaming streams the fast model and switches to the
	// slow one mid-stream if quality drops.
	ModeHybridStreaming Mode = "hybrid_streaming"
	// ModeDraftVerify drafts in chunks with the fast model, verifying
	// each chunk before accepting it.
	ModeDraftVerify Mode = "draft_verify"
)

// Config tunes the executor. Zero values are replaced with the defaults
// from DefaultConfig.
type Config struct {
	Mode Mode
	// ComplexityThreshold routes queries above it straight to the slow
	// model.
	ComplexityThreshold float64
	// DraftTimeout bounds how long the fast model may take.
	DraftTimeout time.Duration
	// SpeculativeThreshold starts the slow model in parallel when
	// complexity exceeds it, so a fallback costs no extra latency. Set
	// to 1.0 to disable hedging.
	SpeculativeThreshold float64
	// QualityThreshold accepts draft responses scoring at or above it.
	QualityThreshold float64
	// MinTokensBeforeSwitch delays the hybrid-streaming quality check
	// until the draft has substance.
	MinTokensBeforeSwitch int
	// DraftChunkSize is the draft length per verify iteration.
	DraftChunkSize int
	// MaxDraftIterations bounds the draft-verify loop.
	MaxDraftIterations int
	// VerificationThreshold accepts verified drafts at or above it.
	VerificationThreshold float64
	// FallbackEnabled permits upgrading to the slow model.
	FallbackEnabled bool
	// DomainTerms drive relevance scoring; empty disables it.
	DomainTerms []string
}

// DefaultConfig returns the tuning the pipeline ships with.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeDraftFirst,
		ComplexityThreshold:   0.7,
		DraftTimeout:          100 * time.Millisecond,
		SpeculativeThreshold:  0.3,
		QualityThreshold:      0.8,
		MinTokensBeforeSwitch: 10,
		DraftChunkSize:        20,
		MaxDraftIterations:    5,
		VerificationThreshold: 0.7,
		FallbackEnabled:       true,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Mode == "" {
		c.Mode = defaults.Mode
	}
	if c.ComplexityThreshold == 0 {
		c.ComplexityThreshold = defaults.ComplexityThreshold
	}
	if c.DraftTimeout == 0 {
		c.DraftTimeout = defaults.DraftTimeout
	}
	if c.SpeculativeThreshold == 0 {
		c.SpeculativeThreshold = defaults.SpeculativeThreshold
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = defaults.QualityThreshold
	}
	if c.MinTokensBeforeSwitch == 0 {
		c.MinTokensBeforeSwitch = defaults.MinTokensBeforeSwitch
	}
	if c.DraftChunkSize == 0 {
		c.DraftChunkSize = defaults.DraftChunkSize
	}
	if c.MaxDraftIterations == 0 {
		c.MaxDraftIterations = defaults.MaxDraftIterations
	}
	if c.VerificationThreshold == 0 {
		c.VerificationThreshold = defaults.VerificationThreshold
	}
	return c
}

// ModelUsed identifies which model produced the response.
type ModelUsed string

const (
	ModelFast   ModelUsed = "fast"
	ModelSlow   ModelUsed = "slow"
	ModelHybrid ModelUsed = "hybrid"
)

// Result is the outcome of one speculative execution.
type Result struct {
	Text         string
	ModelUsed    ModelUsed
	Generation   llms.GenerationResult
	UsedFallback bool
	// ComplexityScore is set for modes that compute it.
	ComplexityScore *float64
}

// Stats aggregates executor behavior over its lifetime. Averages are in
// milliseconds and maintained incrementally.
type Stats struct {
	FastCalls     int
	SlowCalls     int
	FastSuccesses int
	SlowFallbacks int
	AvgFastTimeMS float64
	AvgSlowTimeMS float64
}

// ErrDraftTimeout is returned when the fast model times out and fallback
// is disabled.
var ErrDraftTimeout = errors.New("draft model timed out")

// Executor coordinates the two models.
type Executor struct {
	fast   llms.Backend
	slow   llms.Backend
	config Config

	mu    sync.Mutex
	stats Stats
}

// NewExecutor creates an executor over a fast and a slow backend.
func NewExecutor(fast, slow llms.Backend, config Config) *Executor {
	return &Executor{fast: fast, slow: slow, config: config.withDefaults()}
}

type generateOutcome struct {
	result *llms.GenerationResult
	err    error
}

// Execute runs the configured strategy.
func (e *Executor) Execute(ctx context.Context, messages []llms.Message) (*Result, error) {
	ctx, span := tracer.Start(ctx, "speculative execute")
	defer span.End()
	span.SetAttributes(attribute.String("speculative.mode", string(e.config.Mode)))

	start := time.Now()
	defer func() { executeLatency.Record(ctx, time.Since(start).Seconds()) }()

	var (
		result *Result
		err    error
	)
	switch e.config.Mode {
	case ModeDraftFirst:
		result, err = e.executeDraftFirst(ctx, messages)
	case ModeRaceParallel:
		result, err = e.executeRaceParallel(ctx, messages)
	case ModeHybridStreaming:
		// Without an output channel there is nothing to switch
		// mid-stream, so this degenerates to draft-first.
		result, err = e.executeDraftFirst(ctx, messages)
	case ModeDraftVerify:
		result, err = e.executeDraftVerify(ctx, messages)
	default:
		err = fmt.Errorf("unknown speculative mode %q", e.config.Mode)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "speculative execution failed")
		return nil, err
	}
	if result.UsedFallback {
		fallbackUses.Add(ctx, 1)
	}
	span.SetAttributes(
		attribute.String("speculative.model_used", string(result.ModelUsed)),
		attribute.Bool("speculative.used_fallback", result.UsedFallback),
	)
	return result, nil
}

// ExecuteStream runs the configured strategy, streaming text on the
// channel as it is produced. Modes without a streaming path run to
// completion and send the full text once.
func (e *Executor) ExecuteStream(ctx context.Context, messages []llms.Message, chunks chan<- string) (*Result, error) {
	switch e.config.Mode {
	case ModeDraftFirst:
		return e.executeDraftFirstStream(ctx, messages, chunks)
	case ModeHybridStreaming:
		return e.executeHybridStreaming(ctx, messages, chunks)
	default:
		result, err := e.Execute(ctx, messages)
		if err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunks <- result.Text:
		}
		return result, nil
	}
}

// executeDraftFirst tries the fast model under a timeout, hedging with
// the slow model in parallel for moderately complex queries so a
// fallback does not pay sequential latency.
func (e *Executor) executeDraftFirst(ctx context.Context, messages []llms.Message) (*Result, error) {
	start := time.Now()
	complexity := e.estimateComplexity(messages)

	if complexity > e.config.ComplexityThreshold {
		result, err := e.slow.Generate(ctx, messages)
		if err != nil {
			return nil, err
		}
		e.updateStats(false, true, time.Since(start))
		return &Result{
			Text:            result.Text,
			ModelUsed:       ModelSlow,
			Generation:      *result,
			ComplexityScore: &complexity,
		}, nil
	}

	// Hedge: start the slow model now if a fallback is plausible.
	var (
		slowCh     chan generateOutcome
		cancelSlow context.CancelFunc
	)
	if e.config.FallbackEnabled && complexity > e.config.SpeculativeThreshold {
		var slowCtx context.Context
		slowCtx, cancelSlow = context.WithCancel(ctx)
		defer cancelSlow()

		slowCh = make(chan generateOutcome, 1)
		logger.Debug("starting hedged slow generation", "complexity", complexity)
		go func() {
			result, err := e.slow.Generate(slowCtx, messages)
			slowCh <- generateOutcome{result, err}
		}()
	}

	fastCtx, cancelFast := context.WithCancel(ctx)
	defer cancelFast()
	fastCh := make(chan generateOutcome, 1)
	go func() {
		result, err := e.fast.Generate(fastCtx, messages)
		fastCh <- generateOutcome{result, err}
	}()

	timer := time.NewTimer(e.config.DraftTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case outcome := <-fastCh:
		if outcome.err == nil {
			quality := e.estimateQuality(outcome.result.Text, messages)
			if quality >= e.config.QualityThreshold || !e.config.FallbackEnabled {
				if cancelSlow != nil {
					cancelSlow()
				}
				e.updateStats(true, false, time.Since(start))
				return &Result{
					Text:            outcome.result.Text,
					ModelUsed:       ModelFast,
					Generation:      *outcome.result,
					ComplexityScore: &complexity,
				}, nil
			}
			logger.Debug("draft quality below threshold, falling back", "quality", quality)
		} else if !e.config.FallbackEnabled {
			if cancelSlow != nil {
				cancelSlow()
			}
			return nil, outcome.err
		}
		return e.awaitSlow(ctx, messages, slowCh, complexity, start)

	case <-timer.C:
		cancelFast()
		if !e.config.FallbackEnabled {
			if cancelSlow != nil {
				cancelSlow()
			}
			return nil, ErrDraftTimeout
		}
		logger.Debug("draft timed out, falling back")
		return e.awaitSlow(ctx, messages, slowCh, complexity, start)
	}
}

// awaitSlow resolves the fallback result, consuming the hedged
// generation when one is in flight and starting fresh otherwise.
func (e *Executor) awaitSlow(ctx context.Context, messages []llms.Message, slowCh chan generateOutcome, complexity float64, start time.Time) (*Result, error) {
	var (
		result *llms.GenerationResult
		err    error
	)
	if slowCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case outcome := <-slowCh:
			result, err = outcome.result, outcome.err
		}
	} else {
		result, err = e.slow.Generate(ctx, messages)
	}
	if err != nil {
		return nil, err
	}

	e.updateStats(true, true, time.Since(start))
	return &Result{
		Text:            result.Text,
		ModelUsed:       ModelSlow,
		Generation:      *result,
		UsedFallback:    true,
		ComplexityScore: &complexity,
	}, nil
}

// executeDraftFirstStream routes by complexity, then streams from the
// chosen model.
func (e *Executor) executeDraftFirstStream(ctx context.Context, messages []llms.Message, chunks chan<- string) (*Result, error) {
	start := time.Now()
	complexity := e.estimateComplexity(messages)

	if complexity > e.config.ComplexityThreshold {
		result, err := e.slow.GenerateStream(ctx, messages, chunks)
		if err != nil {
			return nil, err
		}
		e.updateStats(false, true, time.Since(start))
		return &Result{
			Text:            result.Text,
			ModelUsed:       ModelSlow,
			Generation:      *result,
			ComplexityScore: &complexity,
		}, nil
	}

	result, err := e.fast.GenerateStream(ctx, messages, chunks)
	if err != nil {
		return nil, err
	}
	e.updateStats(true, false, time.Since(start))
	return &Result{
		Text:            result.Text,
		ModelUsed:       ModelFast,
		Generation:      *result,
		ComplexityScore: &complexity,
	}, nil
}

// executeRaceParallel spawns both models and takes the first acceptable
// response, cancelling the loser. Queries over the complexity threshold
// skip the race and go straight to the slow model.
func (e *Executor) executeRaceParallel(ctx context.Context, messages []llms.Message) (*Result, error) {
	start := time.Now()

	complexity := e.estimateComplexity(messages)
	if complexity > e.config.ComplexityThreshold {
		result, err := e.slow.Generate(ctx, messages)
		if err != nil {
			return nil, err
		}
		e.updateStats(false, true, time.Since(start))
		return &Result{
			Text:            result.Text,
			ModelUsed:       ModelSlow,
			Generation:      *result,
			ComplexityScore: &complexity,
		}, nil
	}

	fastCtx, cancelFast := context.WithCancel(ctx)
	defer cancelFast()
	slowCtx, cancelSlow := context.WithCancel(ctx)
	defer cancelSlow()

	fastCh := make(chan generateOutcome, 1)
	slowCh := make(chan generateOutcome, 1)
	go func() {
		result, err := e.fast.Generate(fastCtx, messages)
		fastCh <- generateOutcome{result, err}
	}()
	go func() {
		result, err := e.slow.Generate(slowCtx, messages)
		slowCh <- generateOutcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case outcome := <-fastCh:
		cancelSlow()
		logger.Debug("fast model won race")

		if outcome.err != nil {
			if !e.config.FallbackEnabled {
				return nil, outcome.err
			}
			return e.freshSlow(ctx, messages, start)
		}

		quality := e.estimateQuality(outcome.result.Text, messages)
		if quality >= e.config.QualityThreshold || !e.config.FallbackEnabled {
			e.updateStats(true, false, time.Since(start))
			return &Result{
				Text:       outcome.result.Text,
				ModelUsed:  ModelFast,
				Generation: *outcome.result,
			}, nil
		}
		// The slow run was already cancelled, start over.
		return e.freshSlow(ctx, messages, start)

	case outcome := <-slowCh:
		cancelFast()
		logger.Debug("slow model won race")

		if outcome.err != nil {
			return nil, outcome.err
		}
		e.updateStats(false, true, time.Since(start))
		return &Result{
			Text:       outcome.result.Text,
			ModelUsed:  ModelSlow,
			Generation: *outcome.result,
		}, nil
	}
}

func (e *Executor) freshSlow(ctx context.Context, messages []llms.Message, start time.Time) (*Result, error) {
	result, err := e.slow.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	e.updateStats(true, true, time.Since(start))
	return &Result{
		Text:         result.Text,
		ModelUsed:    ModelSlow,
		Generation:   *result,
		UsedFallback: true,
	}, nil
}

// executeHybridStreaming streams the fast model and, once enough tokens
// have arrived to judge it, switches to the slow model when quality
// drops below 80% of the acceptance threshold. The draft prefix is kept
// and the slow model continues from it. Queries over the complexity
// threshold skip the draft entirely and stream from the slow model.
func (e *Executor) executeHybridStreaming(ctx context.Context, messages []llms.Message, out chan<- string) (*Result, error) {
	start := time.Now()

	complexity := e.estimateComplexity(messages)
	if complexity > e.config.ComplexityThreshold {
		result, err := e.slow.GenerateStream(ctx, messages, out)
		if err != nil {
			return nil, err
		}
		e.updateStats(false, true, time.Since(start))
		return &Result{
			Text:            result.Text,
			ModelUsed:       ModelSlow,
			Generation:      *result,
			ComplexityScore: &complexity,
		}, nil
	}

	fastCtx, cancelFast := context.WithCancel(ctx)
	defer cancelFast()

	fastChunks := make(chan string, 100)
	fastCh := make(chan generateOutcome, 1)
	go func() {
		result, err := e.fast.GenerateStream(fastCtx, messages, fastChunks)
		close(fastChunks)
		fastCh <- generateOutcome{result, err}
	}()

	var (
		prefix       []byte
		tokens       int
		shouldSwitch bool
	)
	for chunk := range fastChunks {
		prefix = append(prefix, chunk...)
		tokens++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case out <- chunk:
		}

		if tokens >= e.config.MinTokensBeforeSwitch {
			quality := e.estimateQuality(string(prefix), messages)
			if quality < e.config.QualityThreshold*0.8 {
				shouldSwitch = true
				break
			}
		}
	}

	if shouldSwitch && e.config.FallbackEnabled {
		cancelFast()
		// Let the draft goroutine finish without blocking on the
		// chunk channel.
		go func() {
			for range fastChunks {
			}
			<-fastCh
		}()

		draftPrefix := string(prefix)
		logger.Debug("switching to slow model mid-stream", "draft_tokens", tokens)

		continuation := append([]llms.Message{}, messages...)
		if draftPrefix != "" {
			continuation = append(continuation, llms.Message{
				Role:    llms.RoleAssistant,
				Content: draftPrefix + " ",
			})
		}

		result, err := e.slow.GenerateStream(ctx, continuation, out)
		if err != nil {
			return nil, err
		}
		e.updateStats(true, true, time.Since(start))
		return &Result{
			Text:         draftPrefix + result.Text,
			ModelUsed:    ModelHybrid,
			Generation:   *result,
			UsedFallback: true,
		}, nil
	}

	outcome := <-fastCh
	if outcome.err != nil {
		return nil, outcome.err
	}
	e.updateStats(true, false, time.Since(start))
	return &Result{
		Text:       outcome.result.Text,
		ModelUsed:  ModelFast,
		Generation: *outcome.result,
	}, nil
}

// executeDraftVerify drafts chunks with the fast model and accepts each
// only after heuristic verification, finishing with the slow model when
// a draft is rejected or the iteration budget runs out.
func (e *Executor) executeDraftVerify(ctx context.Context, messages []llms.Message) (*Result, error) {
	start := time.Now()

	complexity := e.estimateComplexity(messages)
	if complexity > e.config.ComplexityThreshold {
		result, err := e.slow.Generate(ctx, messages)
		if err != nil {
			return nil, err
		}
		e.updateStats(false, true, time.Since(start))
		return &Result{
			Text:            result.Text,
			ModelUsed:       ModelSlow,
			Generation:      *result,
			ComplexityScore: &complexity,
		}, nil
	}

	var (
		accepted        string
		iterations      int
		totalFastTokens int
		totalSlowTokens int
	)
	for iterations < e.config.MaxDraftIterations {
		iterations++

		draftMessages := e.withAcceptedPrefix(messages, accepted)

		// Drafting gets double the usual budget.
		draftCtx, cancelDraft := context.WithTimeout(ctx, 2*e.config.DraftTimeout)
		draftResult, err := e.fast.Generate(draftCtx, draftMessages)
		cancelDraft()
		if err != nil {
			logger.Debug("draft failed, finishing with slow model", "error", err)
			break
		}
		totalFastTokens += draftResult.Tokens

		draft := draftResult.Text
		if len(draft) < 5 || strings.TrimSpace(draft) == "" {
			break
		}

		verification := e.verifyDraft(draft, draftMessages)
		if verification < e.config.VerificationThreshold {
			logger.Debug("draft rejected", "iteration", iterations, "score", verification)

			result, err := e.slow.Generate(ctx, e.withAcceptedPrefix(messages, accepted))
			if err != nil {
				return nil, err
			}
			totalSlowTokens += result.Tokens
			accepted += result.Text
			break
		}

		accepted += draft
		logger.Debug("draft accepted", "iteration", iterations, "score", verification)
		if e.isCompleteResponse(accepted) {
			break
		}
	}

	if iterations >= e.config.MaxDraftIterations && !e.isCompleteResponse(accepted) {
		result, err := e.slow.Generate(ctx, e.withAcceptedPrefix(messages, accepted))
		if err != nil {
			return nil, err
		}
		totalSlowTokens += result.Tokens
		accepted += result.Text
	}

	e.updateStats(totalFastTokens > 0, totalSlowTokens > 0, time.Since(start))

	modelUsed := ModelFast
	switch {
	case totalSlowTokens > totalFastTokens:
		modelUsed = ModelSlow
	case totalFastTokens > 0 && totalSlowTokens > 0:
		modelUsed = ModelHybrid
	}

	total := time.Since(start)
	generation := llms.GenerationResult{
		Text:         accepted,
		Tokens:       totalFastTokens + totalSlowTokens,
		TotalTime:    total,
		FinishReason: "stop",
	}
	if total > 0 {
		generation.TokensPerSecond = float64(generation.Tokens) / total.Seconds()
	}

	return &Result{
		Text:            accepted,
		ModelUsed:       modelUsed,
		Generation:      generation,
		UsedFallback:    totalSlowTokens > 0,
		ComplexityScore: &complexity,
	}, nil
}

func (e *Executor) withAcceptedPrefix(messages []llms.Message, accepted string) []llms.Message {
	out := append([]llms.Message{}, messages...)
	if accepted != "" {
		out = append(out, llms.Message{Role: llms.RoleAssistant, Content: accepted})
	}
	return out
}

// updateStats maintains incremental means with mean += (x - mean) / n,
// which stays numerically stable over long sessions.
func (e *Executor) updateStats(usedFast, usedSlow bool, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsedMS := float64(elapsed.Microseconds()) / 1000.0

	if usedFast {
		e.stats.FastCalls++
		if !usedSlow {
			e.stats.FastSuccesses++
		}
		e.stats.AvgFastTimeMS += (elapsedMS - e.stats.AvgFastTimeMS) / float64(e.stats.FastCalls)
	}
	if usedSlow {
		e.stats.SlowCalls++
		if usedFast {
			e.stats.SlowFallbacks++
		}
		e.stats.AvgSlowTimeMS += (elapsedMS - e.stats.AvgSlowTimeMS) / float64(e.stats.SlowCalls)
	}
}

// Stats returns a copy of the accumulated statistics.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ResetStats clears the accumulated statistics.
func (e *Executor) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = Stats{}
}
