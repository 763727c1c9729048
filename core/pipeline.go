package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/elaravoice/elara-core/core/audio"
	"github.com/elaravoice/elara-core/core/conversations"
	"github.com/elaravoice/elara-core/core/events"
	"github.com/elaravoice/elara-core/core/llms"
	"github.com/elaravoice/elara-core/core/processors"
	"github.com/elaravoice/elara-core/core/speculative"
	"github.com/elaravoice/elara-core/core/speechtotext"
	"github.com/elaravoice/elara-core/core/textprocessing"
	"github.com/elaravoice/elara-core/core/texttospeech"
	"github.com/elaravoice/elara-core/core/turns"
	"github.com/elaravoice/elara-core/core/vad"
	"github.com/elaravoice/elara-core/internal/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Pipeline is the conversation orchestrator. Audio frames are pushed in
// through ProcessAudio (or a configured capture client); transcripts,
// responses, and synthesized speech come back out on the event bus.
//
// Frames for one pipeline must be pushed sequentially; the pipeline is
// driven by one audio stream, not a pool of producers. Everything else
// (Subscribe, Speak, Pause, state queries) is safe to call concurrently.
type Pipeline struct {
	config    Config
	sessionID uuid.UUID

	vad           vad.Detector
	turnDetector  turns.Detector
	stt           speechtotext.Backend
	synth         texttospeech.Synthesizer
	llm           llms.Backend
	fallback      llms.Backend
	executor      *speculative.Executor
	textProcessor textprocessing.Processor
	noise         audio.Processor
	history       *conversations.History
	input         *audio.Input

	chain *processors.Chain
	bus   *bus

	mu              sync.Mutex
	state           State
	listeningFrames int
	bargeInMS       int
	lastVadState    vad.State
	pending         *speechtotext.Transcript

	closeOnce sync.Once
}

// New assembles a pipeline. Without options it runs entirely locally:
// energy VAD, hybrid turn detection, buffering transcription, local
// synthesis, and a canned responder.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		config:       DefaultConfig(),
		sessionID:    uuid.New(),
		vad:          vad.NewEnergy(),
		turnDetector: turns.NewHybrid(),
		stt:          speechtotext.NewBuffered(),
		synth:        texttospeech.NewLocal(),
		fallback:     llms.NewCanned(),
		history:      conversations.NewHistory(),
		state:        StateIdle,
		lastVadState: vad.StateSilence,
	}
	p.input = audio.NewInput(nil, func(frame *audio.Frame) {
		if err := p.ProcessAudio(context.Background(), frame); err != nil {
			logger.Error("failed to process captured frame", "error", err)
		}
	})

	for _, opt := range opts {
		opt(p)
	}

	p.bus = newBus(p.config.SubscriberBuffer)
	if !p.config.ChainDisabled {
		p.chain = processors.NewChain("speech").
			Add(processors.NewSentenceDetector()).
			Add(processors.NewSynthesis(p.synth)).
			Add(processors.NewInterruptGate())
	}
	return p
}

// SessionID identifies this pipeline instance in telemetry.
func (p *Pipeline) SessionID() uuid.UUID { return p.sessionID }

// State returns the current orchestrator state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe registers an event listener. Delivery is lossy: each
// subscriber has a bounded buffer and events are dropped when it fills,
// so slow consumers miss events instead of blocking the audio path.
// The returned cancel function releases the subscription.
func (p *Pipeline) Subscribe() (<-chan events.Event, func()) {
	return p.bus.Subscribe()
}

// Stats reports speculative executor statistics, zero-valued when no
// executor is configured.
func (p *Pipeline) Stats() speculative.Stats {
	if p.executor == nil {
		return speculative.Stats{}
	}
	return p.executor.Stats()
}

// History returns the shared conversation history.
func (p *Pipeline) History() *conversations.History { return p.history }

// StartCapture begins feeding frames from the configured audio input.
func (p *Pipeline) StartCapture(ctx context.Context) {
	p.input.Start(ctx)
}

// Pause suspends frame processing until Resume. No audio is interpreted
// while paused.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StatePaused
}

// Resume returns a paused pipeline to idle.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused {
		p.state = StateIdle
	}
}

// Reset aborts any in-progress turn and returns the pipeline to idle.
// Collaborator state (VAD, turn detector, transcription, synthesis) is
// cleared; conversation history is kept.
func (p *Pipeline) Reset() {
	p.synth.BargeIn()
	p.vad.Reset()
	p.turnDetector.Reset()
	p.stt.Reset()
	p.synth.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateIdle
	p.listeningFrames = 0
	p.bargeInMS = 0
	p.pending = nil
	p.lastVadState = vad.StateSilence
}

// Close releases the audio input and the event bus.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		if err := p.input.Close(); err != nil {
			logger.Error("failed to close audio input", "error", err)
		}
		p.bus.Close()
	})
}

// ProcessAudio pushes one audio frame through the pipeline. The frame
// order is fixed regardless of state: noise suppression, then VAD, then
// the barge-in check when speaking, then state handling. Barge-in runs
// before state handling so an interruption always pre-empts synthesis.
func (p *Pipeline) ProcessAudio(ctx context.Context, frame *audio.Frame) error {
	if p == nil || frame == nil {
		return nil
	}
	if p.State() == StatePaused {
		return nil
	}
	framesProcessed.Add(ctx, 1)

	if p.noise != nil {
		processed, err := p.noise.Process(ctx, frame)
		if err != nil {
			logger.Warn("noise suppression failed, using raw frame", "error", err)
		} else if processed != nil {
			frame = processed
		}
	}

	vadState, probability, err := p.vad.ProcessFrame(frame)
	if err != nil {
		return p.abortTurn(fmt.Errorf("vad: %w", err))
	}
	p.publishVadState(vadState, probability)

	if p.State() == StateSpeaking && p.checkBargeIn(ctx, frame, vadState) {
		return nil
	}

	switch p.State() {
	case StateIdle:
		p.handleIdle(frame, vadState)
		return nil
	case StateListening:
		return p.handleListening(ctx, frame, vadState)
	default:
		return nil
	}
}

// handleIdle wakes the pipeline when speech starts. The energy gate
// keeps mic pops and room noise from starting a turn.
func (p *Pipeline) handleIdle(frame *audio.Frame, vadState vad.State) {
	if !vadState.IsSpeech() || frame.EnergyDB < p.config.MinSpeechEnergyDB {
		return
	}

	p.mu.Lock()
	if p.state == StateIdle {
		p.state = StateListening
		p.listeningFrames = 0
	}
	p.mu.Unlock()
}

// handleListening accumulates the utterance and finalizes the turn when
// the turn detector fires or the listening cap is hit.
func (p *Pipeline) handleListening(ctx context.Context, frame *audio.Frame, vadState vad.State) error {
	partial, err := p.stt.Process(frame.Samples)
	if err != nil {
		return p.abortTurn(fmt.Errorf("speech-to-text: %w", err))
	}

	var transcriptText *string
	if partial != nil && partial.Text != "" {
		p.publish(events.NewTranscriptPartial(*partial))
		transcriptText = utils.Ptr(partial.Text)
	}

	result, err := p.turnDetector.Process(vadState, transcriptText)
	if err != nil {
		return p.abortTurn(fmt.Errorf("turn detection: %w", err))
	}
	p.publish(events.NewTurnStateChanged(result))

	p.mu.Lock()
	p.listeningFrames++
	frames := p.listeningFrames
	p.mu.Unlock()

	if result.TurnComplete || frames >= p.config.MaxListeningFrames {
		p.finalizeTurn(ctx)
	}
	return nil
}

// finalizeTurn snapshots the transcript as the pending turn and kicks
// off response generation. The pending slot holds a single transcript;
// finalizing again before it drains overwrites it.
func (p *Pipeline) finalizeTurn(ctx context.Context) {
	final := p.stt.Finalize()
	p.publish(events.NewTranscriptFinal(final))

	p.mu.Lock()
	p.pending = &final
	p.state = StateProcessing
	p.listeningFrames = 0
	p.mu.Unlock()

	go func() {
		if err := p.ProcessPending(ctx); err != nil {
			logger.Error("turn processing failed", "error", err)
		}
	}()
}

// checkBargeIn accumulates qualifying speech while the assistant is
// speaking and interrupts synthesis once it crosses the threshold. Any
// non-qualifying frame zeroes the accumulator so a brief noise burst
// cannot trigger an interruption. Returns true when a barge-in fired.
func (p *Pipeline) checkBargeIn(ctx context.Context, frame *audio.Frame, vadState vad.State) bool {
	if !p.config.BargeIn.Enabled {
		return false
	}

	qualifying := vadState.IsSpeech() && frame.EnergyDB >= p.config.BargeIn.MinEnergyDB

	p.mu.Lock()
	if !qualifying {
		p.bargeInMS = 0
		p.mu.Unlock()
		return false
	}
	p.bargeInMS += frame.DurationMS()
	accumulated := p.bargeInMS
	p.mu.Unlock()

	if accumulated < p.config.BargeIn.MinSpeechMS {
		return false
	}
	if p.config.BargeIn.Action == BargeInIgnore {
		return false
	}

	p.synth.BargeIn()
	atWord := p.synth.CurrentWordIndex()
	bargeInsTriggered.Add(ctx, 1)
	p.publish(events.NewBargeIn(atWord))

	p.turnDetector.Reset()
	p.stt.Reset()

	p.mu.Lock()
	p.state = StateListening
	p.listeningFrames = 0
	p.bargeInMS = 0
	p.mu.Unlock()

	return true
}

// abortTurn ends the current turn on a frame-path error. The error is
// published as an event and the pipeline returns to idle so the state
// machine is never left stuck.
func (p *Pipeline) abortTurn(err error) error {
	p.publish(events.NewError(err))
	p.turnDetector.Reset()
	p.stt.Reset()

	p.mu.Lock()
	p.state = StateIdle
	p.listeningFrames = 0
	p.bargeInMS = 0
	p.pending = nil
	p.mu.Unlock()

	logger.Error("turn aborted", "error", err, "session", p.sessionID.String())
	return err
}

func (p *Pipeline) publish(event events.Event) {
	p.bus.Publish(event)
}

// publishVadState republishes VAD transitions, skipping frames where the
// state did not change.
func (p *Pipeline) publishVadState(state vad.State, probability float64) {
	p.mu.Lock()
	changed := state != p.lastVadState
	p.lastVadState = state
	p.mu.Unlock()

	if changed {
		p.publish(events.NewVadStateChanged(state, probability))
	}
}

// enterSpeaking flips Processing to Speaking when response audio begins
// and tells the turn detector the agent now holds the floor.
func (p *Pipeline) enterSpeaking() {
	p.mu.Lock()
	entered := p.state == StateProcessing
	if entered {
		p.state = StateSpeaking
	}
	p.mu.Unlock()

	if entered {
		p.turnDetector.SetAgentSpeaking()
	}
}

// endTurn returns a finished (or failed) response turn to idle. If a
// barge-in already moved the pipeline to Listening, the new turn is left
// untouched.
func (p *Pipeline) endTurn() {
	p.mu.Lock()
	returned := p.state == StateProcessing || p.state == StateSpeaking
	if returned {
		p.state = StateIdle
	}
	p.bargeInMS = 0
	p.mu.Unlock()

	if returned {
		p.turnDetector.Reset()
	}
}

func (p *Pipeline) respondSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("session_id", p.sessionID.String())),
	)
}
