package pipeline

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elaravoice/elara-core/core/audio"
	"github.com/elaravoice/elara-core/core/events"
	"github.com/elaravoice/elara-core/core/processors"
	"github.com/elaravoice/elara-core/core/speechtotext"
	"github.com/elaravoice/elara-core/core/texttospeech"
	"github.com/elaravoice/elara-core/core/turns"
	"github.com/elaravoice/elara-core/core/vad"
)

func frameAtDB(db float64) *audio.Frame {
	amp := math.Pow(10, db/20)
	samples := make([]float32, 320)
	for i := range samples {
		samples[i] = float32(amp)
	}
	return audio.NewFrame(samples, 16000, 0)
}

// speechVAD always reports active speech.
type speechVAD struct{}

func (speechVAD) ProcessFrame(*audio.Frame) (vad.State, float64, error) {
	return vad.StateSpeech, 0.99, nil
}
func (speechVAD) Reset() {}

// idleTurns never completes a turn.
type idleTurns struct{}

func (idleTurns) Process(vad.State, *string) (turns.Result, error) {
	return turns.Result{State: turns.StateUserSpeaking}, nil
}
func (idleTurns) Reset()            {}
func (idleTurns) SetAgentSpeaking() {}

// blockingSynth emits one audio event and then holds the synthesis open
// until barged in, so tests can park the pipeline in Speaking.
type blockingSynth struct {
	barged  atomic.Bool
	started chan struct{}
	release chan struct{}
}

func newBlockingSynth() *blockingSynth {
	return &blockingSynth{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockingSynth) Start(ctx context.Context, text string, out chan<- texttospeech.Event) error {
	out <- texttospeech.Event{Kind: texttospeech.EventAudio, Samples: make([]float32, 320), Text: text}
	close(s.started)
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	if s.barged.Load() {
		out <- texttospeech.Event{Kind: texttospeech.EventBargedIn}
		return nil
	}
	out <- texttospeech.Event{Kind: texttospeech.EventComplete, Final: true}
	return nil
}

func (s *blockingSynth) BargeIn() {
	if s.barged.CompareAndSwap(false, true) {
		close(s.release)
	}
}

func (s *blockingSynth) CurrentWordIndex() int { return 2 }
func (s *blockingSynth) Reset()                {}

func awaitState(t *testing.T, p *Pipeline, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, still %v", want, p.State())
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(evs []events.Event, kind events.Kind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func TestPipelineStartsIdle(t *testing.T) {
	p := New()
	defer p.Close()

	if p.State() != StateIdle {
		t.Fatalf("expected idle, got %v", p.State())
	}
}

func TestPipelineResetReturnsToIdle(t *testing.T) {
	p := New()
	defer p.Close()

	if err := p.ProcessAudio(context.Background(), frameAtDB(-10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.ProcessAudio(context.Background(), frameAtDB(-10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.Reset()
	if p.State() != StateIdle {
		t.Fatalf("expected idle after reset, got %v", p.State())
	}
}

func TestPipelinePauseStopsFrameProcessing(t *testing.T) {
	p := New()
	defer p.Close()

	p.Pause()
	for range 10 {
		if err := p.ProcessAudio(context.Background(), frameAtDB(-10)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if p.State() != StatePaused {
		t.Fatalf("expected paused, got %v", p.State())
	}

	p.Resume()
	if p.State() != StateIdle {
		t.Fatalf("expected idle after resume, got %v", p.State())
	}
}

func TestPipelineEnergyGateBlocksQuietSpeech(t *testing.T) {
	// VAD says speech, but the frames are below the -45 dB wake floor.
	p := New(WithVAD(speechVAD{}))
	defer p.Close()

	for range 10 {
		if err := p.ProcessAudio(context.Background(), frameAtDB(-60)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if p.State() != StateIdle {
		t.Fatalf("expected quiet frames to be gated, got state %v", p.State())
	}

	if err := p.ProcessAudio(context.Background(), frameAtDB(-20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State() != StateListening {
		t.Fatalf("expected loud speech to start listening, got %v", p.State())
	}
}

func TestPipelineBargeInThreshold(t *testing.T) {
	synth := newBlockingSynth()
	p := New(
		WithVAD(speechVAD{}),
		WithTurnDetector(idleTurns{}),
		WithSynthesizer(synth),
		WithConfig(Config{
			ChainDisabled: true,
			BargeIn:       BargeInConfig{Enabled: true},
		}),
	)
	defer p.Close()

	eventCh, unsubscribe := p.Subscribe()
	defer unsubscribe()

	speakDone := make(chan error, 1)
	go func() { speakDone <- p.Speak(context.Background(), "a very long announcement") }()

	<-synth.started
	awaitState(t, p, StateSpeaking)

	// 7 qualifying 20ms frames accumulate 140ms, below the 150ms floor.
	for range 7 {
		if err := p.ProcessAudio(context.Background(), frameAtDB(-20)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := countKind(drainEvents(eventCh), events.KindBargeIn); got != 0 {
		t.Fatalf("expected no barge-in below threshold, got %d events", got)
	}

	// A quiet frame resets the accumulator.
	if err := p.ProcessAudio(context.Background(), frameAtDB(-70)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 8 consecutive qualifying frames cross 150ms and must trigger once.
	for range 8 {
		if err := p.ProcessAudio(context.Background(), frameAtDB(-20)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if p.State() != StateListening {
		t.Fatalf("expected listening after barge-in, got %v", p.State())
	}
	if !synth.barged.Load() {
		t.Fatalf("expected synthesizer barge-in")
	}
	if got := countKind(drainEvents(eventCh), events.KindBargeIn); got != 1 {
		t.Fatalf("expected exactly one barge-in event, got %d", got)
	}

	if err := <-speakDone; err != nil {
		t.Fatalf("speak returned error: %v", err)
	}
}

func TestPipelineBargeInIgnoreAction(t *testing.T) {
	synth := newBlockingSynth()
	p := New(
		WithVAD(speechVAD{}),
		WithTurnDetector(idleTurns{}),
		WithSynthesizer(synth),
		WithConfig(Config{
			ChainDisabled: true,
			BargeIn:       BargeInConfig{Enabled: true, Action: BargeInIgnore},
		}),
	)
	defer p.Close()

	go p.Speak(context.Background(), "ignore interruptions")
	<-synth.started
	awaitState(t, p, StateSpeaking)

	for range 20 {
		if err := p.ProcessAudio(context.Background(), frameAtDB(-20)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if p.State() != StateSpeaking {
		t.Fatalf("expected ignore action to keep speaking, got %v", p.State())
	}
	if synth.barged.Load() {
		t.Fatalf("synthesizer should not be barged with ignore action")
	}
	synth.BargeIn()
}

func TestPipelineEndToEndCannedResponse(t *testing.T) {
	p := New(
		WithSpeechToText(speechtotext.NewBuffered(speechtotext.WithScript("hello there"))),
	)
	defer p.Close()

	eventCh, unsubscribe := p.Subscribe()
	defer unsubscribe()

	ctx := context.Background()

	// 300ms of loud speech, then silence until the turn completes.
	for range 15 {
		if err := p.ProcessAudio(ctx, frameAtDB(-15)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for range 60 {
		if err := p.ProcessAudio(ctx, frameAtDB(-80)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.State() != StateListening {
			break
		}
	}

	awaitState(t, p, StateIdle)

	var sawFinalTranscript, sawFinalResponse, sawAudio bool
	deadline := time.After(5 * time.Second)
	for !(sawFinalTranscript && sawFinalResponse && sawAudio) {
		select {
		case ev := <-eventCh:
			switch typed := ev.(type) {
			case events.TranscriptFinal:
				if typed.Transcript.Text == "hello there" {
					sawFinalTranscript = true
				}
			case events.Response:
				if typed.Final && typed.Text != "" {
					sawFinalResponse = true
				}
			case events.SpeechAudio:
				if len(typed.Samples) > 0 {
					sawAudio = true
				}
			}
		case <-deadline:
			t.Fatalf("timed out: transcript=%t response=%t audio=%t",
				sawFinalTranscript, sawFinalResponse, sawAudio)
		}
	}

	if p.History().Len() != 2 {
		t.Fatalf("expected user and assistant turns in history, got %d", p.History().Len())
	}
}

func TestPipelineListeningHardTimeout(t *testing.T) {
	config := DefaultConfig()
	config.MaxListeningFrames = 20
	p := New(
		WithVAD(speechVAD{}),
		WithTurnDetector(idleTurns{}),
		WithSpeechToText(speechtotext.NewBuffered(speechtotext.WithScript("forced finalize"))),
		WithConfig(config),
	)
	defer p.Close()

	ctx := context.Background()
	if err := p.ProcessAudio(ctx, frameAtDB(-10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State() != StateListening {
		t.Fatalf("expected listening, got %v", p.State())
	}

	for range 25 {
		if err := p.ProcessAudio(ctx, frameAtDB(-10)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.State() != StateListening {
			break
		}
	}

	awaitState(t, p, StateIdle)
}

func TestPipelineSpeakRequiresIdle(t *testing.T) {
	synth := newBlockingSynth()
	p := New(
		WithSynthesizer(synth),
		WithConfig(Config{ChainDisabled: true, BargeIn: BargeInConfig{Enabled: true}}),
	)
	defer p.Close()

	go p.Speak(context.Background(), "first")
	<-synth.started

	if err := p.Speak(context.Background(), "second"); err == nil {
		t.Fatalf("expected error speaking while busy")
	}
	synth.BargeIn()
}

func TestPipelineSpeakCancelledContext(t *testing.T) {
	p := New()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Speak(ctx, "hello there")
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	awaitState(t, p, StateIdle)
}

func TestPipelineSpeakStreaming(t *testing.T) {
	p := New()
	defer p.Close()

	chunks := make(chan string, 4)
	chunks <- "Streaming is fun. "
	chunks <- "It keeps latency low."
	close(chunks)

	frames, err := p.SpeakStreaming(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var audioFrames int
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				if audioFrames == 0 {
					t.Fatalf("expected audio frames from streaming speech")
				}
				awaitState(t, p, StateIdle)
				return
			}
			if frame.Kind() == processors.KindAudioOutput {
				audioFrames++
			}
		case <-timeout:
			t.Fatalf("timed out waiting for streaming frames")
		}
	}
}
