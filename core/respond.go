package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/elaravoice/elara-core/core/events"
	"github.com/elaravoice/elara-core/core/llms"
	"github.com/elaravoice/elara-core/core/processors"
	"github.com/elaravoice/elara-core/core/texttospeech"
	"go.opentelemetry.io/otel/codes"
)

// ProcessPending drains the pending transcript and generates, speaks,
// and records the assistant's response. It is invoked automatically when
// a turn completes but may also be called explicitly by drivers that
// want to control response timing.
func (p *Pipeline) ProcessPending(ctx context.Context) error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	if pending == nil {
		return nil
	}

	text := strings.TrimSpace(pending.Text)
	if text == "" {
		p.endTurn()
		return nil
	}

	ctx, span := p.respondSpan(ctx, "pipeline.ProcessPending")
	defer span.End()

	if p.textProcessor != nil {
		result, err := p.textProcessor.Process(text)
		if err != nil {
			logger.Warn("text processing failed, using raw transcript", "error", err)
		} else {
			text = result.Processed
		}
	}

	p.history.Append(llms.Message{Role: llms.RoleUser, Content: text})

	if err := p.respond(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "response generation failed")
		p.publish(events.NewError(err))
		p.endTurn()
		return err
	}

	p.endTurn()
	return nil
}

// respond generates a response for the current history and streams it
// out as speech. Text chunks are published incrementally as non-final
// Response events, with one final event once generation completes, so
// subscribers can render captions ahead of audio.
func (p *Pipeline) respond(ctx context.Context) error {
	messages := p.history.Messages()

	chunks := make(chan string, 16)
	type genOutcome struct {
		text string
		err  error
	}
	resultCh := make(chan genOutcome, 1)
	go func() {
		text, err := p.generate(ctx, messages, chunks)
		close(chunks)
		resultCh <- genOutcome{text: text, err: err}
	}()

	var (
		in  chan<- processors.Frame
		out <-chan processors.Frame
		wg  sync.WaitGroup
	)
	if p.chain != nil {
		in, out = p.chain.Run(ctx, processors.NewContext(p.config.Language))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frame := range out {
				p.publishFrame(frame)
			}
		}()
	}

	for chunk := range chunks {
		if chunk == "" {
			continue
		}
		p.publish(events.NewResponse(chunk, false))
		if in != nil {
			sendFrame(ctx, in, processors.TextChunk{Text: chunk})
		}
	}

	outcome := <-resultCh
	if outcome.err != nil {
		if in != nil {
			sendFrame(ctx, in, processors.EndOfStream{})
			close(in)
			wg.Wait()
		}
		return outcome.err
	}

	p.publish(events.NewResponse(outcome.text, true))

	if in != nil {
		sendFrame(ctx, in, processors.TextChunk{Final: true})
		sendFrame(ctx, in, processors.EndOfStream{})
		close(in)
		wg.Wait()
	} else if err := p.speakDirect(ctx, outcome.text); err != nil {
		return err
	}

	p.history.Append(llms.Message{Role: llms.RoleAssistant, Content: outcome.text})
	return nil
}

// generate produces the response text, streaming partial output on
// chunks. The speculative executor wins over a direct backend; with
// neither configured the canned responder answers.
func (p *Pipeline) generate(ctx context.Context, messages []llms.Message, chunks chan<- string) (string, error) {
	if p.executor != nil {
		result, err := p.executor.ExecuteStream(ctx, messages, chunks)
		if err != nil {
			return "", fmt.Errorf("speculative execution: %w", err)
		}
		return result.Text, nil
	}

	backend := p.llm
	if backend == nil {
		backend = p.fallback
	}
	result, err := backend.GenerateStream(ctx, messages, chunks)
	if err != nil {
		return "", fmt.Errorf("generation: %w", err)
	}
	return result.Text, nil
}

// publishFrame republishes chain output on the event bus. Barge-in
// frames only steer the interrupt gate; the orchestrator-level barge-in
// event was already published when the interruption was detected.
func (p *Pipeline) publishFrame(frame processors.Frame) {
	switch f := frame.(type) {
	case processors.AudioOutput:
		p.enterSpeaking()
		p.publish(events.NewSpeechAudio(f.Samples, f.Text, f.Final))
	case processors.Error:
		p.publish(events.NewError(f.Err))
	}
}

// Speak synthesizes text outside the normal listen/respond loop, e.g.
// for greetings or announcements. The pipeline must be idle.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	if !p.beginSpeakTurn() {
		return fmt.Errorf("cannot speak in state %s: %w", p.State(), ErrInvalidState)
	}

	ctx, span := p.respondSpan(ctx, "pipeline.Speak")
	defer span.End()

	p.publish(events.NewResponse(text, true))

	var err error
	if p.chain != nil {
		in, out := p.chain.Run(ctx, processors.NewContext(p.config.Language))
		done := make(chan struct{})
		go func() {
			defer close(done)
			for frame := range out {
				p.publishFrame(frame)
			}
		}()
		if !sendFrame(ctx, in, processors.TextChunk{Text: text, Final: true}) {
			err = fmt.Errorf("chain input: %w", ErrChannelClosed)
		}
		sendFrame(ctx, in, processors.EndOfStream{})
		close(in)
		<-done
	} else {
		err = p.speakDirect(ctx, text)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "speak failed")
		p.publish(events.NewError(err))
	}
	p.endTurn()
	return err
}

// SpeakStreaming feeds a stream of text chunks through the processor
// chain, returning the chain's output frames. Audio frames are also
// republished as SpeechAudio events. The returned channel closes when
// the input stream has been fully voiced or interrupted.
func (p *Pipeline) SpeakStreaming(ctx context.Context, textChunks <-chan string) (<-chan processors.Frame, error) {
	if p.chain == nil {
		return nil, fmt.Errorf("processor chain: %w", ErrNotConfigured)
	}
	if !p.beginSpeakTurn() {
		return nil, fmt.Errorf("cannot speak in state %s: %w", p.State(), ErrInvalidState)
	}

	in, out := p.chain.Run(ctx, processors.NewContext(p.config.Language))

	go func() {
		defer close(in)
		for chunk := range textChunks {
			p.publish(events.NewResponse(chunk, false))
			if !sendFrame(ctx, in, processors.TextChunk{Text: chunk}) {
				return
			}
		}
		sendFrame(ctx, in, processors.TextChunk{Final: true})
		sendFrame(ctx, in, processors.EndOfStream{})
	}()

	forwarded := make(chan processors.Frame, processors.DefaultChannelCapacity)
	go func() {
		defer close(forwarded)
		for frame := range out {
			p.publishFrame(frame)
			forwarded <- frame
		}
		p.endTurn()
	}()

	return forwarded, nil
}

// sendFrame delivers a frame to the chain unless the run context ended.
// The chain stops reading once its context is done, so a finished context
// means the frame would never be consumed.
func sendFrame(ctx context.Context, in chan<- processors.Frame, frame processors.Frame) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case in <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// beginSpeakTurn claims the pipeline for an externally-driven response.
func (p *Pipeline) beginSpeakTurn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return false
	}
	p.state = StateProcessing
	return true
}

// speakDirect voices text through the synthesizer without the chain.
func (p *Pipeline) speakDirect(ctx context.Context, text string) error {
	evs := make(chan texttospeech.Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- p.synth.Start(ctx, text, evs)
		close(evs)
	}()

	for ev := range evs {
		if ev.Kind == texttospeech.EventAudio {
			p.enterSpeaking()
			p.publish(events.NewSpeechAudio(ev.Samples, ev.Text, ev.Final))
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}
	return nil
}
