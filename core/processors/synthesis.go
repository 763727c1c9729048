package processors

import (
	"context"
	"fmt"

	"github.com/elaravoice/elara-core/core/texttospeech"
)

// Synthesis voices Sentence frames through a shared Synthesizer and emits
// the resulting audio as AudioOutput frames. A synthesis cut short by the
// user becomes a BargeIn frame so downstream stages can react.
type Synthesis struct {
	synth texttospeech.Synthesizer
}

// NewSynthesis creates a synthesis stage around synth. The synthesizer may
// be shared with the rest of the pipeline so barge-in reaches an in-flight
// synthesis.
func NewSynthesis(synth texttospeech.Synthesizer) *Synthesis {
	return &Synthesis{synth: synth}
}

func (s *Synthesis) Name() string {
	return "synthesis"
}

func (s *Synthesis) OnStart(context.Context, *Context) error { return nil }

func (s *Synthesis) OnStop(context.Context, *Context) error {
	if s.synth != nil {
		s.synth.Reset()
	}
	return nil
}

func (s *Synthesis) Process(ctx context.Context, frame Frame, _ *Context) ([]Frame, error) {
	switch f := frame.(type) {
	case Sentence:
		return s.synthesize(ctx, f)

	case Control:
		if f.Signal == SignalReset && s.synth != nil {
			s.synth.Reset()
		}
		return []Frame{frame}, nil

	default:
		return []Frame{frame}, nil
	}
}

func (s *Synthesis) synthesize(ctx context.Context, sentence Sentence) ([]Frame, error) {
	if s.synth == nil {
		return nil, fmt.Errorf("no synthesizer configured")
	}

	events := make(chan texttospeech.Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.synth.Start(ctx, sentence.Text, events)
		close(events)
	}()

	var frames []Frame
	var synthErr error
	for ev := range events {
		switch ev.Kind {
		case texttospeech.EventAudio:
			frames = append(frames, AudioOutput{
				Samples: ev.Samples,
				Text:    ev.Text,
				Final:   ev.Final,
			})
		case texttospeech.EventBargedIn:
			frames = append(frames, BargeIn{AtWord: ev.WordIndex})
		case texttospeech.EventError:
			synthErr = ev.Err
		}
	}

	if err := <-done; err != nil {
		return frames, fmt.Errorf("synthesizing sentence %d: %w", sentence.Index, err)
	}
	if synthErr != nil {
		return frames, fmt.Errorf("synthesizing sentence %d: %w", sentence.Index, synthErr)
	}
	return frames, nil
}
