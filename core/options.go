package pipeline

import (
	"github.com/elaravoice/elara-core/core/audio"
	"github.com/elaravoice/elara-core/core/conversations"
	"github.com/elaravoice/elara-core/core/llms"
	"github.com/elaravoice/elara-core/core/speculative"
	"github.com/elaravoice/elara-core/core/speechtotext"
	"github.com/elaravoice/elara-core/core/textprocessing"
	"github.com/elaravoice/elara-core/core/texttospeech"
	"github.com/elaravoice/elara-core/core/turns"
	"github.com/elaravoice/elara-core/core/vad"
)

type Option func(*Pipeline)

// WithVAD swaps the voice activity detector.
func WithVAD(detector vad.Detector) Option {
	return func(p *Pipeline) {
		if detector != nil {
			p.vad = detector
		}
	}
}

// WithTurnDetector swaps the turn detector.
func WithTurnDetector(detector turns.Detector) Option {
	return func(p *Pipeline) {
		if detector != nil {
			p.turnDetector = detector
		}
	}
}

// WithSpeechToText swaps the transcription backend.
func WithSpeechToText(backend speechtotext.Backend) Option {
	return func(p *Pipeline) {
		if backend != nil {
			p.stt = backend
		}
	}
}

// WithSynthesizer swaps the speech synthesis backend. The same instance
// is shared with the processor chain so barge-in stays centralized.
func WithSynthesizer(synth texttospeech.Synthesizer) Option {
	return func(p *Pipeline) {
		if synth != nil {
			p.synth = synth
		}
	}
}

// WithLanguageModel sets the response backend used when no speculative
// executor is configured.
func WithLanguageModel(backend llms.Backend) Option {
	return func(p *Pipeline) { p.llm = backend }
}

// WithSpeculativeExecutor routes response generation through a fast/slow
// model executor instead of a single backend.
func WithSpeculativeExecutor(executor *speculative.Executor) Option {
	return func(p *Pipeline) { p.executor = executor }
}

// WithTextProcessor normalizes transcripts before generation.
func WithTextProcessor(processor textprocessing.Processor) Option {
	return func(p *Pipeline) { p.textProcessor = processor }
}

// WithNoiseSuppressor runs frames through a suppressor before VAD.
func WithNoiseSuppressor(processor audio.Processor) Option {
	return func(p *Pipeline) { p.noise = processor }
}

// WithAudioInput attaches a capture client whose frames feed ProcessAudio.
func WithAudioInput(client audio.CaptureClient) Option {
	return func(p *Pipeline) { p.input.Set(client) }
}

// WithConfig replaces the pipeline configuration. Zero-valued fields keep
// their defaults.
func WithConfig(config Config) Option {
	return func(p *Pipeline) { p.config = config.withDefaults() }
}

// WithHistory shares an existing conversation history with the pipeline.
func WithHistory(history *conversations.History) Option {
	return func(p *Pipeline) {
		if history != nil {
			p.history = history
		}
	}
}
