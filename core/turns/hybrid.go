package turns

import (
	"strings"
	"time"

	"github.com/elaravoice/elara-core/core/vad"
)

const (
	// DefaultFrameDuration is assumed per Process call when computing
	// silence and speech durations.
	DefaultFrameDuration = 20 * time.Millisecond
	// DefaultBaseSilence is the silence required to end a turn before
	// any transcript-based adjustment.
	DefaultBaseSilence = 700 * time.Millisecond
	// DefaultMinSilence bounds how aggressively a complete-sounding
	// utterance can shorten the wait.
	DefaultMinSilence = 300 * time.Millisecond
	// DefaultMaxSilence bounds how long a trailing conjunction can
	// extend it.
	DefaultMaxSilence = 1200 * time.Millisecond
	// DefaultMinSpeech guards against ending a turn on a cough.
	DefaultMinSpeech = 200 * time.Millisecond
)

// Hybrid is a silence-threshold turn detector whose threshold is nudged
// by a lightweight linguistic completeness heuristic on the partial
// transcript. A sentence that sounds finished shortens the wait, a
// trailing conjunction lengthens it.
type Hybrid struct {
	frameDuration time.Duration
	baseSilence   time.Duration
	minSilence    time.Duration
	maxSilence    time.Duration
	minSpeech     time.Duration

	state      State
	speech     time.Duration
	silence    time.Duration
	transcript string
}

// HybridOption configures a Hybrid detector.
type HybridOption func(*Hybrid)

// WithBaseSilence overrides the baseline silence threshold.
func WithBaseSilence(d time.Duration) HybridOption {
	return func(h *Hybrid) { h.baseSilence = d }
}

// WithSilenceBounds overrides the clamp range for the dynamic threshold.
func WithSilenceBounds(min, max time.Duration) HybridOption {
	return func(h *Hybrid) { h.minSilence, h.maxSilence = min, max }
}

// WithMinSpeech overrides the minimum speech duration for a valid turn.
func WithMinSpeech(d time.Duration) HybridOption {
	return func(h *Hybrid) { h.minSpeech = d }
}

// WithFrameDuration overrides the assumed duration of one Process call.
func WithFrameDuration(d time.Duration) HybridOption {
	return func(h *Hybrid) { h.frameDuration = d }
}

// NewHybrid creates a hybrid detector with the default timings.
func NewHybrid(opts ...HybridOption) *Hybrid {
	h := &Hybrid{
		frameDuration: DefaultFrameDuration,
		baseSilence:   DefaultBaseSilence,
		minSilence:    DefaultMinSilence,
		maxSilence:    DefaultMaxSilence,
		minSpeech:     DefaultMinSpeech,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Process advances the state machine by one frame. A non-nil transcript
// replaces the detector's view of the utterance so far.
func (h *Hybrid) Process(state vad.State, transcript *string) (Result, error) {
	if h == nil {
		return Result{}, nil
	}
	if transcript != nil {
		h.transcript = *transcript
	}

	speaking := state.IsSpeech()
	threshold, confidence := h.dynamicThreshold()

	switch h.state {
	case StateIdle, StateTurnComplete:
		if speaking {
			h.state = StateUserSpeaking
			h.speech = h.frameDuration
			h.silence = 0
		}
	case StateAgentSpeaking:
		if speaking {
			h.state = StateUserSpeaking
			h.speech = h.frameDuration
			h.silence = 0
		}
	case StateUserSpeaking:
		if speaking {
			h.speech += h.frameDuration
		} else {
			h.state = StateEvaluating
			h.silence = h.frameDuration
		}
	case StateEvaluating:
		if speaking {
			h.state = StateUserSpeaking
			h.speech += h.frameDuration
			h.silence = 0
		} else {
			h.silence += h.frameDuration
			if h.silence >= threshold {
				if h.speech >= h.minSpeech {
					h.state = StateTurnComplete
				} else {
					h.state = StateIdle
					h.speech = 0
					h.silence = 0
				}
			}
		}
	}

	result := Result{
		State:            h.state,
		TurnComplete:     h.state == StateTurnComplete,
		SilenceDuration:  h.silence,
		SilenceThreshold: threshold,
		Confidence:       confidence,
	}

	if h.state == StateTurnComplete {
		h.speech = 0
		h.silence = 0
		h.transcript = ""
		h.state = StateIdle
	}
	return result, nil
}

// Reset returns the detector to idle and forgets the transcript.
func (h *Hybrid) Reset() {
	if h == nil {
		return
	}
	h.state = StateIdle
	h.speech = 0
	h.silence = 0
	h.transcript = ""
}

// SetAgentSpeaking marks the agent as holding the floor so silence is
// not misread as the user finishing a turn.
func (h *Hybrid) SetAgentSpeaking() {
	if h == nil {
		return
	}
	h.state = StateAgentSpeaking
	h.speech = 0
	h.silence = 0
}

// conjunctions that suggest the speaker is not finished.
var trailingConjunctions = []string{
	"and", "but", "or", "because", "so", "then", "with", "if", "that",
}

// dynamicThreshold derives the silence threshold for the current
// transcript and a confidence in that judgement.
func (h *Hybrid) dynamicThreshold() (time.Duration, float64) {
	text := strings.TrimSpace(h.transcript)
	if text == "" {
		return h.baseSilence, 0.5
	}

	threshold := h.baseSilence
	confidence := 0.5

	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "?") ||
		strings.HasSuffix(text, "!") || strings.HasSuffix(text, "।") {
		threshold = threshold * 6 / 10
		confidence = 0.9
	} else if strings.HasSuffix(text, ",") {
		threshold = threshold * 14 / 10
		confidence = 0.7
	} else {
		words := strings.Fields(strings.ToLower(text))
		last := words[len(words)-1]
		for _, c := range trailingConjunctions {
			if last == c {
				threshold = threshold * 15 / 10
				confidence = 0.8
				break
			}
		}
	}

	if threshold < h.minSilence {
		threshold = h.minSilence
	}
	if threshold > h.maxSilence {
		threshold = h.maxSilence
	}
	return threshold, confidence
}
