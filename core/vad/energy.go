package vad

import (
	"math"

	"github.com/elaravoice/elara-core/core/audio"
)

const (
	// DefaultThresholdDB is the energy level above which a frame is
	// considered speech.
	DefaultThresholdDB = -40.0
	// DefaultMinSpeechFrames is the number of consecutive loud frames
	// required before reporting speech, filtering out clicks.
	DefaultMinSpeechFrames = 2
	// DefaultMinSilenceFrames is the hangover: quiet frames tolerated
	// before speech is considered ended.
	DefaultMinSilenceFrames = 5
)

// Energy is a threshold-based voice activity detector with hangover
// smoothing. It is the fallback detector when no model-based one is
// configured.
type Energy struct {
	thresholdDB      float64
	minSpeechFrames  int
	minSilenceFrames int

	speaking      bool
	speechFrames  int
	silenceFrames int
}

// EnergyOption configures an Energy detector.
type EnergyOption func(*Energy)

// WithThresholdDB overrides the speech energy threshold.
func WithThresholdDB(db float64) EnergyOption {
	return func(e *Energy) { e.thresholdDB = db }
}

// WithMinSpeechFrames overrides how many loud frames start speech.
func WithMinSpeechFrames(n int) EnergyOption {
	return func(e *Energy) { e.minSpeechFrames = n }
}

// WithMinSilenceFrames overrides the hangover length in frames.
func WithMinSilenceFrames(n int) EnergyOption {
	return func(e *Energy) { e.minSilenceFrames = n }
}

// NewEnergy creates an energy detector with the default thresholds.
func NewEnergy(opts ...EnergyOption) *Energy {
	e := &Energy{
		thresholdDB:      DefaultThresholdDB,
		minSpeechFrames:  DefaultMinSpeechFrames,
		minSilenceFrames: DefaultMinSilenceFrames,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessFrame classifies a single frame. The returned probability is a
// sigmoid of the frame's distance from the threshold, so callers get a
// soft confidence even from a hard threshold.
func (e *Energy) ProcessFrame(frame *audio.Frame) (State, float64, error) {
	if e == nil || frame == nil {
		return StateSilence, 0, nil
	}

	loud := frame.EnergyDB >= e.thresholdDB
	probability := 1.0 / (1.0 + math.Exp(-(frame.EnergyDB-e.thresholdDB)/3.0))

	if loud {
		e.speechFrames++
		e.silenceFrames = 0
	} else {
		e.silenceFrames++
		e.speechFrames = 0
	}

	switch {
	case !e.speaking && e.speechFrames >= e.minSpeechFrames:
		e.speaking = true
		return StateSpeechStart, probability, nil
	case e.speaking && e.silenceFrames >= e.minSilenceFrames:
		e.speaking = false
		return StateSpeechEnd, probability, nil
	case e.speaking:
		return StateSpeech, probability, nil
	default:
		return StateSilence, probability, nil
	}
}

// Reset clears all smoothing state.
func (e *Energy) Reset() {
	if e == nil {
		return
	}
	e.speaking = false
	e.speechFrames = 0
	e.silenceFrames = 0
}
