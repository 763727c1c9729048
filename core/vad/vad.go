// Package vad classifies audio frames as speech or silence.
package vad

import (
	"github.com/elaravoice/elara-core/core/audio"
)

// State is the per-frame classification of a voice activity detector.
// SpeechStart and SpeechEnd mark the transition frames so consumers can
// react to edges without diffing consecutive states.
type State string

const (
	StateSilence     State = "silence"
	StateSpeechStart State = "speech_start"
	StateSpeech      State = "speech"
	StateSpeechEnd   State = "speech_end"
)

// IsSpeech reports whether the state counts as active speech.
func (s State) IsSpeech() bool {
	return s == StateSpeech || s == StateSpeechStart
}

// Detector classifies individual audio frames. Implementations may keep
// smoothing state between frames; Reset clears it.
type Detector interface {
	ProcessFrame(frame *audio.Frame) (State, float64, error)
	Reset()
}
