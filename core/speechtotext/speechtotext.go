// Package speechtotext converts audio into transcripts.
package speechtotext

import "time"

// Word is a single recognized word with its timing inside the utterance.
type Word struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Transcript is a recognition result. Interim results have Final false
// and may be revised by later ones.
type Transcript struct {
	Text       string
	Confidence float64
	Words      []Word
	Final      bool
}

// Backend transcribes audio pushed to it frame by frame. Process returns
// the latest interim transcript, or nil when nothing new is available.
// Finalize flushes buffered audio and returns the completed transcript
// for the utterance. Reset discards all buffered audio and interim state.
type Backend interface {
	Process(samples []float32) (*Transcript, error)
	Finalize() Transcript
	Reset()
}
