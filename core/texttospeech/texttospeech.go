// Package texttospeech converts assistant text into audio.
package texttospeech

import "context"

// EventKind discriminates synthesis events.
type EventKind string

const (
	// EventAudio carries a chunk of synthesized samples.
	EventAudio EventKind = "audio"
	// EventComplete marks the end of a successful synthesis.
	EventComplete EventKind = "complete"
	// EventBargedIn marks a synthesis cut short by the user.
	EventBargedIn EventKind = "barged_in"
	// EventError marks a failed synthesis.
	EventError EventKind = "error"
)

// Event is a single synthesis output. Audio events carry the samples and
// the text they voice; BargedIn and Complete carry the final word index.
type Event struct {
	Kind      EventKind
	Samples   []float32
	Text      string
	WordIndex int
	Final     bool
	Err       error
}

// Synthesizer turns text into a stream of audio events. Start blocks
// until synthesis completes, errors, or is barged in; callers run it in
// its own goroutine. BargeIn may be called concurrently and aborts the
// in-flight synthesis promptly. CurrentWordIndex reports how far
// playback has progressed, for resuming after an interruption.
type Synthesizer interface {
	Start(ctx context.Context, text string, events chan<- Event) error
	BargeIn()
	CurrentWordIndex() int
	Reset()
}
