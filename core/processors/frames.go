// Package processors streams frames through ordered processing stages
// connected by channels, turning assistant text into playable audio.
package processors

// FrameKind discriminates frame types flowing through a chain.
type FrameKind string

const (
	KindTextChunk   FrameKind = "text_chunk"
	KindSentence    FrameKind = "sentence"
	KindAudioOutput FrameKind = "audio_output"
	KindBargeIn     FrameKind = "barge_in"
	KindControl     FrameKind = "control"
	KindEndOfStream FrameKind = "end_of_stream"
	KindError       FrameKind = "error"
)

// Frame is a unit of data flowing through a processor chain.
type Frame interface {
	Kind() FrameKind
}

// TextChunk is a piece of streaming assistant text. Final marks the last
// chunk of a response.
type TextChunk struct {
	Text  string
	Final bool
}

func (TextChunk) Kind() FrameKind { return KindTextChunk }

// Sentence is a complete sentence extracted from the text stream. Index
// counts sentences within the current response, starting at zero.
type Sentence struct {
	Text  string
	Index int
}

func (Sentence) Kind() FrameKind { return KindSentence }

// AudioOutput carries synthesized samples for a piece of text.
type AudioOutput struct {
	Samples []float32
	Text    string
	Final   bool
}

func (AudioOutput) Kind() FrameKind { return KindAudioOutput }

// BargeIn signals that the user interrupted playback. AtWord is the index
// of the last word voiced before the cut.
type BargeIn struct {
	AtWord int
}

func (BargeIn) Kind() FrameKind { return KindBargeIn }

// Signal is a control instruction for the stages of a chain.
type Signal string

const (
	// SignalFlush asks stages to emit whatever they are buffering.
	SignalFlush Signal = "flush"
	// SignalReset asks stages to drop buffered state and start over.
	SignalReset Signal = "reset"
)

// Control carries a signal through every stage of the chain.
type Control struct {
	Signal Signal
}

func (Control) Kind() FrameKind { return KindControl }

// EndOfStream marks the end of input. Stages flush and reset when they
// see it, and it propagates to the chain output.
type EndOfStream struct{}

func (EndOfStream) Kind() FrameKind { return KindEndOfStream }

// Error reports a stage failure without tearing the chain down.
type Error struct {
	Stage       string
	Err         error
	Recoverable bool
}

func (Error) Kind() FrameKind { return KindError }
