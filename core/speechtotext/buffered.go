package speechtotext

import (
	"strings"
	"time"
)

const (
	// DefaultSampleRate matches the pipeline's capture rate.
	DefaultSampleRate = 16000
	// DefaultPartialInterval is how much audio must accumulate between
	// interim transcripts.
	DefaultPartialInterval = 500 * time.Millisecond
)

// Buffered is an offline backend that pairs accumulated audio with
// scripted utterances. Each Finalize consumes the next script entry,
// with word timings spread evenly over the buffered audio. It backs
// tests and development setups without a speech service.
type Buffered struct {
	sampleRate      int
	partialInterval time.Duration
	script          []string

	buffered     int
	lastPartial  int
	partialWords int
}

// BufferedOption configures a Buffered backend.
type BufferedOption func(*Buffered)

// WithScript sets the utterances returned by successive Finalize calls.
func WithScript(utterances ...string) BufferedOption {
	return func(b *Buffered) { b.script = append([]string{}, utterances...) }
}

// WithSampleRate overrides the assumed sample rate.
func WithSampleRate(rate int) BufferedOption {
	return func(b *Buffered) { b.sampleRate = rate }
}

// WithPartialInterval overrides the audio interval between partials.
func WithPartialInterval(d time.Duration) BufferedOption {
	return func(b *Buffered) { b.partialInterval = d }
}

// NewBuffered creates a scripted backend.
func NewBuffered(opts ...BufferedOption) *Buffered {
	b := &Buffered{
		sampleRate:      DefaultSampleRate,
		partialInterval: DefaultPartialInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Process buffers the samples and emits an interim transcript each time
// another partial interval of audio has accumulated. Partials reveal the
// current script entry one word at a time.
func (b *Buffered) Process(samples []float32) (*Transcript, error) {
	if b == nil {
		return nil, nil
	}
	b.buffered += len(samples)

	intervalSamples := int(float64(b.sampleRate) * b.partialInterval.Seconds())
	if intervalSamples <= 0 || b.buffered-b.lastPartial < intervalSamples {
		return nil, nil
	}
	b.lastPartial = b.buffered

	words := b.currentWords()
	if len(words) == 0 {
		return nil, nil
	}
	if b.partialWords < len(words) {
		b.partialWords++
	}

	text := strings.Join(words[:b.partialWords], " ")
	return &Transcript{
		Text:       text,
		Confidence: 0.8,
		Final:      false,
	}, nil
}

// Finalize consumes the next scripted utterance, timing its words evenly
// across the buffered audio, and clears the buffer.
func (b *Buffered) Finalize() Transcript {
	if b == nil {
		return Transcript{Final: true}
	}

	words := b.currentWords()
	duration := time.Duration(float64(b.buffered) / float64(b.sampleRate) * float64(time.Second))

	transcript := Transcript{
		Text:       strings.Join(words, " "),
		Confidence: 0.95,
		Final:      true,
	}
	if len(words) > 0 {
		per := duration / time.Duration(len(words))
		for i, w := range words {
			transcript.Words = append(transcript.Words, Word{
				Text:       w,
				Start:      time.Duration(i) * per,
				End:        time.Duration(i+1) * per,
				Confidence: 0.95,
			})
		}
	}

	if len(b.script) > 0 {
		b.script = b.script[1:]
	}
	b.Reset()
	return transcript
}

// Reset discards buffered audio and interim progress without consuming
// the current script entry.
func (b *Buffered) Reset() {
	if b == nil {
		return
	}
	b.buffered = 0
	b.lastPartial = 0
	b.partialWords = 0
}

func (b *Buffered) currentWords() []string {
	if len(b.script) == 0 {
		return nil
	}
	return strings.Fields(b.script[0])
}
