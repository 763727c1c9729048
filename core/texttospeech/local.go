package texttospeech

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// DefaultSampleRate matches the pipeline's playback rate.
	DefaultSampleRate = 16000
	// DefaultMSPerChar scales word length into audio duration.
	DefaultMSPerChar = 60
)

// Local is a deterministic synthesizer that voices each word as a short
// tone whose length tracks the word's character count. It needs no
// network and keeps word-index accounting exact, which makes it the
// synthesizer of choice for tests and offline runs.
type Local struct {
	sampleRate int
	msPerChar  int
	pace       time.Duration

	wordIndex atomic.Int64
	barged    atomic.Bool
}

// LocalOption configures a Local synthesizer.
type LocalOption func(*Local)

// WithSampleRate overrides the output sample rate.
func WithSampleRate(rate int) LocalOption {
	return func(l *Local) { l.sampleRate = rate }
}

// WithPace inserts a real-time delay between words, so tests can observe
// synthesis mid-flight.
func WithPace(d time.Duration) LocalOption {
	return func(l *Local) { l.pace = d }
}

// NewLocal creates a local synthesizer.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		sampleRate: DefaultSampleRate,
		msPerChar:  DefaultMSPerChar,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start synthesizes the text word by word, emitting one audio event per
// word. It returns once the text is voiced, the context is cancelled, or
// BargeIn is called.
func (l *Local) Start(ctx context.Context, text string, events chan<- Event) error {
	l.barged.Store(false)
	l.wordIndex.Store(0)

	words := strings.Fields(text)
	for i, word := range words {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.barged.Load() {
			events <- Event{Kind: EventBargedIn, WordIndex: int(l.wordIndex.Load())}
			return nil
		}
		if l.pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.pace):
			}
		}

		events <- Event{
			Kind:      EventAudio,
			Samples:   l.wordSamples(word),
			Text:      word,
			WordIndex: i,
			Final:     i == len(words)-1,
		}
		l.wordIndex.Store(int64(i + 1))
	}

	events <- Event{Kind: EventComplete, WordIndex: int(l.wordIndex.Load()), Final: true}
	return nil
}

// BargeIn aborts the in-flight synthesis at the next word boundary.
func (l *Local) BargeIn() {
	if l == nil {
		return
	}
	l.barged.Store(true)
}

// CurrentWordIndex reports how many words have been voiced so far.
func (l *Local) CurrentWordIndex() int {
	if l == nil {
		return 0
	}
	return int(l.wordIndex.Load())
}

// Reset clears the barge-in flag and word progress.
func (l *Local) Reset() {
	if l == nil {
		return
	}
	l.barged.Store(false)
	l.wordIndex.Store(0)
}

// wordSamples renders a quiet sine burst sized by the word's length.
func (l *Local) wordSamples(word string) []float32 {
	n := l.sampleRate * len(word) * l.msPerChar / 1000
	if n == 0 {
		n = l.sampleRate * l.msPerChar / 1000
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.1 * math.Sin(2*math.Pi*220*float64(i)/float64(l.sampleRate)))
	}
	return samples
}
