package processors

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

const (
	// DefaultMinCharsFirstSentence is how much text must buffer before the
	// first sentence may be emitted early, trading grammar for latency.
	DefaultMinCharsFirstSentence = 15
	// DefaultMaxBufferChars forces emission at a word boundary when a
	// sentence runs this long without a terminator.
	DefaultMaxBufferChars = 500
)

// latinTerminators end sentences in Latin-script text. Devanagari text
// additionally ends on the danda and double danda.
var (
	latinTerminators      = []rune{'.', '?', '!'}
	devanagariTerminators = []rune{'.', '?', '!', '।', '॥'}
)

// terminatorsFor picks sentence terminators for a language tag such as
// "en" or "hi". Unknown languages fall back to Latin punctuation.
func terminatorsFor(language string) []rune {
	switch strings.ToLower(strings.SplitN(language, "-", 2)[0]) {
	case "hi", "mr", "ne", "sa":
		return devanagariTerminators
	default:
		return latinTerminators
	}
}

// SentenceDetector buffers streaming text chunks and emits complete
// sentences, so downstream synthesis can start before the whole response
// has arrived. The first sentence is emitted early once enough characters
// have buffered, and overlong buffers are broken at the last word boundary.
type SentenceDetector struct {
	minCharsFirst      int
	maxBufferChars     int
	emitPartialOnFlush bool

	mu           sync.Mutex
	buffer       string
	index        int
	firstEmitted bool
	terminators  []rune
}

type SentenceDetectorOption func(*SentenceDetector)

// WithMinCharsFirstSentence sets the early-emission threshold for the
// first sentence of a response.
func WithMinCharsFirstSentence(n int) SentenceDetectorOption {
	return func(d *SentenceDetector) {
		if n > 0 {
			d.minCharsFirst = n
		}
	}
}

// WithMaxBufferChars sets the buffer size that forces a word-boundary break.
func WithMaxBufferChars(n int) SentenceDetectorOption {
	return func(d *SentenceDetector) {
		if n > 0 {
			d.maxBufferChars = n
		}
	}
}

// WithEmitPartialOnFlush controls whether a flush signal emits the
// buffered partial sentence. Enabled by default.
func WithEmitPartialOnFlush(emit bool) SentenceDetectorOption {
	return func(d *SentenceDetector) {
		d.emitPartialOnFlush = emit
	}
}

// NewSentenceDetector creates a sentence detector stage.
func NewSentenceDetector(opts ...SentenceDetectorOption) *SentenceDetector {
	d := &SentenceDetector{
		minCharsFirst:      DefaultMinCharsFirstSentence,
		maxBufferChars:     DefaultMaxBufferChars,
		emitPartialOnFlush: true,
		terminators:        latinTerminators,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *SentenceDetector) Name() string {
	return "sentence_detector"
}

func (d *SentenceDetector) OnStart(_ context.Context, pc *Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pc != nil && pc.Language != "" {
		d.terminators = terminatorsFor(pc.Language)
	}
	return nil
}

func (d *SentenceDetector) OnStop(context.Context, *Context) error {
	d.Reset()
	return nil
}

// Reset drops buffered text and restarts sentence numbering.
func (d *SentenceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = ""
	d.index = 0
	d.firstEmitted = false
}

func (d *SentenceDetector) Process(_ context.Context, frame Frame, _ *Context) ([]Frame, error) {
	switch f := frame.(type) {
	case TextChunk:
		return d.processChunk(f), nil

	case Control:
		switch f.Signal {
		case SignalFlush:
			var frames []Frame
			if d.emitPartialOnFlush {
				frames = d.flush()
			}
			return append(frames, frame), nil
		case SignalReset:
			d.Reset()
			return []Frame{frame}, nil
		}
		return []Frame{frame}, nil

	case EndOfStream:
		return append(d.flush(), frame), nil

	default:
		return []Frame{frame}, nil
	}
}

func (d *SentenceDetector) processChunk(chunk TextChunk) []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffer += chunk.Text

	sentences, remaining := splitSentences(d.buffer, d.terminators)
	d.buffer = remaining

	if chunk.Final {
		if rest := strings.TrimSpace(d.buffer); rest != "" {
			sentences = append(sentences, rest)
		}
		d.buffer = ""
	}

	// Early emission when no terminator has arrived yet. Before the first
	// sentence the threshold is small to cut time to first audio; after it
	// the buffer only breaks when it grows past the hard limit.
	if len(sentences) == 0 && !chunk.Final {
		limit := d.maxBufferChars
		if !d.firstEmitted {
			limit = d.minCharsFirst
		}
		if len(d.buffer) >= limit {
			if pos := strings.LastIndexFunc(d.buffer, unicode.IsSpace); pos > 0 {
				partial := strings.TrimSpace(d.buffer[:pos])
				d.buffer = d.buffer[pos:]
				if partial != "" {
					sentences = append(sentences, partial)
				}
			}
		}
	}

	return d.frames(sentences)
}

// flush emits whatever is buffered as a final partial sentence.
func (d *SentenceDetector) flush() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	text := strings.TrimSpace(d.buffer)
	d.buffer = ""
	if text == "" {
		return nil
	}
	return d.frames([]string{text})
}

// frames wraps sentences into numbered frames. Caller holds d.mu.
func (d *SentenceDetector) frames(sentences []string) []Frame {
	if len(sentences) == 0 {
		return nil
	}
	frames := make([]Frame, 0, len(sentences))
	for _, text := range sentences {
		frames = append(frames, Sentence{Text: text, Index: d.index})
		d.index++
		d.firstEmitted = true
	}
	return frames
}

// splitSentences cuts text into complete sentences and the unterminated
// remainder. A terminator may be followed by closing quotes or brackets,
// which attach to the sentence they close.
func splitSentences(text string, terminators []rune) ([]string, string) {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		current.WriteRune(r)
		i++

		if !isTerminator(r, terminators) {
			continue
		}

		for i < len(runes) {
			next := runes[i]
			if isClosing(next) {
				current.WriteRune(next)
				i++
				continue
			}
			if unicode.IsSpace(next) {
				i++
			}
			break
		}

		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	return sentences, current.String()
}

func isTerminator(r rune, terminators []rune) bool {
	for _, t := range terminators {
		if r == t {
			return true
		}
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」':
		return true
	}
	return false
}
