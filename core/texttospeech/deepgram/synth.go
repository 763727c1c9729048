// Package deepgram streams text to Deepgram's speak API.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/elaravoice/elara-core/core/audio"
	"github.com/elaravoice/elara-core/core/texttospeech"
)

// Voice is a Deepgram Aura voice model.
type Voice string

const (
	VoiceAsteria Voice = "aura-2-asteria-en"
	VoiceThalia  Voice = "aura-2-thalia-en"
	VoiceOrion   Voice = "aura-2-orion-en"
)

var defaultVoice = VoiceAsteria

// GetAvailableVoices lists the supported voice models.
func GetAvailableVoices() []Voice {
	return []Voice{VoiceAsteria, VoiceThalia, VoiceOrion}
}

// Synth is a texttospeech.Synthesizer backed by Deepgram's streaming
// speak websocket. Each Start opens a fresh connection, sends the text,
// and relays binary audio messages as events until the flush
// confirmation arrives. Word progress is estimated from the share of
// audio received, since the speak stream carries no word timings.
type Synth struct {
	voice    Voice
	encoding audio.EncodingInfo

	mu   sync.Mutex
	conn *websocket.Conn

	wordIndex  atomic.Int64
	totalWords atomic.Int64
	barged     atomic.Bool
}

// SynthOption configures a Synth.
type SynthOption func(*Synth)

// WithVoice overrides the voice model.
func WithVoice(voice Voice) SynthOption {
	return func(s *Synth) { s.voice = voice }
}

// WithEncodingInfo overrides the output audio encoding.
func WithEncodingInfo(encoding audio.EncodingInfo) SynthOption {
	return func(s *Synth) { s.encoding = encoding }
}

// NewSynth creates a Deepgram synthesizer.
func NewSynth(opts ...SynthOption) *Synth {
	s := &Synth{
		voice:    defaultVoice,
		encoding: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start synthesizes the text, blocking until the audio stream completes,
// errors, or is barged in.
func (s *Synth) Start(ctx context.Context, text string, events chan<- texttospeech.Event) error {
	s.barged.Store(false)
	s.wordIndex.Store(0)

	words := int64(len(strings.Fields(text)))
	s.totalWords.Store(words)

	conn, err := s.connect()
	if err != nil {
		events <- texttospeech.Event{Kind: texttospeech.EventError, Err: err}
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer s.closeConn()

	if err := s.sendJSON(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "Speak", Text: text}); err != nil {
		events <- texttospeech.Event{Kind: texttospeech.EventError, Err: err}
		return err
	}
	if err := s.sendJSON(struct {
		Type string `json:"type"`
	}{Type: "Flush"}); err != nil {
		events <- texttospeech.Event{Kind: texttospeech.EventError, Err: err}
		return err
	}

	// Rough audio budget for word-progress estimation, assuming ~400ms
	// voiced per word.
	expectedSamples := words * int64(s.encoding.SampleRate) * 400 / 1000
	var receivedSamples int64

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.barged.Load() {
			s.sendClear()
			events <- texttospeech.Event{Kind: texttospeech.EventBargedIn, WordIndex: int(s.wordIndex.Load())}
			return nil
		}

		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if s.barged.Load() {
				events <- texttospeech.Event{Kind: texttospeech.EventBargedIn, WordIndex: int(s.wordIndex.Load())}
				return nil
			}
			if err.Error() != "websocket: close 1000 (normal)" {
				events <- texttospeech.Event{Kind: texttospeech.EventError, Err: err}
				return fmt.Errorf("failed to read deepgram speak message: %w", err)
			}
			events <- texttospeech.Event{Kind: texttospeech.EventComplete, WordIndex: int(s.wordIndex.Load()), Final: true}
			return nil
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) == 0 {
				continue
			}
			frame := audio.FrameFromLinear16(msg, s.encoding.SampleRate, 0)
			receivedSamples += int64(len(frame.Samples))
			if expectedSamples > 0 {
				index := receivedSamples * words / expectedSamples
				if index > words {
					index = words
				}
				s.wordIndex.Store(index)
			}
			events <- texttospeech.Event{
				Kind:      texttospeech.EventAudio,
				Samples:   frame.Samples,
				WordIndex: int(s.wordIndex.Load()),
			}
		case websocket.TextMessage:
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				log.Printf("Failed to unmarshal deepgram message: %v", err)
				continue
			}
			if parsedMsg.Type == "Flushed" {
				s.wordIndex.Store(words)
				events <- texttospeech.Event{Kind: texttospeech.EventComplete, WordIndex: int(words), Final: true}
				return nil
			}
		}
	}
}

// BargeIn aborts the in-flight synthesis and clears Deepgram's buffer.
func (s *Synth) BargeIn() {
	if s == nil {
		return
	}
	s.barged.Store(true)
	s.sendClear()
	s.closeConn()
}

// CurrentWordIndex reports the estimated word progress.
func (s *Synth) CurrentWordIndex() int {
	if s == nil {
		return 0
	}
	return int(s.wordIndex.Load())
}

// Reset clears the barge-in flag and progress.
func (s *Synth) Reset() {
	if s == nil {
		return
	}
	s.barged.Store(false)
	s.wordIndex.Store(0)
	s.totalWords.Store(0)
}

func (s *Synth) connect() (*websocket.Conn, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", s.encoding.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(s.encoding.SampleRate))
	urlValues.Set("model", string(s.voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.Dial(
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

func (s *Synth) sendJSON(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket connection closed")
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

func (s *Synth) sendClear() {
	if err := s.sendJSON(struct {
		Type string `json:"type"`
	}{Type: "Clear"}); err != nil {
		log.Printf("Failed to clear deepgram buffer: %v", err)
	}
}

func (s *Synth) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "Close"}); err != nil {
		log.Printf("Failed to send deepgram close: %v", err)
	}
	s.conn.Close()
	s.conn = nil
}
