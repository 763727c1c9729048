// Package deepgram streams audio to Deepgram's live transcription API.
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
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/elaravoice/elara-core/core/audio"
	"github.com/elaravoice/elara-core/core/speechtotext"
)

// Client is a speechtotext.Backend backed by Deepgram's live websocket.
// Audio pushed through Process is forwarded on the socket; transcripts
// arriving from the read loop are buffered until the next Process or
// Finalize call picks them up.
type Client struct {
	encoding audio.EncodingInfo
	model    string
	language string

	conn   *websocket.Conn
	connMu sync.Mutex

	mu         sync.Mutex
	interim    *speechtotext.Transcript
	finalText  []string
	finalWords []speechtotext.Word
	lastMsgTs  time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEncodingInfo overrides the audio encoding sent to Deepgram.
func WithEncodingInfo(encoding audio.EncodingInfo) ClientOption {
	return func(c *Client) { c.encoding = encoding }
}

// WithModel overrides the transcription model.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithLanguage overrides the transcription language.
func WithLanguage(language string) ClientOption {
	return func(c *Client) { c.language = language }
}

// NewClient creates an unconnected client. Call Connect before Process.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		encoding: audio.GetDefaultEncodingInfo(),
		model:    "nova-3",
		language: "en-US",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the websocket and starts the read loop. The context
// bounds the connection's lifetime.
func (c *Client) Connect(ctx context.Context) error {
	encoding, err := convertEncoding(c.encoding)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return fmt.Errorf("deepgram api key not found")
	}

	listenUrl, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", c.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("endpointing", "300")
	listenUrl.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(listenUrl.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	go c.readAndProcessMessages(ctx, conn)

	return nil
}

// Process forwards the samples to Deepgram and returns the most recent
// interim transcript, or nil when no new one has arrived.
func (c *Client) Process(samples []float32) (*speechtotext.Transcript, error) {
	frame := &audio.Frame{Samples: samples, SampleRate: c.encoding.SampleRate}
	if err := c.sendAudio(frame.Linear16()); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	interim := c.interim
	c.interim = nil
	return interim, nil
}

// Finalize asks Deepgram to flush its buffer, waits briefly for the
// trailing final result, and returns everything accumulated since the
// last Finalize or Reset.
func (c *Client) Finalize() speechtotext.Transcript {
	c.connMu.Lock()
	if c.conn != nil {
		if err := c.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: "Finalize"}); err != nil {
			log.Println("Failed to flush deepgram buffer", "error", err)
		}
	}
	c.connMu.Unlock()

	// Give the flushed final a moment to arrive on the read loop.
	time.Sleep(250 * time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	transcript := speechtotext.Transcript{
		Text:       strings.TrimSpace(strings.Join(c.finalText, " ")),
		Confidence: 0.95,
		Words:      c.finalWords,
		Final:      true,
	}
	c.finalText = nil
	c.finalWords = nil
	c.interim = nil
	return transcript
}

// Reset drops accumulated transcripts without closing the connection.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalText = nil
	c.finalWords = nil
	c.interim = nil
}

// Close ends the stream and closes the websocket.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		if err := c.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
			return fmt.Errorf("failed to close deepgram stream: %w", err)
		}
	}
	return nil
}

func (c *Client) sendAudio(data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("deepgram client is not connected")
	}
	c.lastMsgTs = time.Now()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (c *Client) sendKeepAlive() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "KeepAlive"}); err != nil {
		log.Println("Failed to write to deepgram client", "error", err)
	}
}

func (c *Client) readAndProcessMessages(ctx context.Context, conn *websocket.Conn) {
	keepAliveCtx, keepAliveCancel := context.WithCancel(ctx)
	defer keepAliveCancel()

	go c.keepAliveLoop(keepAliveCtx)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if err.Error() != "websocket: close 1000 (normal)" {
				log.Println("Failed to read deepgram websocket message", "error", err)
			}

			c.connMu.Lock()
			c.conn = nil
			c.connMu.Unlock()
			conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			c.processMessage(msg)
		}
	}
}

func (c *Client) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		log.Println("Failed to unmarshal deepgram message", "error", err)
		return
	}

	if api.TypeResponse(parsedMsg.Type) != api.TypeMessageResponse {
		return
	}

	var msgResp api.MessageResponse
	if err := json.Unmarshal(msg, &msgResp); err != nil {
		log.Println("Failed to unmarshal deepgram message", err)
		return
	}
	if len(msgResp.Channel.Alternatives) == 0 {
		return
	}

	alternative := msgResp.Channel.Alternatives[0]
	text := strings.TrimSpace(alternative.Transcript)
	if len(text) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if msgResp.IsFinal {
		c.finalText = append(c.finalText, text)
		for _, w := range alternative.Words {
			c.finalWords = append(c.finalWords, speechtotext.Word{
				Text:       w.Word,
				Start:      time.Duration(w.Start * float64(time.Second)),
				End:        time.Duration(w.End * float64(time.Second)),
				Confidence: w.Confidence,
			})
		}
		return
	}

	accumulated := strings.Join(append(append([]string{}, c.finalText...), text), " ")
	c.interim = &speechtotext.Transcript{
		Text:       strings.TrimSpace(accumulated),
		Confidence: alternative.Confidence,
		Final:      false,
	}
}

func (c *Client) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			idle := time.Since(c.lastMsgTs) > 5*time.Second
			c.connMu.Unlock()
			if idle {
				c.sendKeepAlive()
			}
		}
	}
}
