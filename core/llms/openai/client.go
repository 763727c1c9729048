// Package openai is an llms.Backend over the OpenAI chat completions API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/elaravoice/elara-core/core/llms"
)

const (
	url = "https://api.openai.com/v1/chat/completions"

	chunkPrefix = "data:"
	doneChunk   = "[DONE]"
)

// Client calls the OpenAI chat completions API.
type Client struct {
	apiKey      string
	model       string
	temperature float64
	maxTokens   int

	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel overrides the model name.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(temperature float64) ClientOption {
	return func(c *Client) { c.temperature = temperature }
}

// WithMaxTokens caps the generation length.
func WithMaxTokens(maxTokens int) ClientOption {
	return func(c *Client) { c.maxTokens = maxTokens }
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       "gpt-4o-mini",
		temperature: 0.7,
		httpClient:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type requestBody struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type responseBody struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, messages []llms.Message) (*llms.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	start := time.Now()
	resp, err := c.send(ctx, messages, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to generate response")
		return nil, err
	}
	defer resp.Body.Close()

	var body responseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		err = fmt.Errorf("error decoding response: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode response")
		return nil, err
	}
	if len(body.Choices) == 0 {
		err := fmt.Errorf("response contained no choices")
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty response")
		return nil, err
	}

	total := time.Since(start)
	result := &llms.GenerationResult{
		Text:             body.Choices[0].Message.Content,
		Tokens:           body.Usage.CompletionTokens,
		TimeToFirstToken: total,
		TotalTime:        total,
		FinishReason:     body.Choices[0].FinishReason,
	}
	if total > 0 {
		result.TokensPerSecond = float64(result.Tokens) / total.Seconds()
	}
	return result, nil
}

// GenerateStream runs a streaming completion, sending content deltas on
// the channel as they arrive.
func (c *Client) GenerateStream(ctx context.Context, messages []llms.Message, chunks chan<- string) (*llms.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "generate streaming response")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	start := time.Now()
	resp, err := c.send(ctx, messages, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start stream")
		return nil, err
	}
	defer resp.Body.Close()

	var (
		text         strings.Builder
		tokens       int
		firstToken   time.Duration
		finishReason string
	)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
		if len(line) == 0 {
			continue
		}
		if line == doneChunk {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if reason := chunk.Choices[0].FinishReason; reason != nil {
			finishReason = *reason
		}

		content := chunk.Choices[0].Delta.Content
		if len(content) == 0 {
			continue
		}
		if firstToken == 0 {
			firstToken = time.Since(start)
		}
		tokens++
		text.WriteString(content)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunks <- content:
		}
	}
	if err := scanner.Err(); err != nil {
		err = fmt.Errorf("error reading stream: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream read failed")
		return nil, err
	}

	total := time.Since(start)
	result := &llms.GenerationResult{
		Text:             text.String(),
		Tokens:           tokens,
		TimeToFirstToken: firstToken,
		TotalTime:        total,
		FinishReason:     finishReason,
	}
	if total > 0 {
		result.TokensPerSecond = float64(tokens) / total.Seconds()
	}
	return result, nil
}

// IsAvailable reports whether the API answers for the configured key.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.openai.com/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) send(ctx context.Context, messages []llms.Message, stream bool) (*http.Response, error) {
	reqBody := requestBody{
		Model:       c.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		if errorBody, err := io.ReadAll(resp.Body); err == nil {
			logger.Error("openai request failed", "status", resp.Status, "body", string(errorBody))
		}
		return nil, fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}
	return resp, nil
}

func toOpenAIMessages(messages []llms.Message) []message {
	out := make([]message, 0, len(messages))
	for _, m := range messages {
		out = append(out, message{Role: string(m.Role), Content: m.Content, Name: m.Name})
	}
	return out
}
