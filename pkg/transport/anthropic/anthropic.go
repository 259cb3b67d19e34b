// Package anthropic implements chat.Transport for the Anthropic Messages
// API (streaming via SSE).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/transport/sse"
)

const defaultBaseURL = "https://api.anthropic.com/v1"
const apiVersion = "2023-06-01"

// Transport streams completions from the Anthropic Messages API.
type Transport struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Transport {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Transport{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (t *Transport) Name() string { return "anthropic" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type evContentBlockStart struct {
	Index        int         `json:"index"`
	ContentBlock wireContent `json:"content_block"`
}

type evContentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type evContentBlockStop struct {
	Index int `json:"index"`
}

type evMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// Open issues the streaming request and returns the event channel. The HTTP
// exchange up to the response headers happens synchronously, so an auth or
// connectivity failure is an Open error rather than a stream error.
func (t *Transport) Open(ctx context.Context, req chat.Request) (<-chan chat.TransportEvent, error) {
	wire := wireRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens(req),
		System:      req.SystemPrompt,
		Stream:      true,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, wireMessage{
			Role:    string(m.Role),
			Content: []wireContent{{Type: "text", Text: chat.RenderText(m.Content)}},
		})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic: HTTP %d: %s", resp.StatusCode, string(b))
	}

	events := make(chan chat.TransportEvent, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		t.readStream(resp.Body, events)
	}()
	return events, nil
}

// readStream decodes SSE frames and emits normalized events. Structured
// tool_use blocks are re-rendered as markup text so downstream parsing is
// uniform across dialects that embed tool calls in text and dialects that
// stream them structurally.
func (t *Transport) readStream(body io.Reader, events chan<- chat.TransportEvent) {
	reader := sse.NewReader(body)
	toolOpen := map[int]bool{}
	stopReason := ""

	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			events <- chat.TransportEvent{Type: chat.EventError, Err: fmt.Errorf("anthropic: sse read: %w", err)}
			return
		}
		if ev.Data == "" {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			var cbs evContentBlockStart
			if json.Unmarshal([]byte(ev.Data), &cbs) != nil {
				continue
			}
			if cbs.ContentBlock.Type == "tool_use" {
				toolOpen[cbs.Index] = true
				events <- chunk(chat.StartMarker + cbs.ContentBlock.Name + "(")
			}

		case "content_block_delta":
			var cbd evContentBlockDelta
			if json.Unmarshal([]byte(ev.Data), &cbd) != nil {
				continue
			}
			switch cbd.Delta.Type {
			case "text_delta":
				if cbd.Delta.Text != "" {
					events <- chunk(cbd.Delta.Text)
				}
			case "input_json_delta":
				if cbd.Delta.PartialJSON != "" {
					events <- chunk(cbd.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			var cbe evContentBlockStop
			if json.Unmarshal([]byte(ev.Data), &cbe) != nil {
				continue
			}
			if toolOpen[cbe.Index] {
				delete(toolOpen, cbe.Index)
				events <- chunk(")" + chat.EndMarker)
			}

		case "message_delta":
			var md evMessageDelta
			if json.Unmarshal([]byte(ev.Data), &md) == nil && md.Delta.StopReason != "" {
				stopReason = md.Delta.StopReason
			}
		}
	}

	events <- chat.TransportEvent{Type: chat.EventFinish, Finish: mapStopReason(stopReason)}
}

func chunk(text string) chat.TransportEvent {
	return chat.TransportEvent{Type: chat.EventChunk, Text: text}
}

func mapStopReason(reason string) chat.Reason {
	if reason == "tool_use" {
		return chat.ReasonToolUse
	}
	return chat.ReasonComplete
}

func maxTokens(req chat.Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return 8192
}
