// Package openai implements chat.Transport for the OpenAI Chat Completions
// API (streaming via SSE). Azure-hosted and OpenAI-compatible endpoints work
// through the same transport with a different base URL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/transport/sse"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Transport streams completions from an OpenAI-compatible endpoint.
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

func (t *Transport) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// tcState accumulates one streamed tool call across deltas.
type tcState struct {
	name   string
	opened bool
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

func (t *Transport) Open(ctx context.Context, req chat.Request) (<-chan chat.TransportEvent, error) {
	wire := wireRequest{
		Model:       req.Model,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.SystemPrompt != "" {
		wire.Messages = append(wire.Messages, wireMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, wireMessage{
			Role:    string(m.Role),
			Content: chat.RenderText(m.Content),
		})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai: HTTP %d: %s", resp.StatusCode, string(b))
	}

	events := make(chan chat.TransportEvent, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		t.readStream(resp.Body, events)
	}()
	return events, nil
}

// readStream decodes the chunked completion frames. Tool call deltas are
// re-rendered as markup text: the first delta naming a call opens the
// marker, argument fragments pass through raw, and the tag is closed when
// the stream ends or another call begins.
func (t *Transport) readStream(body io.Reader, events chan<- chat.TransportEvent) {
	reader := sse.NewReader(body)
	finishReason := ""

	calls := map[int]*tcState{}
	openIdx := -1

	closeOpenCall := func() {
		if openIdx >= 0 {
			events <- chunk(")" + chat.EndMarker)
			openIdx = -1
		}
	}

	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			events <- chat.TransportEvent{Type: chat.EventError, Err: fmt.Errorf("openai: sse read: %w", err)}
			return
		}
		if ev.Data == "[DONE]" {
			break
		}
		if ev.Data == "" {
			continue
		}

		var frame streamChunk
		if err := json.Unmarshal([]byte(ev.Data), &frame); err != nil {
			continue
		}
		if len(frame.Choices) == 0 {
			continue // usage-only frame
		}
		choice := frame.Choices[0]

		if choice.Delta.Content != "" {
			closeOpenCall()
			events <- chunk(choice.Delta.Content)
		}

		for _, tc := range choice.Delta.ToolCalls {
			st := calls[tc.Index]
			if st == nil {
				st = &tcState{}
				calls[tc.Index] = st
			}
			if tc.Function.Name != "" {
				st.name = tc.Function.Name
			}
			if !st.opened && st.name != "" {
				closeOpenCall()
				st.opened = true
				openIdx = tc.Index
				events <- chunk(chat.StartMarker + st.name + "(")
			}
			if tc.Function.Arguments != "" && st.opened {
				events <- chunk(tc.Function.Arguments)
			}
		}

		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	closeOpenCall()
	// A call that never got arguments still needs its tag closed.
	for _, idx := range sortedKeys(calls) {
		if st := calls[idx]; st.name != "" && !st.opened {
			events <- chunk(chat.StartMarker + st.name + "()" + chat.EndMarker)
		}
	}

	events <- chat.TransportEvent{Type: chat.EventFinish, Finish: mapFinishReason(finishReason)}
}

func chunk(text string) chat.TransportEvent {
	return chat.TransportEvent{Type: chat.EventChunk, Text: text}
}

func mapFinishReason(reason string) chat.Reason {
	if reason == "tool_calls" || reason == "function_call" {
		return chat.ReasonToolUse
	}
	return chat.ReasonComplete
}

func sortedKeys(m map[int]*tcState) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
