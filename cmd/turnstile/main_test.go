package main

import (
	"strings"
	"testing"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/config"
	"github.com/turnstile-dev/turnstile/pkg/toolspec"
)

func testRegistry(t *testing.T) *toolspec.Registry {
	t.Helper()
	cfg := &config.FileConfig{
		Tools: []config.ToolConfig{
			{
				Name: "search",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
					},
					"required": []any{"query"},
				},
			},
		},
	}
	return buildToolRegistry(cfg)
}

func TestFormatToolCall_ValidPayloadShowsDecodedArgs(t *testing.T) {
	reg := testRegistry(t)
	got := formatToolCall(reg, chat.ToolInvocation{
		Name: "search", RawPayload: `query="go"`, Complete: true,
	})
	want := `[tool] search({"query":"go"})`
	if got != want {
		t.Fatalf("formatted = %q, want %q", got, want)
	}
}

func TestFormatToolCall_InvalidPayloadShowsWarning(t *testing.T) {
	reg := testRegistry(t)
	got := formatToolCall(reg, chat.ToolInvocation{
		Name: "search", RawPayload: `{"other": 1}`, Complete: true,
	})
	if !strings.HasPrefix(got, `[tool] search({"other": 1})`) {
		t.Fatalf("raw payload not shown: %q", got)
	}
	if !strings.Contains(got, "[warn]") {
		t.Fatalf("validation warning missing: %q", got)
	}
}

func TestFormatToolCall_UnregisteredToolPassesThrough(t *testing.T) {
	reg := testRegistry(t)
	got := formatToolCall(reg, chat.ToolInvocation{
		Name: "fetch", RawPayload: `url="https://example.com"`, Complete: true,
	})
	want := `[tool] fetch({"url":"https://example.com"})`
	if got != want {
		t.Fatalf("formatted = %q, want %q", got, want)
	}
}

func TestFormatToolCall_EmptyPayload(t *testing.T) {
	reg := testRegistry(t)
	got := formatToolCall(reg, chat.ToolInvocation{Name: "ping", Complete: true})
	if got != "[tool] ping()" {
		t.Fatalf("formatted = %q", got)
	}
}
