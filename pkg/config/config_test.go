package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/turnstile-dev/turnstile/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f := filepath.Join(t.TempDir(), "turnstile.yaml")
	if err := os.WriteFile(f, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestLoad_Minimal(t *testing.T) {
	f := writeConfig(t, `
transport: anthropic
model: claude-sonnet-4-5
api_key: sk-test
`)
	cfg, err := config.Load(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != "anthropic" {
		t.Errorf("transport = %q", cfg.Transport)
	}
	if cfg.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.APIKey != "sk-test" {
		t.Errorf("api_key = %q", cfg.APIKey)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_TURNSTILE_KEY", "sk-from-env")
	f := writeConfig(t, `
transport: openai
model: gpt-4o
api_key: ${TEST_TURNSTILE_KEY}
`)
	cfg, err := config.Load(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "sk-from-env" {
		t.Errorf("env expansion failed, api_key = %q", cfg.APIKey)
	}
}

func TestLoad_MissingTransport(t *testing.T) {
	f := writeConfig(t, `model: gpt-4o`)
	if _, err := config.Load(f); err == nil {
		t.Fatal("expected error for missing transport")
	}
}

func TestLoad_UnknownTransport(t *testing.T) {
	f := writeConfig(t, `
transport: carrier-pigeon
model: anything
`)
	if _, err := config.Load(f); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestLoad_MissingModel(t *testing.T) {
	f := writeConfig(t, `transport: openai`)
	if _, err := config.Load(f); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestLoad_ToolSchemas(t *testing.T) {
	f := writeConfig(t, `
transport: openai
model: gpt-4o
tools:
  - name: search
    description: web search
    schema:
      type: object
      properties:
        query:
          type: string
      required: [query]
  - name: ping
`)
	cfg, err := config.Load(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(cfg.Tools))
	}
	if cfg.Tools[0].Name != "search" || cfg.Tools[0].Description != "web search" {
		t.Errorf("tool 0 = %q/%q", cfg.Tools[0].Name, cfg.Tools[0].Description)
	}
	if cfg.Tools[0].Schema["type"] != "object" {
		t.Errorf("schema type = %v", cfg.Tools[0].Schema["type"])
	}
	if cfg.Tools[1].Name != "ping" || cfg.Tools[1].Schema != nil {
		t.Errorf("tool 1 = %+v", cfg.Tools[1])
	}
}

func TestLoad_ToolWithoutNameRejected(t *testing.T) {
	f := writeConfig(t, `
transport: openai
model: gpt-4o
tools:
  - description: nameless
`)
	if _, err := config.Load(f); err == nil {
		t.Fatal("expected error for tool without name")
	}
}

func TestLoad_OptionalFields(t *testing.T) {
	f := writeConfig(t, `
transport: bedrock
model: us.anthropic.claude-sonnet-4-5-v1:0
region: us-east-1
profile: dev
max_tokens: 4096
temperature: 0.5
retry: true
`)
	cfg, err := config.Load(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Region != "us-east-1" || cfg.Profile != "dev" {
		t.Errorf("aws fields = %q/%q", cfg.Region, cfg.Profile)
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d", cfg.MaxTokens)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
	if !cfg.Retry {
		t.Error("retry not set")
	}
}
