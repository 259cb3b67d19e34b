// Package config loads the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// FileConfig is the YAML structure of the config file.
type FileConfig struct {
	// Transport: "openai" | "anthropic" | "bedrock" (or any
	// openai-compatible endpoint via BaseURL).
	Transport string `yaml:"transport"`

	// Model ID to use (e.g. "gpt-4o", "claude-sonnet-4-5").
	Model string `yaml:"model"`

	// BaseURL overrides the default endpoint (OpenRouter, Azure, local
	// Ollama, etc.). Only used by the HTTP transports.
	BaseURL string `yaml:"base_url"`

	// APIKey can be a literal key or "${ENV_VAR}" to read from environment.
	APIKey string `yaml:"api_key"`

	// SystemPrompt is sent with every turn.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps the response length (0 = provider default).
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls randomness (nil = provider default).
	Temperature *float64 `yaml:"temperature"`

	// Region is used by Amazon Bedrock (e.g. "us-east-1").
	// Defaults to AWS_DEFAULT_REGION / ~/.aws/config.
	Region string `yaml:"region"`

	// Profile is the AWS profile name for Bedrock authentication.
	Profile string `yaml:"profile"`

	// HistoryDir is where conversation archives are written.
	// Defaults to ~/.config/turnstile/history.
	HistoryDir string `yaml:"history_dir"`

	// LogFile receives structured diagnostics. Empty disables file logging.
	LogFile string `yaml:"log_file"`

	// Retry enables exponential backoff on transport opens.
	Retry bool `yaml:"retry"`

	// Tools declares the payload schemas of tools the model may invoke.
	// Invocations of undeclared tools pass through unvalidated.
	Tools []ToolConfig `yaml:"tools"`
}

// ToolConfig declares one tool's payload schema. Schema is a JSON Schema
// written as YAML.
type ToolConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schema      map[string]any `yaml:"schema"`
}

// Load reads and parses a YAML config file, expanding ${ENV_VAR}
// references in string values.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Expand environment variables in the raw YAML before parsing.
	expanded := os.ExpandEnv(string(data))

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *FileConfig) error {
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if cfg.Transport == "" {
		return fmt.Errorf("config: transport is required")
	}
	switch cfg.Transport {
	case "openai", "anthropic", "bedrock":
	default:
		return fmt.Errorf("config: unknown transport %q", cfg.Transport)
	}
	if cfg.Model == "" {
		return fmt.Errorf("config: model is required")
	}
	for i, t := range cfg.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("config: tools[%d]: name is required", i)
		}
	}
	return nil
}
