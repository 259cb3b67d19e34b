// Binary turnstile streams conversation turns against a configured
// provider, parsing tool-invocation markup out of the response stream.
//
// Usage:
//
//	turnstile [flags]
//
// Flags:
//
//	-config   path to YAML config file (default: turnstile.yaml)
//	-prompt   one-shot prompt (skips interactive mode)
//	-history  archive file to resume (and save back to)
//	-debug    verbose diagnostics in the log file
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/config"
	"github.com/turnstile-dev/turnstile/pkg/diag"
	"github.com/turnstile-dev/turnstile/pkg/history"
	"github.com/turnstile-dev/turnstile/pkg/store"
	"github.com/turnstile-dev/turnstile/pkg/stream"
	"github.com/turnstile-dev/turnstile/pkg/toolspec"
	"github.com/turnstile-dev/turnstile/pkg/transport/anthropic"
	"github.com/turnstile-dev/turnstile/pkg/transport/bedrock"
	"github.com/turnstile-dev/turnstile/pkg/transport/openai"
)

func main() {
	configPath := flag.String("config", "turnstile.yaml", "path to config file")
	oneShot := flag.String("prompt", "", "one-shot prompt (non-interactive)")
	historyFlag := flag.String("history", "", "archive file to resume and save")
	debugFlag := flag.Bool("debug", false, "debug-level diagnostics")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}

	log := diag.Nop()
	if cfg.LogFile != "" {
		fileLog, closeLog, err := diag.NewFileLogger(cfg.LogFile, *debugFlag)
		if err != nil {
			fatalf("log: %v", err)
		}
		defer closeLog()
		log = fileLog
	}

	tr, err := buildTransport(cfg)
	if err != nil {
		fatalf("transport: %v", err)
	}
	if cfg.Retry {
		tr = stream.WithRetry(tr, log)
	}

	orch := stream.New(store.New(), log)
	tools := buildToolRegistry(cfg)

	// Resume an existing archive.
	archivePath := *historyFlag
	if archivePath != "" {
		if _, err := os.Stat(archivePath); err == nil {
			u, warns, err := history.Load(archivePath)
			if err != nil {
				fatalf("history: %v", err)
			}
			for _, w := range warns {
				fmt.Fprintf(os.Stderr, "[warn] history: %s\n", w)
			}
			history.Restore(orch.Store(), u)
			fmt.Printf("[turnstile] resumed %d message(s) from %s\n", orch.Store().Len(), archivePath)
		}
	} else {
		archivePath = defaultArchivePath(cfg)
	}

	turns := &turnHolder{}
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range interrupts {
			turns.cancel()
		}
	}()

	if *oneShot != "" {
		runTurn(orch, tr, cfg, tools, turns, *oneShot)
	} else {
		repl(orch, tr, cfg, tools, turns)
	}

	if err := history.Save(archivePath, history.Snapshot(orch.Store())); err != nil {
		fmt.Fprintf(os.Stderr, "[warn] save history: %v\n", err)
	} else {
		fmt.Printf("[turnstile] saved %s\n", archivePath)
	}
}

// turnHolder tracks the in-flight turn so a SIGINT cancels it instead of
// killing the process.
type turnHolder struct {
	mu   sync.Mutex
	turn *stream.Turn
}

func (h *turnHolder) set(t *stream.Turn) {
	h.mu.Lock()
	h.turn = t
	h.mu.Unlock()
}

func (h *turnHolder) cancel() {
	h.mu.Lock()
	t := h.turn
	h.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

func repl(orch *stream.Orchestrator, tr chat.Transport, cfg *config.FileConfig, tools *toolspec.Registry, turns *turnHolder) {
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		runTurn(orch, tr, cfg, tools, turns, line)
	}
}

func runTurn(orch *stream.Orchestrator, tr chat.Transport, cfg *config.FileConfig, tools *toolspec.Registry, turns *turnHolder, prompt string) {
	orch.AddUserMessage(prompt)

	req := chat.Request{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Messages:     orch.Conversation(),
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		APIKey:       cfg.APIKey,
	}

	t, err := orch.StartTurn(context.Background(), tr, req, stream.Callbacks{
		OnChunk: func(_, delta string) {
			fmt.Print(delta)
		},
		OnToolCall: func(_ string, inv chat.ToolInvocation) {
			fmt.Printf("\n%s\n", formatToolCall(tools, inv))
		},
		OnComplete: func(reason chat.Reason, err error) {
			switch reason {
			case chat.ReasonError:
				fmt.Fprintf(os.Stderr, "\n[error] %v\n", err)
			case chat.ReasonToolUse:
				fmt.Println("\n[turn ended: tool use]")
			default:
				fmt.Println()
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		return
	}

	turns.set(t)
	t.Wait()
	turns.set(nil)
}

// buildToolRegistry registers the payload schemas declared in the config.
// Schemas are written as YAML maps and re-encoded to JSON for validation.
func buildToolRegistry(cfg *config.FileConfig) *toolspec.Registry {
	reg := toolspec.NewRegistry()
	for _, t := range cfg.Tools {
		spec := toolspec.Spec{Name: t.Name, Description: t.Description}
		if len(t.Schema) > 0 {
			if b, err := json.Marshal(t.Schema); err == nil {
				spec.Schema = b
			}
		}
		reg.Register(spec)
	}
	return reg
}

// formatToolCall validates an invocation payload against its registered
// schema and renders the line shown to the user. Invalid payloads are still
// shown, with the validation error attached.
func formatToolCall(tools *toolspec.Registry, inv chat.ToolInvocation) string {
	args, err := tools.Validate(inv.Name, inv.RawPayload)
	if err != nil {
		return fmt.Sprintf("[tool] %s(%s)\n[warn] %v", inv.Name, inv.RawPayload, err)
	}
	if len(args) == 0 {
		return fmt.Sprintf("[tool] %s()", inv.Name)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("[tool] %s(%s)", inv.Name, inv.RawPayload)
	}
	return fmt.Sprintf("[tool] %s(%s)", inv.Name, b)
}

func buildTransport(cfg *config.FileConfig) (chat.Transport, error) {
	switch cfg.Transport {
	case "openai":
		return openai.New(cfg.BaseURL), nil
	case "anthropic":
		return anthropic.New(cfg.BaseURL), nil
	case "bedrock":
		return bedrock.New(cfg.Region, cfg.Profile), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func defaultArchivePath(cfg *config.FileConfig) string {
	dir := cfg.HistoryDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".config", "turnstile", "history")
	}
	name := time.Now().UTC().Format("20060102-150405") + ".jsonl"
	return filepath.Join(dir, name)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "turnstile: "+format+"\n", args...)
	os.Exit(1)
}
