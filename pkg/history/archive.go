package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/store"
)

const currentVersion = 1

// EntryType identifies the kind of JSONL line in an archive file.
type EntryType string

const (
	EntryTypeHistory EntryType = "history"
	EntryTypeMessage EntryType = "message"
)

// Header is the first line of every archive file.
type Header struct {
	Type      EntryType `json:"type"` // "history"
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Timestamp string    `json:"timestamp"` // ISO 8601
}

// messageEntry records one message identity: the model record with its
// content blocks inlined, plus the paired UI record.
type messageEntry struct {
	Type    EntryType       `json:"type"` // "message"
	EntryID string          `json:"entry_id"`
	Model   store.ModelMessage `json:"model"`
	Content json.RawMessage `json:"content"` // serialized blocks (Model.Content is not self-describing)
	UI      store.UIMessage `json:"ui"`
}

// newEntryID returns an 8-character id, short enough to not bloat the file.
func newEntryID() string {
	return uuid.New().String()[:8]
}

// ---------------------------------------------------------------------------
// Saving
// ---------------------------------------------------------------------------

// Save writes the conversation to path as a JSONL archive: one header line
// followed by one message entry per message identity. The file is written
// whole; partial archives are never left behind on error.
func Save(path string, u Unified) error {
	if len(u.Model) != len(u.UI) {
		return fmt.Errorf("history: %d model records vs %d ui records", len(u.Model), len(u.UI))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("history: mkdir %s: %w", filepath.Dir(path), err)
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	header := Header{
		Type:      EntryTypeHistory,
		ID:        uuid.New().String(),
		Version:   currentVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeLine(w, header); err != nil {
		return err
	}

	for i, m := range u.Model {
		raw, err := marshalBlocks(m.Content)
		if err != nil {
			return fmt.Errorf("history: marshal blocks for %s: %w", m.ID, err)
		}
		entry := messageEntry{
			Type:    EntryTypeMessage,
			EntryID: newEntryID(),
			Model:   m,
			Content: raw,
			UI:      u.UI[i],
		}
		if err := writeLine(w, entry); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("history: flush: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("history: write %s: %w", path, err)
	}
	return nil
}

func writeLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("history: marshal entry: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("history: write entry: %w", err)
	}
	return w.WriteByte('\n')
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads an archive from path. It probes the first line: a header of
// type "history" selects the native JSONL format; anything else is treated
// as a legacy file (a JSON array of records, or one record per line) and
// migrated through ToUnified. Migration warnings are returned either way.
func Load(path string) (Unified, []Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Unified{}, nil, fmt.Errorf("history: read %s: %w", path, err)
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return Unified{}, nil, nil
	}

	var h Header
	if err := json.Unmarshal([]byte(lines[0]), &h); err == nil && h.Type == EntryTypeHistory {
		return loadNative(lines[1:])
	}
	return loadLegacy(data, lines)
}

func loadNative(lines []string) (Unified, []Warning, error) {
	var u Unified
	var warns []Warning
	for i, line := range lines {
		var entry messageEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			warns = append(warns, Warning{Index: i, Reason: fmt.Sprintf("unparseable line: %v", err)})
			continue
		}
		if entry.Type != EntryTypeMessage {
			warns = append(warns, Warning{Index: i, Reason: fmt.Sprintf("unexpected entry type %q", entry.Type)})
			continue
		}
		blocks, err := unmarshalBlocks(entry.Content)
		if err != nil {
			warns = append(warns, Warning{Index: i, Reason: fmt.Sprintf("bad content blocks: %v", err)})
			continue
		}
		m := entry.Model
		m.Content = blocks
		u.Model = append(u.Model, m)
		u.UI = append(u.UI, entry.UI)
	}
	return u, warns, nil
}

func loadLegacy(data []byte, lines []string) (Unified, []Warning, error) {
	var records []*LegacyRecord

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return Unified{}, nil, fmt.Errorf("history: parse legacy array: %w", err)
		}
	} else {
		for _, line := range lines {
			var r LegacyRecord
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				// Keep the slot so warnings index into the original file.
				records = append(records, nil)
				continue
			}
			records = append(records, &r)
		}
	}

	u, warns := ToUnified(records)
	return u, warns, nil
}

func splitLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Store bridging
// ---------------------------------------------------------------------------

// Snapshot captures a store's current conversation in model order, ready
// for Save.
func Snapshot(s *store.Store) Unified {
	var u Unified
	for _, m := range s.AllModelOrdered() {
		ui := s.UI(m.ID)
		if ui == nil {
			ui = &store.UIMessage{ID: m.ID, Visible: true}
		}
		u.Model = append(u.Model, m)
		u.UI = append(u.UI, *ui)
	}
	return u
}

// Restore loads a conversation into the store, replacing its contents.
func Restore(s *store.Store, u Unified) {
	s.Clear()
	for i, m := range u.Model {
		s.UpsertModel(m)
		if i < len(u.UI) {
			s.UpsertUI(u.UI[i])
		}
	}
}

// RenderTranscript flattens a conversation to plain text, one message per
// paragraph, honoring UI visibility and display overrides.
func RenderTranscript(u Unified) string {
	var b strings.Builder
	for i, m := range u.Model {
		if i < len(u.UI) && !u.UI[i].Visible {
			continue
		}
		text := chat.RenderText(m.Content)
		if i < len(u.UI) && u.UI[i].DisplayOverride != nil {
			text = *u.UI[i].DisplayOverride
		}
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, text)
	}
	return b.String()
}
