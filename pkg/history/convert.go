// Package history converts between the dual-store representation and the
// legacy flat conversation formats, and persists whole conversations as
// JSONL archives.
//
// Two legacy shapes exist in the wild: a flat per-message record carrying
// both model and UI fields, and an older request/response pair shape. Both
// migrate through ToUnified. The migration is best-effort: malformed entries
// are skipped with a recorded warning, never an abort.
package history

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/store"
)

// LegacyRecord is one entry of a legacy conversation file. A record is
// either flat (Role/Content set) or a request/response pair (Request and/or
// Response set); pair fields win when both appear.
type LegacyRecord struct {
	ID              string `json:"id,omitempty"`
	Role            string `json:"role,omitempty"`
	Content         string `json:"content,omitempty"`
	Visible         *bool  `json:"visible,omitempty"`
	DisplayOverride string `json:"display_override,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`

	// Older pair shape: one record per full exchange.
	Request  string `json:"request,omitempty"`
	Response string `json:"response,omitempty"`
}

// IsPair reports whether the record uses the older request/response shape.
func (r *LegacyRecord) IsPair() bool {
	return r.Request != "" || r.Response != ""
}

// Unified is the dual-store shape of a whole conversation: one model record
// and one UI record per message identity, index-aligned.
type Unified struct {
	Model []store.ModelMessage
	UI    []store.UIMessage
}

// Warning records a skipped or repaired legacy entry.
type Warning struct {
	Index  int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("entry %d: %s", w.Index, w.Reason)
}

// ---------------------------------------------------------------------------
// Legacy → unified
// ---------------------------------------------------------------------------

// ToUnified migrates legacy records to the dual-store representation.
// A pair record becomes up to two messages (user then assistant) sharing the
// pair's timestamp and provider metadata; a one-sided pair becomes exactly
// one message. Nil records and records without a timestamp are skipped with
// a warning.
func ToUnified(records []*LegacyRecord) (Unified, []Warning) {
	var u Unified
	var warns []Warning

	for i, r := range records {
		if r == nil {
			warns = append(warns, Warning{Index: i, Reason: "nil entry"})
			continue
		}
		if r.Timestamp == 0 {
			warns = append(warns, Warning{Index: i, Reason: "missing timestamp"})
			continue
		}

		if r.IsPair() {
			if r.Request != "" {
				appendMessage(&u, r, chat.RoleUser, r.Request, true)
			}
			if r.Response != "" {
				appendMessage(&u, r, chat.RoleAssistant, r.Response, false)
			}
			continue
		}

		role := chat.Role(r.Role)
		if role != chat.RoleUser && role != chat.RoleAssistant {
			warns = append(warns, Warning{Index: i, Reason: fmt.Sprintf("unknown role %q", r.Role)})
			continue
		}
		appendMessage(&u, r, role, r.Content, role == chat.RoleUser)
	}

	return u, warns
}

func appendMessage(u *Unified, r *LegacyRecord, role chat.Role, text string, userSubmission bool) {
	id := r.ID
	if id == "" || (r.IsPair() && role == chat.RoleAssistant) {
		// Pair records carry at most one id; the second message always needs
		// a fresh identity.
		id = uuid.New().String()
	}

	visible := true
	if r.Visible != nil {
		visible = *r.Visible
	}
	var override *string
	if r.DisplayOverride != "" {
		o := r.DisplayOverride
		override = &o
	}

	u.Model = append(u.Model, store.ModelMessage{
		ID:               id,
		Role:             role,
		Content:          []chat.ContentBlock{chat.TextContent{Type: "text", Text: text}},
		Provider:         r.Provider,
		ModelName:        r.Model,
		CreatedAt:        r.Timestamp,
		State:            chat.StateGenerated,
		IsUserSubmission: userSubmission,
	})
	u.UI = append(u.UI, store.UIMessage{
		ID:              id,
		Visible:         visible,
		DisplayOverride: override,
	})
}

// ---------------------------------------------------------------------------
// Unified → legacy
// ---------------------------------------------------------------------------

// ToLegacy flattens the dual-store representation back to flat legacy
// records (pairs are not reconstituted; the flat shape carries every field
// the pair shape did).
func ToLegacy(u Unified) []LegacyRecord {
	out := make([]LegacyRecord, 0, len(u.Model))
	for i, m := range u.Model {
		rec := LegacyRecord{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   chat.RenderText(m.Content),
			Provider:  m.Provider,
			Model:     m.ModelName,
			Timestamp: m.CreatedAt,
		}
		if i < len(u.UI) {
			v := u.UI[i].Visible
			rec.Visible = &v
			if u.UI[i].DisplayOverride != nil {
				rec.DisplayOverride = *u.UI[i].DisplayOverride
			}
		}
		out = append(out, rec)
	}
	return out
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks a migrated conversation against the records it came from:
// every message has an id and timestamp, model and UI records pair 1:1 by
// id, and the message count lies in [pairs, 2·pairs] for the pair-shaped
// portion of the input.
func Validate(u Unified, records []*LegacyRecord) error {
	if len(u.Model) != len(u.UI) {
		return fmt.Errorf("history: %d model records vs %d ui records", len(u.Model), len(u.UI))
	}
	for i, m := range u.Model {
		if m.ID == "" {
			return fmt.Errorf("history: message %d has no id", i)
		}
		if m.CreatedAt == 0 {
			return fmt.Errorf("history: message %d has no timestamp", i)
		}
		if u.UI[i].ID != m.ID {
			return fmt.Errorf("history: message %d: model id %q != ui id %q", i, m.ID, u.UI[i].ID)
		}
	}

	pairs := 0
	flat := 0
	for _, r := range records {
		if r == nil || r.Timestamp == 0 {
			continue
		}
		if r.IsPair() {
			pairs++
			continue
		}
		// Only flat records that migrated to a message count against the
		// pair-derived total; unknown roles were skipped with a warning.
		if role := chat.Role(r.Role); role == chat.RoleUser || role == chat.RoleAssistant {
			flat++
		}
	}
	fromPairs := len(u.Model) - flat
	if pairs > 0 && (fromPairs < pairs || fromPairs > 2*pairs) {
		return fmt.Errorf("history: %d pairs produced %d messages, want between %d and %d",
			pairs, fromPairs, pairs, 2*pairs)
	}
	return nil
}
