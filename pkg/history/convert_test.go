package history

import (
	"testing"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/store"
)

func boolPtr(b bool) *bool { return &b }

func TestToUnified_PairBecomesTwoMessages(t *testing.T) {
	records := []*LegacyRecord{
		{Request: "Hi", Response: "Hello", Provider: "openai", Model: "gpt-4", Timestamp: 1000},
	}

	u, warns := ToUnified(records)
	if len(warns) != 0 {
		t.Fatalf("expected no warnings, got %v", warns)
	}
	if len(u.Model) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(u.Model))
	}

	if u.Model[0].Role != chat.RoleUser || chat.RenderText(u.Model[0].Content) != "Hi" {
		t.Fatalf("first message = %s/%q, want user/Hi", u.Model[0].Role, chat.RenderText(u.Model[0].Content))
	}
	if u.Model[1].Role != chat.RoleAssistant || chat.RenderText(u.Model[1].Content) != "Hello" {
		t.Fatalf("second message = %s/%q, want assistant/Hello", u.Model[1].Role, chat.RenderText(u.Model[1].Content))
	}
	if u.Model[0].CreatedAt != 1000 || u.Model[1].CreatedAt != 1000 {
		t.Fatalf("pair messages should share timestamp 1000, got %d and %d",
			u.Model[0].CreatedAt, u.Model[1].CreatedAt)
	}
	for i, m := range u.Model {
		if m.Provider != "openai" || m.ModelName != "gpt-4" {
			t.Fatalf("message %d should inherit provider metadata, got %q/%q", i, m.Provider, m.ModelName)
		}
		if m.ID == "" {
			t.Fatalf("message %d has no id", i)
		}
	}
	if u.Model[0].ID == u.Model[1].ID {
		t.Fatal("pair messages must not share an id")
	}
}

func TestToUnified_OneSidedPairBecomesOneMessage(t *testing.T) {
	records := []*LegacyRecord{
		{Response: "Only answer", Timestamp: 2000},
	}

	u, warns := ToUnified(records)
	if len(warns) != 0 {
		t.Fatalf("expected no warnings, got %v", warns)
	}
	if len(u.Model) != 1 {
		t.Fatalf("expected 1 message, got %d", len(u.Model))
	}
	if u.Model[0].Role != chat.RoleAssistant {
		t.Fatalf("role = %s, want assistant", u.Model[0].Role)
	}
	if got := chat.RenderText(u.Model[0].Content); got != "Only answer" {
		t.Fatalf("content = %q, want %q", got, "Only answer")
	}
}

func TestToUnified_MalformedEntriesSkippedWithWarnings(t *testing.T) {
	records := []*LegacyRecord{
		nil,
		{Role: "user", Content: "no timestamp"},
		{Role: "narrator", Content: "bad role", Timestamp: 10},
		{Role: "user", Content: "kept", Timestamp: 20},
	}

	u, warns := ToUnified(records)
	if len(u.Model) != 1 {
		t.Fatalf("expected 1 migrated message, got %d", len(u.Model))
	}
	if len(warns) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(warns), warns)
	}
	if warns[0].Index != 0 || warns[1].Index != 1 || warns[2].Index != 2 {
		t.Fatalf("warning indices = %v, want 0,1,2", warns)
	}
}

func TestToUnified_VisibilityAndOverrideCarried(t *testing.T) {
	records := []*LegacyRecord{
		{ID: "m1", Role: "assistant", Content: "full", Visible: boolPtr(false),
			DisplayOverride: "short", Timestamp: 5},
	}

	u, _ := ToUnified(records)
	if len(u.UI) != 1 {
		t.Fatalf("expected 1 ui record, got %d", len(u.UI))
	}
	if u.UI[0].Visible {
		t.Fatal("visibility not carried")
	}
	if u.UI[0].DisplayOverride == nil || *u.UI[0].DisplayOverride != "short" {
		t.Fatalf("display override = %v, want short", u.UI[0].DisplayOverride)
	}
	if u.UI[0].ID != "m1" || u.Model[0].ID != "m1" {
		t.Fatal("legacy id not preserved on both records")
	}
}

func TestRoundTrip_PreservesFields(t *testing.T) {
	records := []*LegacyRecord{
		{ID: "a", Role: "user", Content: "question", Provider: "anthropic",
			Model: "claude", Timestamp: 100},
		{ID: "b", Role: "assistant", Content: "answer", Visible: boolPtr(false),
			DisplayOverride: "hidden answer", Timestamp: 200},
		{Request: "ping", Response: "pong", Timestamp: 300},
	}

	u, warns := ToUnified(records)
	if len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
	if err := Validate(u, records); err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	back := ToLegacy(u)
	if len(back) != 4 {
		t.Fatalf("expected 4 flat records back, got %d", len(back))
	}

	if back[0].Role != "user" || back[0].Content != "question" ||
		back[0].Provider != "anthropic" || back[0].Model != "claude" {
		t.Fatalf("record 0 fields lost: %+v", back[0])
	}
	if back[1].Visible == nil || *back[1].Visible {
		t.Fatal("record 1 visibility lost")
	}
	if back[1].DisplayOverride != "hidden answer" {
		t.Fatalf("record 1 override = %q", back[1].DisplayOverride)
	}
	if back[2].Role != "user" || back[2].Content != "ping" {
		t.Fatalf("pair request lost: %+v", back[2])
	}
	if back[3].Role != "assistant" || back[3].Content != "pong" {
		t.Fatalf("pair response lost: %+v", back[3])
	}
}

func TestValidate_CountBoundOnPairs(t *testing.T) {
	records := []*LegacyRecord{
		{Request: "a", Response: "b", Timestamp: 1},
		{Response: "c", Timestamp: 2},
	}
	u, _ := ToUnified(records)
	// 2 pairs should yield between 2 and 4 messages; this input yields 3.
	if len(u.Model) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(u.Model))
	}
	if err := Validate(u, records); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
}

func TestValidate_IgnoresSkippedFlatRecords(t *testing.T) {
	// A skipped flat record (unknown role) must not count against the
	// pair-derived message bound.
	records := []*LegacyRecord{
		{Request: "only request", Timestamp: 100},
		{Role: "system", Content: "skipped", Timestamp: 200},
	}
	u, warns := ToUnified(records)
	if len(u.Model) != 1 {
		t.Fatalf("expected 1 migrated message, got %d", len(u.Model))
	}
	if len(warns) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(warns), warns)
	}
	if err := Validate(u, records); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
}

func TestValidate_RejectsMismatchedIDs(t *testing.T) {
	u := Unified{
		Model: []store.ModelMessage{{ID: "x", CreatedAt: 1}},
		UI:    []store.UIMessage{{ID: "y"}},
	}
	if err := Validate(u, nil); err == nil {
		t.Fatal("expected id mismatch error")
	}
}
