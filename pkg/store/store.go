// Package store holds the dual-representation message store: one
// model-facing record and one rendering-facing record per message identity.
// The two collections are independently indexable; the only sanctioned
// coupling is cache invalidation when the model side changes.
package store

import (
	"sort"
	"sync"

	"github.com/turnstile-dev/turnstile/pkg/chat"
)

// ModelMessage is the model-facing record: what gets assembled into the
// conversation sent back to a provider. Only the streaming orchestrator and
// history loading write these; the rendering layer never mutates them.
type ModelMessage struct {
	ID               string              `json:"id"`
	Role             chat.Role           `json:"role"`
	Content          []chat.ContentBlock `json:"-"`
	Provider         string              `json:"provider,omitempty"`
	ModelName        string              `json:"model_name,omitempty"`
	CreatedAt        int64               `json:"created_at"` // unix ms
	State            chat.LifecycleState `json:"state,omitempty"`
	IsUserSubmission bool                `json:"is_user_submission,omitempty"`
	IsSynthetic      bool                `json:"is_synthetic,omitempty"`
}

// CachedRender is a pre-computed rendering plus the model timestamp it was
// computed against. It is stale once the model message moves past it.
type CachedRender struct {
	Output    string `json:"output"`
	Timestamp int64  `json:"timestamp"`
}

// UIMessage is the rendering-facing record sharing the model message's id.
type UIMessage struct {
	ID              string        `json:"id"`
	Visible         bool          `json:"visible"`
	DisplayOverride *string       `json:"display_override,omitempty"`
	IsCalling       bool          `json:"is_calling,omitempty"`
	CachedRender    *CachedRender `json:"cached_render,omitempty"`
	IsSynthetic     bool          `json:"is_synthetic,omitempty"`
}

// Store keeps both collections under one lock: writes are serialized,
// reads take consistent snapshots so enumeration is never torn by a
// concurrent insert.
type Store struct {
	mu    sync.RWMutex
	model map[string]*ModelMessage
	ui    map[string]*UIMessage
	// order records first-insertion order per id, for timestamp tie-breaks
	// and orphan UI enumeration.
	order []string
	seen  map[string]bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		model: make(map[string]*ModelMessage),
		ui:    make(map[string]*UIMessage),
		seen:  make(map[string]bool),
	}
}

// ---------------------------------------------------------------------------
// Upserts
// ---------------------------------------------------------------------------

// UpsertModel inserts or replaces a model message. When the content or
// timestamp of an existing message changes, the paired UI message's cached
// render is invalidated. That is the one cross-store side effect.
func (s *Store) UpsertModel(msg ModelMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.model[msg.ID]
	changed := !existed || prev.CreatedAt != msg.CreatedAt || !contentEqual(prev.Content, msg.Content)

	cp := msg
	cp.Content = cloneBlocks(msg.Content)
	s.model[msg.ID] = &cp
	s.recordOrder(msg.ID)

	if changed {
		if ui, ok := s.ui[msg.ID]; ok {
			ui.CachedRender = nil
		}
	}
}

// UpsertUI inserts or replaces a UI message. Never touches the model store.
func (s *Store) UpsertUI(msg UIMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := msg
	s.ui[msg.ID] = &cp
	s.recordOrder(msg.ID)
}

func (s *Store) recordOrder(id string) {
	if !s.seen[id] {
		s.seen[id] = true
		s.order = append(s.order, id)
	}
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// Model returns the model message for id, or nil if absent. Absence is an
// expected, checked condition, not an error.
func (s *Store) Model(id string) *ModelMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.model[id]; ok {
		cp := *m
		cp.Content = cloneBlocks(m.Content)
		return &cp
	}
	return nil
}

// UI returns the UI message for id, or nil if absent.
func (s *Store) UI(id string) *UIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.ui[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

// AllModelOrdered returns every model message sorted by CreatedAt ascending,
// ties broken by insertion order. This is the conversation shape handed to
// transports and persistence.
func (s *Store) AllModelOrdered() []ModelMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedModelLocked()
}

func (s *Store) orderedModelLocked() []ModelMessage {
	type entry struct {
		msg ModelMessage
		pos int
	}
	entries := make([]entry, 0, len(s.model))
	for pos, id := range s.order {
		if m, ok := s.model[id]; ok {
			cp := *m
			cp.Content = cloneBlocks(m.Content)
			entries = append(entries, entry{msg: cp, pos: pos})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].msg.CreatedAt != entries[j].msg.CreatedAt {
			return entries[i].msg.CreatedAt < entries[j].msg.CreatedAt
		}
		return entries[i].pos < entries[j].pos
	})
	out := make([]ModelMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

// VisibleUI returns visible UI messages in the same order as their paired
// model messages. UI records with no model pair (not a valid history, but
// tolerated) follow in insertion order.
func (s *Store) VisibleUI() []UIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []UIMessage
	for _, m := range s.orderedModelLocked() {
		if u, ok := s.ui[m.ID]; ok && u.Visible {
			out = append(out, *u)
		}
	}
	for _, id := range s.order {
		if _, paired := s.model[id]; paired {
			continue
		}
		if u, ok := s.ui[id]; ok && u.Visible {
			out = append(out, *u)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Render cache
// ---------------------------------------------------------------------------

// CachedRender returns the cached rendering for id only if it was computed
// against a model timestamp at least as new as currentModelTimestamp.
// Otherwise nil: the consumer recomputes and calls UpdateCache.
func (s *Store) CachedRender(id string, currentModelTimestamp int64) *CachedRender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.ui[id]
	if !ok || u.CachedRender == nil {
		return nil
	}
	if u.CachedRender.Timestamp < currentModelTimestamp {
		return nil
	}
	cp := *u.CachedRender
	return &cp
}

// UpdateCache stores a freshly computed rendering for id. No-op when the UI
// message does not exist.
func (s *Store) UpdateCache(id, output string, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.ui[id]; ok {
		u.CachedRender = &CachedRender{Output: output, Timestamp: timestamp}
	}
}

// ---------------------------------------------------------------------------
// Reset
// ---------------------------------------------------------------------------

// Clear empties both collections atomically from the caller's point of view.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = make(map[string]*ModelMessage)
	s.ui = make(map[string]*UIMessage)
	s.order = nil
	s.seen = make(map[string]bool)
}

// Len reports how many distinct message identities the store has seen.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func cloneBlocks(blocks []chat.ContentBlock) []chat.ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]chat.ContentBlock, len(blocks))
	copy(out, blocks)
	return out
}

// contentEqual compares block sequences structurally. All block types are
// flat value structs, so direct comparison is exact.
func contentEqual(a, b []chat.ContentBlock) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
