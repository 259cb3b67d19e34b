// Package turn owns per-turn completion state and guarantees that each
// streaming turn reports exactly one terminal outcome to its caller, no
// matter how many redundant or conflicting completion signals the transport
// and parser emit.
package turn

import (
	"sync"

	"go.uber.org/zap"

	"github.com/turnstile-dev/turnstile/pkg/chat"
)

// Source identifies which code path produced a terminal candidate.
type Source string

const (
	// SourceParser means the text parser closed a tool-invocation tag.
	SourceParser Source = "parser"
	// SourceFinish means the transport reported a finish reason or error.
	SourceFinish Source = "finish"
	// SourceSentinel means the stream closed without an explicit finish frame.
	SourceSentinel Source = "sentinel"
	// SourceCancel means the caller cancelled the turn.
	SourceCancel Source = "cancel"
)

// Candidate is a proposed terminal event for a turn. Partial marks a
// candidate derived from a still-open tool invocation; partials never
// qualify as terminal (the tie-break that prevents duplicate callbacks when
// a finish reason and an unterminated tool race each other).
type Candidate struct {
	Reason  chat.Reason
	Source  Source
	Partial bool
	Err     error
}

// Phase of one turn's completion state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingTerminal
	PhaseTerminalDispatched
)

type turnState struct {
	phase      Phase
	inProgress bool
	reason     chat.Reason
	source     Source
	suppressed int
}

// Tracker holds one completion state per in-flight turn. Turn identifiers
// are caller-supplied and opaque; state persists until Release or Reset.
// All methods are safe for concurrent use across turns.
type Tracker struct {
	mu    sync.Mutex
	turns map[string]*turnState
	log   *zap.Logger
}

// NewTracker creates a Tracker. Pass zap.NewNop() to discard diagnostics.
func NewTracker(log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{turns: make(map[string]*turnState), log: log}
}

// Begin registers a turn identifier in the idle phase. Offering against an
// unregistered id implicitly begins it, but explicit Begin keeps turn
// lifetimes visible at the call site.
func (t *Tracker) Begin(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.turns[id]; !ok {
		t.turns[id] = &turnState{}
	}
}

// Offer routes a candidate terminal event through the dedup state machine.
// The first qualifying candidate for a turn is handed to deliver
// (synchronously, with the completion-in-progress guard set, so re-entrant
// offers from nested callbacks are suppressed) and Offer returns true.
// Every other candidate is dropped: partials never qualify, and anything
// arriving during or after dispatch is counted as a suppressed duplicate.
func (t *Tracker) Offer(id string, c Candidate, deliver func(Candidate)) bool {
	t.mu.Lock()
	st, ok := t.turns[id]
	if !ok {
		st = &turnState{}
		t.turns[id] = st
	}

	if c.Partial {
		// An unterminated invocation is normal mid-stream state, not a
		// terminal signal. Not counted as a duplicate.
		t.mu.Unlock()
		t.log.Debug("turn: ignoring partial terminal candidate",
			zap.String("turn", id), zap.String("source", string(c.Source)))
		return false
	}

	if st.inProgress || st.phase != PhaseIdle {
		st.suppressed++
		n := st.suppressed
		t.mu.Unlock()
		t.log.Debug("turn: suppressed duplicate terminal",
			zap.String("turn", id),
			zap.String("reason", string(c.Reason)),
			zap.String("source", string(c.Source)),
			zap.Int("suppressed_total", n))
		return false
	}

	st.phase = PhaseAwaitingTerminal
	st.inProgress = true
	st.reason = c.Reason
	st.source = c.Source
	t.mu.Unlock()

	// Deliver outside the lock: the caller's handler commonly re-enters the
	// tracker (a late transport frame observed while finalizing), and those
	// offers must hit the in-progress guard rather than deadlock.
	if deliver != nil {
		deliver(c)
	}

	t.mu.Lock()
	st.inProgress = false
	st.phase = PhaseTerminalDispatched
	t.mu.Unlock()
	return true
}

// TerminalReason reports the reason dispatched for a turn, if any.
func (t *Tracker) TerminalReason(id string) (chat.Reason, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.turns[id]
	if !ok || st.phase == PhaseIdle {
		return "", false
	}
	return st.reason, true
}

// Suppressed returns the number of duplicate terminals dropped for a turn.
// Diagnostic only; a dropped duplicate is not an error.
func (t *Tracker) Suppressed(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.turns[id]; ok {
		return st.suppressed
	}
	return 0
}

// Release discards a turn's state once the turn has ended.
func (t *Tracker) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.turns, id)
}

// Reset discards all turn state (whole-session reset).
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = make(map[string]*turnState)
}
