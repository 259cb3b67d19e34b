package turn_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/turn"
)

func newTracker() *turn.Tracker {
	return turn.NewTracker(zap.NewNop())
}

func TestOffer_FirstCandidateWins(t *testing.T) {
	tr := newTracker()
	tr.Begin("t1")

	var delivered []chat.Reason
	deliver := func(c turn.Candidate) { delivered = append(delivered, c.Reason) }

	if !tr.Offer("t1", turn.Candidate{Reason: chat.ReasonToolUse, Source: turn.SourceParser}, deliver) {
		t.Fatal("first candidate should be forwarded")
	}
	if tr.Offer("t1", turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceFinish}, deliver) {
		t.Fatal("second candidate should be suppressed")
	}

	if len(delivered) != 1 || delivered[0] != chat.ReasonToolUse {
		t.Errorf("delivered = %v, want [tool_use]", delivered)
	}
	if got := tr.Suppressed("t1"); got != 1 {
		t.Errorf("suppressed = %d, want 1", got)
	}
	if reason, ok := tr.TerminalReason("t1"); !ok || reason != chat.ReasonToolUse {
		t.Errorf("terminal reason = %q/%v", reason, ok)
	}
}

func TestOffer_PartialNeverQualifies(t *testing.T) {
	tr := newTracker()
	tr.Begin("t1")

	called := false
	partial := turn.Candidate{Reason: chat.ReasonToolUse, Source: turn.SourceParser, Partial: true}
	if tr.Offer("t1", partial, func(turn.Candidate) { called = true }) {
		t.Fatal("partial candidate must not be forwarded")
	}
	if called {
		t.Fatal("deliver must not run for a partial candidate")
	}
	if got := tr.Suppressed("t1"); got != 0 {
		t.Errorf("a dropped partial is not a suppressed duplicate; got %d", got)
	}

	// The turn is still idle: a real candidate is still accepted.
	if !tr.Offer("t1", turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceFinish}, nil) {
		t.Fatal("turn should still accept a non-partial candidate")
	}
}

func TestOffer_ReentrantOfferDuringDeliverSuppressed(t *testing.T) {
	tr := newTracker()
	tr.Begin("t1")

	var nested bool
	forwarded := tr.Offer("t1",
		turn.Candidate{Reason: chat.ReasonToolUse, Source: turn.SourceParser},
		func(turn.Candidate) {
			// A late transport frame arriving while the caller handles the
			// terminal event. Must be suppressed, not deadlock or double-fire.
			nested = tr.Offer("t1",
				turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceFinish}, nil)
		})

	if !forwarded {
		t.Fatal("outer candidate should be forwarded")
	}
	if nested {
		t.Fatal("nested candidate should be suppressed")
	}
	if got := tr.Suppressed("t1"); got != 1 {
		t.Errorf("suppressed = %d, want 1", got)
	}
}

func TestOffer_DispatchedTurnDropsEverything(t *testing.T) {
	tr := newTracker()
	tr.Begin("t1")
	tr.Offer("t1", turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceFinish}, nil)

	for i := 0; i < 3; i++ {
		if tr.Offer("t1", turn.Candidate{Reason: chat.ReasonError, Source: turn.SourceFinish, Err: errors.New("late")}, nil) {
			t.Fatal("candidate after dispatch should be dropped")
		}
	}
	if got := tr.Suppressed("t1"); got != 3 {
		t.Errorf("suppressed = %d, want 3", got)
	}
}

func TestOffer_AtMostOneForwardedPerTurn(t *testing.T) {
	// Property P-style sweep: any sequence of candidates forwards exactly one
	// event when at least one non-partial candidate is offered, else zero.
	sequences := [][]turn.Candidate{
		{},
		{{Reason: chat.ReasonToolUse, Source: turn.SourceParser, Partial: true}},
		{
			{Reason: chat.ReasonToolUse, Source: turn.SourceParser, Partial: true},
			{Reason: chat.ReasonToolUse, Source: turn.SourceParser},
			{Reason: chat.ReasonComplete, Source: turn.SourceFinish},
			{Reason: chat.ReasonComplete, Source: turn.SourceSentinel},
		},
		{
			{Reason: chat.ReasonError, Source: turn.SourceCancel},
			{Reason: chat.ReasonComplete, Source: turn.SourceFinish},
		},
		{
			{Reason: chat.ReasonComplete, Source: turn.SourceFinish},
			{Reason: chat.ReasonComplete, Source: turn.SourceFinish},
			{Reason: chat.ReasonComplete, Source: turn.SourceFinish},
		},
	}

	for i, seq := range sequences {
		tr := newTracker()
		tr.Begin("t")
		count := 0
		hasValid := false
		for _, c := range seq {
			if !c.Partial {
				hasValid = true
			}
			tr.Offer("t", c, func(turn.Candidate) { count++ })
		}
		want := 0
		if hasValid {
			want = 1
		}
		if count != want {
			t.Errorf("sequence %d: forwarded %d, want %d", i, count, want)
		}
	}
}

func TestTurns_AreIndependent(t *testing.T) {
	tr := newTracker()
	tr.Begin("a")
	tr.Begin("b")

	if !tr.Offer("a", turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceFinish}, nil) {
		t.Fatal("turn a should accept")
	}
	if !tr.Offer("b", turn.Candidate{Reason: chat.ReasonToolUse, Source: turn.SourceParser}, nil) {
		t.Fatal("turn b should accept despite a being dispatched")
	}
}

func TestRelease_ForgetsTurnState(t *testing.T) {
	tr := newTracker()
	tr.Begin("t1")
	tr.Offer("t1", turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceFinish}, nil)
	tr.Release("t1")

	if _, ok := tr.TerminalReason("t1"); ok {
		t.Error("released turn should have no terminal reason")
	}
	// A released id behaves as a fresh turn (new turn reusing an identifier).
	if !tr.Offer("t1", turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceFinish}, nil) {
		t.Error("released id should accept a new terminal")
	}
}

func TestReset_ClearsAllTurns(t *testing.T) {
	tr := newTracker()
	tr.Begin("a")
	tr.Begin("b")
	tr.Offer("a", turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceFinish}, nil)
	tr.Reset()

	if _, ok := tr.TerminalReason("a"); ok {
		t.Error("reset should clear dispatched state")
	}
	if got := tr.Suppressed("a"); got != 0 {
		t.Errorf("suppressed after reset = %d, want 0", got)
	}
}
