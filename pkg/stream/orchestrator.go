// Package stream orchestrates one streaming turn: transport events in,
// message-store upserts and exactly one completion notification out.
//
// Each turn is a sequential, single-writer pipeline. Chunks are appended to
// the turn's accumulated text and the whole text is re-parsed, so segment
// boundaries can move as more input arrives; the assistant message keeps one
// identity for the whole turn and its content is replaced on every pass.
// Multiple turns may run concurrently; the message store is the only shared
// state between them.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turnstile-dev/turnstile/pkg/chat"
	"github.com/turnstile-dev/turnstile/pkg/markup"
	"github.com/turnstile-dev/turnstile/pkg/store"
	"github.com/turnstile-dev/turnstile/pkg/turn"
)

// Callbacks notify the caller during a turn. All fields are optional. They
// are invoked from the turn's goroutine, strictly in order; OnComplete fires
// exactly once per turn.
type Callbacks struct {
	// OnChunk fires after each text delta is applied to the assistant message.
	OnChunk func(messageID, delta string)
	// OnToolCall fires once per tool invocation, when its closing marker
	// arrives.
	OnToolCall func(messageID string, inv chat.ToolInvocation)
	// OnComplete delivers the turn's single terminal event. err is non-nil
	// only when reason is ReasonError.
	OnComplete func(reason chat.Reason, err error)
}

// Orchestrator runs streaming turns against a shared message store.
type Orchestrator struct {
	store   *store.Store
	tracker *turn.Tracker
	log     *zap.Logger
}

func New(st *store.Store, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		store:   st,
		tracker: turn.NewTracker(log),
		log:     log,
	}
}

// Store exposes the orchestrator's message store for rendering and
// persistence collaborators.
func (o *Orchestrator) Store() *store.Store { return o.store }

// ---------------------------------------------------------------------------
// Caller-facing mutations
// ---------------------------------------------------------------------------

// AddUserMessage records a user submission and returns its message id.
func (o *Orchestrator) AddUserMessage(text string) string {
	id := uuid.New().String()
	o.store.UpsertModel(store.ModelMessage{
		ID:               id,
		Role:             chat.RoleUser,
		Content:          []chat.ContentBlock{chat.TextContent{Type: "text", Text: text}},
		CreatedAt:        time.Now().UnixMilli(),
		State:            chat.StateGenerated,
		IsUserSubmission: true,
	})
	o.store.UpsertUI(store.UIMessage{ID: id, Visible: true})
	return id
}

// AddToolResult records a tool's output as a synthetic user-role message so
// the next turn's request carries it back to the provider.
func (o *Orchestrator) AddToolResult(invocationID, name, output string, isError bool) string {
	id := uuid.New().String()
	o.store.UpsertModel(store.ModelMessage{
		ID:   id,
		Role: chat.RoleUser,
		Content: []chat.ContentBlock{chat.ToolResult{
			Type:         "tool_result",
			InvocationID: invocationID,
			Name:         name,
			Output:       output,
			IsError:      isError,
		}},
		CreatedAt:   time.Now().UnixMilli(),
		State:       chat.StateGenerated,
		IsSynthetic: true,
	})
	o.store.UpsertUI(store.UIMessage{ID: id, Visible: true, IsSynthetic: true})
	return id
}

// Conversation returns the stored messages in model order, in the shape a
// transport request carries.
func (o *Orchestrator) Conversation() []chat.Message {
	ordered := o.store.AllModelOrdered()
	out := make([]chat.Message, 0, len(ordered))
	for _, m := range ordered {
		out = append(out, chat.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// ---------------------------------------------------------------------------
// Turns
// ---------------------------------------------------------------------------

// Turn is one in-flight streaming exchange.
type Turn struct {
	ID        string
	MessageID string

	cancel context.CancelFunc
	done   chan struct{}

	// set by the terminal candidate before done closes
	reason chat.Reason
	err    error
}

// Cancel injects a cancellation terminal candidate. Safe to call more than
// once and after the turn has finished.
func (t *Turn) Cancel() { t.cancel() }

// Wait blocks until the turn's stream is fully drained and returns the
// terminal error, if any.
func (t *Turn) Wait() error {
	<-t.done
	return t.err
}

// Reason reports the turn's terminal reason. Valid after Wait returns.
func (t *Turn) Reason() chat.Reason {
	<-t.done
	return t.reason
}

// StartTurn opens the transport and begins streaming into a new assistant
// message. An error is returned only when the stream could not be opened;
// after that, every outcome arrives through cb.OnComplete exactly once.
func (o *Orchestrator) StartTurn(ctx context.Context, tr chat.Transport, req chat.Request, cb Callbacks) (*Turn, error) {
	turnID := uuid.New().String()
	msgID := uuid.New().String()

	ctx, cancel := context.WithCancel(ctx)
	o.tracker.Begin(turnID)

	events, err := tr.Open(ctx, req)
	if err != nil {
		o.tracker.Release(turnID)
		cancel()
		return nil, fmt.Errorf("stream: open %s: %w", tr.Name(), err)
	}

	createdAt := time.Now().UnixMilli()
	o.store.UpsertModel(store.ModelMessage{
		ID:        msgID,
		Role:      chat.RoleAssistant,
		Provider:  tr.Name(),
		ModelName: req.Model,
		CreatedAt: createdAt,
		State:     chat.StateGenerating,
	})
	o.store.UpsertUI(store.UIMessage{ID: msgID, Visible: true})

	t := &Turn{
		ID:        turnID,
		MessageID: msgID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	o.log.Debug("turn started",
		zap.String("turn", turnID),
		zap.String("transport", tr.Name()),
		zap.String("model", req.Model))

	go o.run(ctx, t, events, createdAt, cb)
	return t, nil
}

func (o *Orchestrator) run(ctx context.Context, t *Turn, events <-chan chat.TransportEvent, createdAt int64, cb Callbacks) {
	defer close(t.done)
	defer t.cancel()

	var acc string
	var pstate markup.State
	toolsNotified := 0

	// finalize runs for the single approved terminal candidate, with the
	// tracker lock released. Re-entrant offers from inside the callback are
	// suppressed by the tracker's in-progress guard.
	finalize := func(c turn.Candidate) {
		if m := o.store.Model(t.MessageID); m != nil {
			m.State = chat.StateGenerated
			o.store.UpsertModel(*m)
		}
		if ui := o.store.UI(t.MessageID); ui != nil {
			ui.IsCalling = false
			o.store.UpsertUI(*ui)
		}
		t.reason = c.Reason
		t.err = c.Err
		if cb.OnComplete != nil {
			cb.OnComplete(c.Reason, c.Err)
		}
	}

	applyChunk := func(delta string) {
		acc += delta
		segs := markup.Parse(acc, &pstate)
		blocks := blocksFromSegments(segs, t.MessageID)

		if m := o.store.Model(t.MessageID); m != nil {
			m.Content = blocks
			o.store.UpsertModel(*m)
		}
		if ui := o.store.UI(t.MessageID); ui != nil {
			ui.IsCalling = pstate.PartialToolCount > 0
			o.store.UpsertUI(*ui)
		}
		if cb.OnChunk != nil {
			cb.OnChunk(t.MessageID, delta)
		}

		if cb.OnToolCall != nil {
			complete := completeInvocations(blocks)
			for ; toolsNotified < len(complete); toolsNotified++ {
				cb.OnToolCall(t.MessageID, complete[toolsNotified])
			}
		}

		if pstate.CompletionObserved {
			o.tracker.Offer(t.ID, turn.Candidate{Reason: chat.ReasonToolUse, Source: turn.SourceParser}, finalize)
		} else if pstate.PartialToolCount > 0 {
			// Still inside an open invocation: a partial candidate records
			// the race but can never win.
			o.tracker.Offer(t.ID, turn.Candidate{Reason: chat.ReasonToolUse, Source: turn.SourceParser, Partial: true}, finalize)
		}
	}

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			o.tracker.Offer(t.ID, turn.Candidate{
				Reason: chat.ReasonError,
				Source: turn.SourceCancel,
				Err:    ctx.Err(),
			}, finalize)
			// Keep draining so the transport goroutine can close the channel.

		case ev, ok := <-events:
			if !ok {
				o.finish(t, &pstate, finalize)
				return
			}
			switch ev.Type {
			case chat.EventChunk:
				applyChunk(ev.Text)
			case chat.EventFinish:
				o.tracker.Offer(t.ID, turn.Candidate{Reason: ev.Finish, Source: turn.SourceFinish}, finalize)
			case chat.EventError:
				o.tracker.Offer(t.ID, turn.Candidate{
					Reason: chat.ReasonError,
					Source: turn.SourceFinish,
					Err:    ev.Err,
				}, finalize)
			}
		}
	}
}

// finish closes out a drained turn. A stream that closed without any
// terminal frame still produces exactly one completion through the sentinel
// candidate; streams that already terminated just release their state.
func (o *Orchestrator) finish(t *Turn, pstate *markup.State, finalize func(turn.Candidate)) {
	if _, dispatched := o.tracker.TerminalReason(t.ID); !dispatched {
		o.tracker.Offer(t.ID, turn.Candidate{Reason: chat.ReasonComplete, Source: turn.SourceSentinel}, finalize)
	}

	o.log.Debug("turn finished",
		zap.String("turn", t.ID),
		zap.String("reason", string(t.reason)),
		zap.Int("suppressed", o.tracker.Suppressed(t.ID)))

	pstate.Reset()
	o.tracker.Release(t.ID)
}

// ---------------------------------------------------------------------------
// Segment conversion
// ---------------------------------------------------------------------------

// blocksFromSegments converts parsed segments into content blocks.
// Invocation ids are deterministic per position so a re-parse keeps every
// invocation's identity stable across passes.
func blocksFromSegments(segs []markup.Segment, msgID string) []chat.ContentBlock {
	blocks := make([]chat.ContentBlock, 0, len(segs))
	tool := 0
	for _, s := range segs {
		switch s.Kind {
		case markup.KindText:
			blocks = append(blocks, chat.TextContent{Type: "text", Text: s.Text})
		case markup.KindToolInvocation:
			blocks = append(blocks, chat.ToolInvocation{
				Type:       "tool_invocation",
				ID:         fmt.Sprintf("%s-tool-%d", msgID[:8], tool),
				Name:       s.ToolName,
				RawPayload: s.RawPayload,
				Complete:   s.Complete,
			})
			tool++
		}
	}
	return blocks
}

func completeInvocations(blocks []chat.ContentBlock) []chat.ToolInvocation {
	var out []chat.ToolInvocation
	for _, b := range blocks {
		if inv, ok := b.(chat.ToolInvocation); ok && inv.Complete {
			out = append(out, inv)
		}
	}
	return out
}
