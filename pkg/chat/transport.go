package chat

import "context"

// TransportEventType identifies a frame delivered by a transport.
type TransportEventType string

const (
	// EventChunk carries an incremental text delta.
	EventChunk TransportEventType = "chunk"
	// EventFinish carries the provider's finish reason. Exactly one finish
	// or error event is expected per stream; the orchestrator's dedup state
	// machine absorbs transports that get this wrong.
	EventFinish TransportEventType = "finish"
	// EventError reports a transport-level failure mid-stream.
	EventError TransportEventType = "error"
)

// TransportEvent is one frame from a streaming backend, already normalized:
// raw text deltas arrive as chunks (structured tool-call deltas are
// re-rendered into markup text by the transport), and every dialect's
// completion signal arrives as a single finish or error.
type TransportEvent struct {
	Type   TransportEventType
	Text   string // for chunk
	Finish Reason // for finish: ReasonComplete or ReasonToolUse
	Err    error  // for error
}

// Request is the conversation handed to a transport for one streaming turn.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  *float64
	APIKey       string
}

// Transport streams one model response.
//
// Implementations send zero or more chunk events followed by exactly one
// finish or error event, then close the channel. The channel must be closed
// (without panicking) even when ctx is cancelled, so callers can always
// range over it. Open returns an error only for failures before the stream
// starts; mid-stream failures arrive as error events.
type Transport interface {
	Name() string
	Open(ctx context.Context, req Request) (<-chan TransportEvent, error)
}
