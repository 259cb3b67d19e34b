// Package chat defines the canonical conversation model: roles, tagged
// content blocks, terminal reasons, and the transport boundary every
// provider dialect is normalized onto.
package chat

import "strings"

// ---------------------------------------------------------------------------
// Roles and lifecycle
// ---------------------------------------------------------------------------

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// LifecycleState tracks whether a message is still being streamed.
type LifecycleState string

const (
	StateGenerating LifecycleState = "generating"
	StateGenerated  LifecycleState = "generated"
)

// Reason is the unified terminal reason for a streaming turn. Every provider
// dialect's "did we finish" signal (finish-reason strings, sentinel frames,
// text-embedded closing tags) maps onto one of these.
type Reason string

const (
	ReasonToolUse  Reason = "tool_use"
	ReasonComplete Reason = "complete"
	ReasonError    Reason = "error"
)

// ---------------------------------------------------------------------------
// Content blocks
// ---------------------------------------------------------------------------

type TextContent struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

// ToolInvocation is a tool call embedded in streamed output. RawPayload is
// opaque to this layer; Complete is false while the closing marker has not
// arrived yet.
type ToolInvocation struct {
	Type       string `json:"type"` // "tool_invocation"
	ID         string `json:"id"`
	Name       string `json:"name"`
	RawPayload string `json:"raw_payload"`
	Complete   bool   `json:"complete"`
}

// ToolResult carries a tool's output back into the conversation.
type ToolResult struct {
	Type         string `json:"type"` // "tool_result"
	InvocationID string `json:"invocation_id"`
	Name         string `json:"name"`
	Output       string `json:"output"`
	IsError      bool   `json:"is_error"`
}

// ContentBlock is the tagged union over TextContent, ToolInvocation, and
// ToolResult, so dispatch on message content is exhaustive.
type ContentBlock interface {
	contentBlock()
}

func (TextContent) contentBlock()    {}
func (ToolInvocation) contentBlock() {}
func (ToolResult) contentBlock()     {}

// ---------------------------------------------------------------------------
// Messages (transport-facing shape)
// ---------------------------------------------------------------------------

// Message is the minimal shape a transport needs to rebuild an outbound
// conversation. The message store pairs this with identity and metadata.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// Markup delimiters for text-embedded tool invocations. The payload region
// between them is uninterpreted here; pkg/toolspec decodes it.
const (
	StartMarker = "<tool>"
	EndMarker   = "</tool>"
)

// RenderText flattens content blocks to the textual form sent to providers.
// Tool invocations are re-rendered as markup; tool results as bracketed text.
func RenderText(blocks []ContentBlock) string {
	var b strings.Builder
	for _, c := range blocks {
		switch blk := c.(type) {
		case TextContent:
			b.WriteString(blk.Text)
		case ToolInvocation:
			b.WriteString(StartMarker)
			b.WriteString(blk.Name)
			b.WriteString("(")
			b.WriteString(blk.RawPayload)
			if blk.Complete {
				b.WriteString(")")
				b.WriteString(EndMarker)
			}
		case ToolResult:
			b.WriteString("[tool result: ")
			b.WriteString(blk.Name)
			b.WriteString("]\n")
			b.WriteString(blk.Output)
		}
	}
	return b.String()
}

// PlainText concatenates only the text blocks. Used for display overrides
// and cache rendering.
func PlainText(blocks []ContentBlock) string {
	var b strings.Builder
	for _, c := range blocks {
		if t, ok := c.(TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
