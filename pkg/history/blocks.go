// Content block serialisation. chat.ContentBlock is an interface, so
// standard json.Unmarshal cannot restore it without help. rawBlock is the
// flat wire shape used both ways: marshalling fits every concrete type,
// and unmarshalling peeks at "type".
package history

import (
	"encoding/json"

	"github.com/turnstile-dev/turnstile/pkg/chat"
)

type rawBlock struct {
	Type string `json:"type"`

	// TextContent
	Text string `json:"text,omitempty"`

	// ToolInvocation
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	RawPayload string `json:"raw_payload,omitempty"`
	Complete   bool   `json:"complete,omitempty"`

	// ToolResult
	InvocationID string `json:"invocation_id,omitempty"`
	Output       string `json:"output,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
}

func marshalBlocks(blocks []chat.ContentBlock) (json.RawMessage, error) {
	raws := make([]rawBlock, 0, len(blocks))
	for _, b := range blocks {
		switch c := b.(type) {
		case chat.TextContent:
			raws = append(raws, rawBlock{Type: "text", Text: c.Text})
		case chat.ToolInvocation:
			raws = append(raws, rawBlock{
				Type: "tool_invocation", ID: c.ID, Name: c.Name,
				RawPayload: c.RawPayload, Complete: c.Complete,
			})
		case chat.ToolResult:
			raws = append(raws, rawBlock{
				Type: "tool_result", InvocationID: c.InvocationID, Name: c.Name,
				Output: c.Output, IsError: c.IsError,
			})
		}
	}
	return json.Marshal(raws)
}

func unmarshalBlocks(raw json.RawMessage) ([]chat.ContentBlock, error) {
	var raws []rawBlock
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil, err
	}
	blocks := make([]chat.ContentBlock, 0, len(raws))
	for _, r := range raws {
		switch r.Type {
		case "text":
			blocks = append(blocks, chat.TextContent{Type: "text", Text: r.Text})
		case "tool_invocation":
			blocks = append(blocks, chat.ToolInvocation{
				Type: "tool_invocation", ID: r.ID, Name: r.Name,
				RawPayload: r.RawPayload, Complete: r.Complete,
			})
		case "tool_result":
			blocks = append(blocks, chat.ToolResult{
				Type: "tool_result", InvocationID: r.InvocationID, Name: r.Name,
				Output: r.Output, IsError: r.IsError,
			})
		}
	}
	return blocks, nil
}
