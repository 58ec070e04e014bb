package api

import (
	"encoding/json"

	"github.com/openregs/regassist/internal/orchestrator"
)

// wsInbound is the duplex channel's single inbound frame shape: one user
// turn, or an explicit cancellation of whichever turn is in flight.
type wsInbound struct {
	Type    string `json:"type,omitempty"` // "message" (default) | "cancel"
	Message string `json:"message"`
}

// wsOutbound mirrors orchestrator.Event onto the wire. Event's own Type
// values are already the event names named in spec.md §4.1, so Type
// passes straight through unconverted.
type wsOutbound struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ToolID     string          `json:"tool_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`
	ToolError  bool            `json:"tool_error,omitempty"`

	Message   string `json:"message,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	Quota     any      `json:"quota,omitempty"`
	Citations []string `json:"citations,omitempty"`
}

func toWireEvent(e orchestrator.Event) wsOutbound {
	out := wsOutbound{
		Type:       string(e.Type),
		Text:       e.Text,
		ToolID:     e.ToolID,
		ToolName:   e.ToolName,
		ToolResult: e.ToolResult,
		ToolError:  e.ToolIsError,
		Message:    e.Message,
		ErrorKind:  e.ErrorKind,
		Quota:      e.Quota,
		Citations:  e.Citations,
	}
	if e.ToolArgs != "" {
		out.ToolArgs = json.RawMessage(e.ToolArgs)
	}
	return out
}

// closeCodeFor maps an orchestrator error classification to one of the
// close codes spec.md §6 enumerates. Classifications it doesn't name fall
// back to 1011 (internal error).
func closeCodeFor(errorKind string) int {
	if errorKind == "quota" {
		return 4003
	}
	return 1011
}
