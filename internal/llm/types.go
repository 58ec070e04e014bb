package llm

import "encoding/json"

// Block is one piece of a message's content.
type Block struct {
	Type       string          // "text" | "tool_use" | "tool_result"
	Text       string          // Type == "text"
	ToolUseID  string          // Type == "tool_use" | "tool_result"
	ToolName   string          // Type == "tool_use"
	ToolInput  json.RawMessage // Type == "tool_use"
	ToolResult string          // Type == "tool_result"
	ToolError  bool            // Type == "tool_result"
}

// Message is one turn's worth of content, in provider-agnostic form.
type Message struct {
	Role   string // "user" | "assistant"
	Blocks []Block
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is a provider-agnostic chat completion request.
type Request struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []ToolSpec
	ReasoningBudget int
}

// EventType tags the variant of Event.
type EventType string

const (
	EventTextDelta         EventType = "text_delta"
	EventReasoningDelta    EventType = "reasoning_delta"
	EventToolUseStart      EventType = "tool_use_start"
	EventToolUseInputDelta EventType = "tool_use_input_delta"
	EventToolUseEnd        EventType = "tool_use_end"
	EventStopReason        EventType = "stop_reason"
)

// Event is one unit of a streamed completion.
type Event struct {
	Type       EventType
	Text       string // EventTextDelta | EventReasoningDelta
	ToolID     string // EventToolUseStart | EventToolUseInputDelta | EventToolUseEnd
	ToolName   string // EventToolUseStart
	InputDelta string // EventToolUseInputDelta, raw JSON fragment
	StopReason string // EventStopReason: the provider's finish_reason, e.g. "stop" | "tool_calls" | "length"
}
