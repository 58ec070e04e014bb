package orchestrator

// EventType tags the variant of Event delivered over a turn's event stream.
type EventType string

const (
	EventText          EventType = "text"
	EventReasoning     EventType = "reasoning"
	EventToolUse       EventType = "tool_use"
	EventToolExecuting EventType = "tool_executing"
	EventToolResult    EventType = "tool_result"
	EventWarning       EventType = "warning"
	EventQuotaUpdate   EventType = "quota_update"
	EventCitations     EventType = "citations"
	EventError         EventType = "error"
	EventDone          EventType = "done"
)

// Event is one unit pushed to a turn's caller. Only the fields relevant to
// Type are populated.
type Event struct {
	Type EventType

	// EventText | EventReasoning
	Text string

	// EventToolUse | EventToolExecuting | EventToolResult
	ToolID   string
	ToolName string
	ToolArgs string // EventToolUse: the tool call's complete raw JSON arguments

	// EventToolResult
	ToolResult  string
	ToolIsError bool

	// EventWarning | EventError
	Message string

	// EventError: classifies the failure for the transport layer's close
	// code mapping ("rate_limited" | "transient" | "timeout" | "persistence" |
	// "quota" | "fatal").
	ErrorKind string

	// EventQuotaUpdate
	Quota any

	// EventCitations: the agent's configured patterns matched against this
	// round's assistant text, deduplicated, in first-seen order.
	Citations []string
}
