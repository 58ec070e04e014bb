// Package tools implements the fixed catalog of retrieval tools the
// orchestrator exposes to the model. Each tool is a pure function over
// (model-supplied arguments, orchestrator-injected context) producing a
// bounded, model-facing result string.
package tools

import (
	"context"
	"encoding/json"

	"github.com/openregs/regassist/internal/llm"
)

// Injected carries the contextual values a tool declares it wants. The
// model never supplies these; the orchestrator resolves them from the
// turn's agent binding, authenticated fingerprint, and conversation id.
type Injected struct {
	IndexName      string
	Fingerprint    string
	ConversationID string
}

// Tool is one entry in the retrieval catalog.
type Tool interface {
	Name() string
	Definition() llm.ToolSpec
	WantsIndex() bool
	WantsFingerprint() bool
	WantsConversation() bool
	Execute(ctx context.Context, args json.RawMessage, injected Injected) (string, error)
}

// schemaProperty describes one parameter in a tool's input schema.
type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// inputSchema builds a tool's JSON-schema parameter definition.
func inputSchema(properties map[string]schemaProperty, required ...string) json.RawMessage {
	if properties == nil {
		properties = map[string]schemaProperty{}
	}
	schema := struct {
		Type       string                    `json:"type"`
		Properties map[string]schemaProperty `json:"properties"`
		Required   []string                  `json:"required,omitempty"`
	}{Type: "object", Properties: properties, Required: required}
	b, _ := json.Marshal(schema)
	return b
}
