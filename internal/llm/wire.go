package llm

import (
	"encoding/json"
	"strings"
)

// wire types model the OpenAI-compatible chat/completions and embeddings
// endpoints. Unlike the teacher's proxy.ChatRequest, which preserves
// unknown fields for pass-through, these are fully owned by this client —
// every request it sends is one it constructed — so there is no Extra map.

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFuncSpec `json:"function"`
}

type wireFuncSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

type wireChunk struct {
	Choices []wireChoice `json:"choices"`
}

type wireChoice struct {
	Delta        wireDelta `json:"delta"`
	FinishReason string    `json:"finish_reason"`
}

type wireDelta struct {
	Content   string             `json:"content,omitempty"`
	Reasoning string             `json:"reasoning,omitempty"`
	ToolCalls []wireDeltaToolCall `json:"tool_calls,omitempty"`
}

type wireDeltaToolCall struct {
	Index    int                      `json:"index"`
	ID       string                   `json:"id,omitempty"`
	Function wireDeltaToolCallFuncArg `json:"function"`
}

type wireDeltaToolCallFuncArg struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type wireEmbedResponse struct {
	Data []wireEmbedDatum `json:"data"`
}

type wireEmbedDatum struct {
	Embedding []float32 `json:"embedding"`
}

// toWireRequest flattens a provider-agnostic Request into the OpenAI wire
// shape. A tool_use block becomes an assistant tool_calls entry; a
// tool_result block becomes its own "tool" role message, matching how
// OpenAI-compatible APIs expect tool round-trips to be represented.
func toWireRequest(req Request, stream bool) wireRequest {
	wr := wireRequest{Model: req.Model, Stream: stream}

	if req.System != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		var text strings.Builder
		var toolCalls []wireToolCall

		for _, b := range m.Blocks {
			switch b.Type {
			case "text":
				text.WriteString(b.Text)
			case "tool_use":
				toolCalls = append(toolCalls, wireToolCall{
					ID:   b.ToolUseID,
					Type: "function",
					Function: wireToolFunction{
						Name:      b.ToolName,
						Arguments: string(b.ToolInput),
					},
				})
			case "tool_result":
				if text.Len() > 0 || len(toolCalls) > 0 {
					wr.Messages = append(wr.Messages, wireMessage{Role: m.Role, Content: text.String(), ToolCalls: toolCalls})
					text.Reset()
					toolCalls = nil
				}
				wr.Messages = append(wr.Messages, wireMessage{
					Role:       "tool",
					Content:    b.ToolResult,
					ToolCallID: b.ToolUseID,
				})
			}
		}

		if text.Len() > 0 || len(toolCalls) > 0 {
			wr.Messages = append(wr.Messages, wireMessage{Role: m.Role, Content: text.String(), ToolCalls: toolCalls})
		}
	}

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireFuncSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return wr
}
