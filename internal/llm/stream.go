package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// StreamHandle yields Events parsed from an SSE chat completion stream.
// Call Next repeatedly until it returns (Event{}, false, nil) after an
// EventStopReason, or a non-nil error. Close must be called in all cases.
type StreamHandle struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	// pending holds events already decoded from the last SSE chunk but not
	// yet returned, since one chunk's delta can carry both a tool-call-start
	// and an input-delta.
	pending []Event

	// toolIndex maps the wire delta's tool_calls[].index to the tool_use_id
	// assigned at ToolUseStart, since later chunks only carry the index.
	toolIndex map[int]string
}

// Close releases the underlying connection.
func (h *StreamHandle) Close() error { return h.body.Close() }

// Next returns the next Event. ok is false once the stream is exhausted
// after a StopReason event (or immediately on EOF with no prior events).
func (h *StreamHandle) Next() (Event, bool, error) {
	for {
		if len(h.pending) > 0 {
			ev := h.pending[0]
			h.pending = h.pending[1:]
			return ev, true, nil
		}

		if !h.scanner.Scan() {
			if err := h.scanner.Err(); err != nil {
				return Event{}, false, transient(err)
			}
			return Event{}, false, nil
		}

		line := strings.TrimSpace(h.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return Event{}, false, nil
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return Event{}, false, fatal(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		h.pending = append(h.pending, decodeDelta(choice.Delta, h.toolIndex)...)
		if choice.FinishReason != "" {
			if choice.FinishReason == "tool_calls" {
				for _, id := range h.toolIndex {
					h.pending = append(h.pending, Event{Type: EventToolUseEnd, ToolID: id})
				}
			}
			h.pending = append(h.pending, Event{Type: EventStopReason, StopReason: choice.FinishReason})
		}
	}
}

func decodeDelta(d wireDelta, toolIndex map[int]string) []Event {
	var events []Event

	if d.Content != "" {
		events = append(events, Event{Type: EventTextDelta, Text: d.Content})
	}
	if d.Reasoning != "" {
		events = append(events, Event{Type: EventReasoningDelta, Text: d.Reasoning})
	}

	for _, tc := range d.ToolCalls {
		id, started := toolIndex[tc.Index]
		if !started && tc.ID != "" {
			id = tc.ID
			toolIndex[tc.Index] = id
			events = append(events, Event{Type: EventToolUseStart, ToolID: id, ToolName: tc.Function.Name})
		}
		if tc.Function.Arguments != "" {
			events = append(events, Event{Type: EventToolUseInputDelta, ToolID: id, InputDelta: tc.Function.Arguments})
		}
	}

	return events
}
