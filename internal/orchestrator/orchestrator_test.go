package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openregs/regassist/internal/agent"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/storage"
	"github.com/openregs/regassist/internal/tools"
)

// sseResponse is one scripted /chat/completions streaming reply: a list of
// already-encoded SSE "data: ..." payloads, terminated by [DONE].
type sseResponse []string

func textChunk(text, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"delta":         map[string]any{"content": text},
			"finish_reason": finish,
		}},
	})
	return string(b)
}

func toolCallChunk(index int, id, name, argsDelta string) string {
	tc := map[string]any{"index": index}
	if id != "" {
		tc["id"] = id
	}
	fn := map[string]any{}
	if name != "" {
		fn["name"] = name
	}
	if argsDelta != "" {
		fn["arguments"] = argsDelta
	}
	tc["function"] = fn
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"delta":         map[string]any{"tool_calls": []map[string]any{tc}},
			"finish_reason": "",
		}},
	})
	return string(b)
}

func stopChunk(reason string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]any{}, "finish_reason": reason}},
	})
	return string(b)
}

// scriptedLLM serves one sseResponse per call to /chat/completions, in
// order; calling past the end of the script repeats the last response.
func scriptedLLM(t *testing.T, script ...sseResponse) *llm.Client {
	t.Helper()
	var call atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(call.Add(1)) - 1
		if i >= len(script) {
			i = len(script) - 1
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, line := range script[i] {
			fmt.Fprintf(w, "data: %s\n\n", line)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return llm.New("test-key", srv.URL)
}

// slowLLM blocks on the handler until release is closed, then serves resp.
func slowLLM(t *testing.T, release <-chan struct{}, resp sseResponse) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range resp {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return llm.New("test-key", srv.URL)
}

type stubTool struct {
	name              string
	result            string
	wantsIndex        bool
	wantsFingerprint  bool
	wantsConversation bool
	calls             []tools.Injected
}

func (s *stubTool) Name() string { return s.name }
func (s *stubTool) Definition() llm.ToolSpec {
	return llm.ToolSpec{Name: s.name, Description: "stub", InputSchema: json.RawMessage(`{"type":"object"}`)}
}
func (s *stubTool) WantsIndex() bool        { return s.wantsIndex }
func (s *stubTool) WantsFingerprint() bool  { return s.wantsFingerprint }
func (s *stubTool) WantsConversation() bool { return s.wantsConversation }
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage, injected tools.Injected) (string, error) {
	s.calls = append(s.calls, injected)
	return s.result, nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testAgent(tl ...tools.Tool) *agent.Agent {
	return &agent.Agent{Name: "test", SystemPrompt: "be helpful", SearchIndex: "test-index", Tools: tl}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestHandleTurn_NoToolUseEndsInDone(t *testing.T) {
	store := newTestStore(t)
	llmClient := scriptedLLM(t, sseResponse{textChunk("Hello there", ""), stopChunk("stop")})
	orch := New(store, llmClient, "test-model", 0)

	events := drain(orch.HandleTurn(context.Background(), "conv-1", "hi", testAgent(), "fp-1"))

	var gotText, gotDone bool
	for _, e := range events {
		if e.Type == EventText && e.Text == "Hello there" {
			gotText = true
		}
		if e.Type == EventDone {
			gotDone = true
		}
	}
	if !gotText || !gotDone {
		t.Fatalf("expected text delta and done, got %+v", events)
	}

	turns, err := store.LoadTurns("conv-1")
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("unexpected persisted turns: %+v", turns)
	}
}

func TestHandleTurn_EmitsDeduplicatedCitations(t *testing.T) {
	store := newTestStore(t)
	llmClient := scriptedLLM(t, sseResponse{
		textChunk("See 14 CFR 25.1309 and again 14 CFR 25.1309, also 14 CFR 91.3.", ""),
		stopChunk("stop"),
	})
	orch := New(store, llmClient, "test-model", 0)

	ag := &agent.Agent{
		Name: "test", SystemPrompt: "be helpful", SearchIndex: "test-index",
		CitationPatterns: []*regexp.Regexp{regexp.MustCompile(`14 CFR \d+\.\d+`)},
	}

	events := drain(orch.HandleTurn(context.Background(), "conv-1", "hi", ag, "fp-1"))

	var citations []string
	for _, e := range events {
		if e.Type == EventCitations {
			citations = e.Citations
		}
	}
	if len(citations) != 2 || citations[0] != "14 CFR 25.1309" || citations[1] != "14 CFR 91.3" {
		t.Fatalf("expected 2 deduplicated citations in first-seen order, got %v", citations)
	}
}

func TestHandleTurn_NoCitationPatternsEmitsNoCitationsEvent(t *testing.T) {
	store := newTestStore(t)
	llmClient := scriptedLLM(t, sseResponse{textChunk("See 14 CFR 25.1309.", ""), stopChunk("stop")})
	orch := New(store, llmClient, "test-model", 0)

	events := drain(orch.HandleTurn(context.Background(), "conv-1", "hi", testAgent(), "fp-1"))

	for _, e := range events {
		if e.Type == EventCitations {
			t.Fatalf("expected no citations event for an agent with no citation patterns, got %+v", e)
		}
	}
}

func TestHandleTurn_ToolUseExecutesAndReentersModel(t *testing.T) {
	store := newTestStore(t)
	llmClient := scriptedLLM(t,
		sseResponse{
			toolCallChunk(0, "call_1", "lookup", `{"q":"25.1309"}`),
			stopChunk("tool_calls"),
		},
		sseResponse{textChunk("Found it", ""), stopChunk("stop")},
	)
	stub := &stubTool{name: "lookup", result: "section text", wantsIndex: true, wantsFingerprint: true, wantsConversation: true}
	orch := New(store, llmClient, "test-model", 0)

	events := drain(orch.HandleTurn(context.Background(), "conv-2", "what does it say", testAgent(stub), "fp-2"))

	var sawUse, sawExecuting, sawResult, sawDone bool
	for _, e := range events {
		switch e.Type {
		case EventToolUse:
			sawUse = true
		case EventToolExecuting:
			sawExecuting = true
		case EventToolResult:
			sawResult = true
			if e.ToolResult != "section text" {
				t.Fatalf("unexpected tool result event: %+v", e)
			}
		case EventDone:
			sawDone = true
		}
	}
	if !sawUse || !sawExecuting || !sawResult || !sawDone {
		t.Fatalf("missing expected event kinds: %+v", events)
	}

	if len(stub.calls) != 1 {
		t.Fatalf("expected exactly one tool execution, got %d", len(stub.calls))
	}
	if stub.calls[0].IndexName != "test-index" || stub.calls[0].Fingerprint != "fp-2" || stub.calls[0].ConversationID != "conv-2" {
		t.Fatalf("context injection mismatch: %+v", stub.calls[0])
	}

	turns, err := store.LoadTurns("conv-2")
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if len(turns) != 4 || turns[0].Role != "user" || turns[1].Role != "assistant" || turns[2].Role != "tool" || turns[3].Role != "assistant" {
		t.Fatalf("unexpected persisted turns: %+v", turns)
	}
}

func TestHandleTurn_UnknownToolNameSurfacesAsToolResultError(t *testing.T) {
	store := newTestStore(t)
	llmClient := scriptedLLM(t,
		sseResponse{toolCallChunk(0, "call_1", "does_not_exist", `{}`), stopChunk("tool_calls")},
		sseResponse{textChunk("ok", ""), stopChunk("stop")},
	)
	orch := New(store, llmClient, "test-model", 0)

	events := drain(orch.HandleTurn(context.Background(), "conv-3", "hi", testAgent(), "fp-3"))

	var foundError bool
	for _, e := range events {
		if e.Type == EventToolResult && e.ToolIsError {
			foundError = true
		}
	}
	if !foundError {
		t.Fatalf("expected an errored tool_result for an unknown tool, got %+v", events)
	}
	// The turn itself still completes.
	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("expected the turn to still complete with done, got %+v", last)
	}
}

func TestHandleTurn_ConcurrentCallsOnSameConversationAreRejected(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	llmClient := slowLLM(t, release, sseResponse{textChunk("done", ""), stopChunk("stop")})
	orch := New(store, llmClient, "test-model", 0)

	first := orch.HandleTurn(context.Background(), "conv-4", "one", testAgent(), "fp-4")

	// Give the first turn a moment to acquire the conversation lock before
	// starting the second.
	time.Sleep(20 * time.Millisecond)

	second := orch.HandleTurn(context.Background(), "conv-4", "two", testAgent(), "fp-4")
	secondEvents := drain(second)
	if len(secondEvents) != 1 || secondEvents[0].Type != EventWarning {
		t.Fatalf("expected exactly one warning for the rejected turn, got %+v", secondEvents)
	}

	close(release)
	firstEvents := drain(first)
	if len(firstEvents) == 0 || firstEvents[len(firstEvents)-1].Type != EventDone {
		t.Fatalf("expected the first turn to complete with done, got %+v", firstEvents)
	}
}

func TestHandleTurn_MaxToolRoundsForcesFinalSynthesis(t *testing.T) {
	store := newTestStore(t)
	llmClient := scriptedLLM(t,
		sseResponse{toolCallChunk(0, "call_1", "lookup", `{}`), stopChunk("tool_calls")},
		sseResponse{toolCallChunk(0, "call_2", "lookup", `{}`), stopChunk("tool_calls")},
		sseResponse{textChunk("final answer", ""), stopChunk("stop")},
	)
	stub := &stubTool{name: "lookup", result: "x"}
	orch := New(store, llmClient, "test-model", 0)
	orch.MaxToolRounds = 2

	events := drain(orch.HandleTurn(context.Background(), "conv-5", "go", testAgent(stub), "fp-5"))

	var sawWarning, sawDone bool
	for _, e := range events {
		if e.Type == EventWarning {
			sawWarning = true
		}
		if e.Type == EventDone {
			sawDone = true
		}
	}
	if !sawWarning {
		t.Fatalf("expected a warning once max tool rounds was reached, got %+v", events)
	}
	if !sawDone {
		t.Fatalf("expected the forced synthesis round to end in done, got %+v", events)
	}
	if len(stub.calls) != 2 {
		t.Fatalf("expected exactly 2 tool executions before tools were disabled, got %d", len(stub.calls))
	}
}

func TestHandleTurn_TurnTimeoutEmitsClassifiedError(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	llmClient := slowLLM(t, release, sseResponse{textChunk("too late", ""), stopChunk("stop")})
	// Registered after slowLLM's srv.Close so it runs first: the handler never
	// reads the request body, so the server does not notice the client's
	// cancellation and srv.Close would otherwise wait on it forever.
	t.Cleanup(func() { close(release) })
	orch := New(store, llmClient, "test-model", 0)
	orch.TurnTimeout = 30 * time.Millisecond

	events := drain(orch.HandleTurn(context.Background(), "conv-6", "hi", testAgent(), "fp-6"))

	if len(events) != 1 || events[0].Type != EventError || events[0].ErrorKind != "timeout" {
		t.Fatalf("expected a single timeout error event, got %+v", events)
	}

	turns, err := store.LoadTurns("conv-6")
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != "user" {
		t.Fatalf("expected only the user turn to be persisted, got %+v", turns)
	}
}

func TestHandleTurn_ClientDisconnectPersistsNothingBeyondUserTurn(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	llmClient := slowLLM(t, release, sseResponse{textChunk("too late", ""), stopChunk("stop")})
	// Registered after slowLLM's srv.Close so it runs first: the handler never
	// reads the request body, so the server does not notice the client's
	// cancellation and srv.Close would otherwise wait on it forever.
	t.Cleanup(func() { close(release) })
	orch := New(store, llmClient, "test-model", 0)

	ctx, cancel := context.WithCancel(context.Background())
	events := orch.HandleTurn(ctx, "conv-7", "hi", testAgent(), "fp-7")

	time.Sleep(20 * time.Millisecond)
	cancel()

	got := drain(events)
	for _, e := range got {
		if e.Type == EventDone || e.Type == EventError {
			t.Fatalf("expected no terminal event on client disconnect, got %+v", got)
		}
	}

	turns, err := store.LoadTurns("conv-7")
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != "user" {
		t.Fatalf("expected only the user turn to survive a disconnect, got %+v", turns)
	}
}
