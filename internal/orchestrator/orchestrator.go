// Package orchestrator drives the per-turn model loop: it loads history,
// streams a completion, dispatches tool calls with injected per-tenant
// context, persists the round, and forwards a normalized event stream to
// the caller.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/openregs/regassist/internal/agent"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/storage"
	"github.com/openregs/regassist/internal/tools"
)

const (
	defaultMaxToolRounds = 8
	defaultTurnTimeout   = 120 * time.Second
	defaultToolTimeout   = 30 * time.Second

	// toolResultEventChars bounds the tool_result event's payload; the
	// model still sees the tool's own (separately bounded) full output.
	toolResultEventChars = 2000
)

// QuotaChecker is the visitor-fingerprint daily quota counter, an external
// collaborator referenced only through this contract. CheckAndDebit is
// called once, before any turn work begins; ok=false means the quota is
// already exhausted for fingerprint.
type QuotaChecker interface {
	CheckAndDebit(ctx context.Context, fingerprint string) (ok bool, snapshot any, err error)
}

// Orchestrator runs turns to completion. One instance is shared
// process-wide; HandleTurn is safe to call concurrently for distinct
// conversations.
type Orchestrator struct {
	Storage *storage.Store
	LLM     *llm.Client
	Quota   QuotaChecker

	Model            string
	ReasoningBudget  int
	MaxToolRounds    int
	TurnTimeout      time.Duration
	ToolTimeout      time.Duration
	MaxHistoryTokens int

	logger *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New constructs an Orchestrator. model and reasoningBudget come from the
// shared LLM configuration; every agent uses the same provider binding.
func New(store *storage.Store, llmClient *llm.Client, model string, reasoningBudget int) *Orchestrator {
	return &Orchestrator{
		Storage:         store,
		LLM:             llmClient,
		Model:           model,
		ReasoningBudget: reasoningBudget,
		MaxToolRounds:   defaultMaxToolRounds,
		TurnTimeout:     defaultTurnTimeout,
		ToolTimeout:     defaultToolTimeout,
		logger:          slog.Default(),
		active:          map[string]struct{}{},
	}
}

func (o *Orchestrator) tryLock(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[conversationID]; busy {
		return false
	}
	o.active[conversationID] = struct{}{}
	return true
}

func (o *Orchestrator) unlock(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, conversationID)
}

// HandleTurn runs one user turn to completion, emitting events to the
// returned channel until it closes. The channel always closes; a turn
// either ends in exactly one of EventDone/EventError, or (when rejected
// outright, e.g. a turn already in flight on this conversation) in a
// single EventWarning with no terminal event at all. A turn whose ctx is
// cancelled (client disconnect) also ends with no terminal event.
func (o *Orchestrator) HandleTurn(ctx context.Context, conversationID, userText string, ag *agent.Agent, fingerprint string) <-chan Event {
	events := make(chan Event)

	if !o.tryLock(conversationID) {
		o.logger.Warn("rejected turn on conversation with one already in flight", "conversation_id", conversationID)
		go func() {
			defer close(events)
			events <- Event{Type: EventWarning, Message: "a turn is already in progress on this conversation"}
		}()
		return events
	}

	go func() {
		defer o.unlock(conversationID)
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, o.turnTimeout())
		defer cancel()

		o.runTurn(ctx, conversationID, userText, ag, fingerprint, events)
	}()

	return events
}

func (o *Orchestrator) turnTimeout() time.Duration {
	if o.TurnTimeout <= 0 {
		return defaultTurnTimeout
	}
	return o.TurnTimeout
}

func (o *Orchestrator) toolTimeout() time.Duration {
	if o.ToolTimeout <= 0 {
		return defaultToolTimeout
	}
	return o.ToolTimeout
}

func (o *Orchestrator) maxToolRounds() int {
	if o.MaxToolRounds <= 0 {
		return defaultMaxToolRounds
	}
	return o.MaxToolRounds
}

func (o *Orchestrator) runTurn(ctx context.Context, conversationID, userText string, ag *agent.Agent, fingerprint string, events chan<- Event) {
	if o.Quota != nil {
		ok, snapshot, err := o.Quota.CheckAndDebit(ctx, fingerprint)
		if err != nil {
			events <- Event{Type: EventError, Message: fmt.Sprintf("checking quota: %v", err), ErrorKind: "fatal"}
			return
		}
		if !ok {
			events <- Event{Type: EventError, Message: "quota exhausted", ErrorKind: "quota"}
			return
		}
		if snapshot != nil {
			events <- Event{Type: EventQuotaUpdate, Quota: snapshot}
		}
	}

	userBlocks := []llm.Block{{Type: "text", Text: userText}}
	userJSON, err := marshalBlocks(userBlocks)
	if err != nil {
		events <- Event{Type: EventError, Message: err.Error(), ErrorKind: "fatal"}
		return
	}
	if _, err := o.Storage.AppendTurn(conversationID, "user", userJSON); err != nil {
		events <- Event{Type: EventError, Message: fmt.Sprintf("persisting user turn: %v", err), ErrorKind: "persistence"}
		return
	}

	priorTurns, err := o.Storage.LoadTurns(conversationID)
	if err != nil {
		events <- Event{Type: EventError, Message: fmt.Sprintf("loading conversation history: %v", err), ErrorKind: "persistence"}
		return
	}
	messages, err := composeMessages(priorTurns, o.MaxHistoryTokens)
	if err != nil {
		events <- Event{Type: EventError, Message: err.Error(), ErrorKind: "fatal"}
		return
	}

	toolsEnabled := true
	warnedMaxRounds := false

	for round := 0; ; round++ {
		if toolsEnabled && round >= o.maxToolRounds() {
			if !warnedMaxRounds {
				events <- Event{Type: EventWarning, Message: "maximum tool rounds reached; forcing a final response with tools disabled"}
				warnedMaxRounds = true
			}
			toolsEnabled = false
		}

		req := llm.Request{
			Model:           o.Model,
			System:          ag.SystemPrompt,
			Messages:        messages,
			ReasoningBudget: o.ReasoningBudget,
		}
		if toolsEnabled {
			req.Tools = ag.Definitions()
		}

		assistantBlocks, toolUses, err := o.streamRound(ctx, req, events)
		if err != nil {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				events <- Event{Type: EventError, Message: "turn timed out", ErrorKind: "timeout"}
			case errors.Is(ctx.Err(), context.Canceled):
				// Client disconnect: no terminal event, nothing persisted.
			default:
				events <- classifyStreamError(err)
			}
			return
		}

		assistantJSON, err := marshalBlocks(assistantBlocks)
		if err != nil {
			events <- Event{Type: EventError, Message: err.Error(), ErrorKind: "fatal"}
			return
		}

		if citations := extractCitations(ag.CitationPatterns, assistantBlocks); len(citations) > 0 {
			events <- Event{Type: EventCitations, Citations: citations}
		}

		if len(toolUses) == 0 {
			if _, err := o.Storage.AppendTurn(conversationID, "assistant", assistantJSON); err != nil {
				events <- Event{Type: EventWarning, Message: fmt.Sprintf("failed to persist assistant turn: %v", err)}
			}
			events <- Event{Type: EventDone}
			return
		}

		resultBlocks := o.executeTools(ctx, conversationID, ag, fingerprint, toolUses, events)

		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				events <- Event{Type: EventError, Message: "turn timed out", ErrorKind: "timeout"}
			}
			// Canceled: no terminal event; neither turn is persisted.
			return
		}

		if _, err := o.Storage.AppendTurn(conversationID, "assistant", assistantJSON); err != nil {
			events <- Event{Type: EventWarning, Message: fmt.Sprintf("failed to persist assistant turn: %v", err)}
		}
		resultJSON, err := marshalBlocks(resultBlocks)
		if err != nil {
			events <- Event{Type: EventError, Message: err.Error(), ErrorKind: "fatal"}
			return
		}
		if _, err := o.Storage.AppendTurn(conversationID, "tool", resultJSON); err != nil {
			events <- Event{Type: EventWarning, Message: fmt.Sprintf("failed to persist tool result turn: %v", err)}
		}

		messages = append(messages, llm.Message{Role: "assistant", Blocks: assistantBlocks}, llm.Message{Role: "tool", Blocks: resultBlocks})
	}
}

// pendingToolUse is one tool call the model requested, with its complete
// arguments once the provider signals the call is done.
type pendingToolUse struct {
	id   string
	name string
	args string
}

// streamRound drives one streaming completion to its stop reason,
// forwarding normalized deltas and returning the assistant's accumulated
// blocks plus any tool-use requests, in the order the model emitted them.
func (o *Orchestrator) streamRound(ctx context.Context, req llm.Request, events chan<- Event) ([]llm.Block, []pendingToolUse, error) {
	handle, err := o.LLM.Stream(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer handle.Close()

	var text strings.Builder
	var blocks []llm.Block
	var toolUses []pendingToolUse
	names := map[string]string{}
	argBuilders := map[string]*strings.Builder{}

	flushText := func() {
		if text.Len() > 0 {
			blocks = append(blocks, llm.Block{Type: "text", Text: text.String()})
			text.Reset()
		}
	}

	for {
		ev, ok, err := handle.Next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}

		switch ev.Type {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			events <- Event{Type: EventText, Text: ev.Text}
		case llm.EventReasoningDelta:
			events <- Event{Type: EventReasoning, Text: ev.Text}
		case llm.EventToolUseStart:
			flushText()
			names[ev.ToolID] = ev.ToolName
			argBuilders[ev.ToolID] = &strings.Builder{}
		case llm.EventToolUseInputDelta:
			if b, ok := argBuilders[ev.ToolID]; ok {
				b.WriteString(ev.InputDelta)
			}
		case llm.EventToolUseEnd:
			args := "{}"
			if b, ok := argBuilders[ev.ToolID]; ok && b.Len() > 0 {
				args = b.String()
			}
			blocks = append(blocks, llm.Block{Type: "tool_use", ToolUseID: ev.ToolID, ToolName: names[ev.ToolID], ToolInput: json.RawMessage(args)})
			toolUses = append(toolUses, pendingToolUse{id: ev.ToolID, name: names[ev.ToolID], args: args})
		case llm.EventStopReason:
			flushText()
		}
	}

	return blocks, toolUses, nil
}

// executeTools runs every tool-use block to completion, in order, and
// returns the tool_result blocks bound to their use-ids. A given round's
// tool calls all finish before the next model round begins, but the next
// round's request never sees this round's individual executions interleave
// with the model's stream — they happen strictly after it.
func (o *Orchestrator) executeTools(ctx context.Context, conversationID string, ag *agent.Agent, fingerprint string, toolUses []pendingToolUse, events chan<- Event) []llm.Block {
	results := make([]llm.Block, 0, len(toolUses))

	for _, use := range toolUses {
		events <- Event{Type: EventToolUse, ToolID: use.id, ToolName: use.name, ToolArgs: use.args}
		events <- Event{Type: EventToolExecuting, ToolID: use.id, ToolName: use.name}

		result, isError := o.runOneTool(ctx, conversationID, ag, fingerprint, use.name, json.RawMessage(use.args))

		events <- Event{Type: EventToolResult, ToolID: use.id, ToolName: use.name, ToolResult: truncateForEvent(result), ToolIsError: isError}
		results = append(results, llm.Block{Type: "tool_result", ToolUseID: use.id, ToolResult: result, ToolError: isError})
	}

	return results
}

// runOneTool resolves and executes a single tool call. Unknown tool names
// and malformed arguments are never fatal to the turn — both surface as an
// "Error: ..." tool_result string, same as a failed upstream call.
func (o *Orchestrator) runOneTool(ctx context.Context, conversationID string, ag *agent.Agent, fingerprint, name string, args json.RawMessage) (result string, isError bool) {
	tool, ok := ag.ToolByName(name)
	if !ok {
		o.logger.Warn("model requested a tool not in its agent binding", "tool", name, "agent", ag.Name)
		return fmt.Sprintf("Error: unknown tool %q", name), true
	}

	toolCtx, cancel := context.WithTimeout(ctx, o.toolTimeout())
	defer cancel()

	injected := injectContext(tool, conversationID, ag, fingerprint)

	out, err := tool.Execute(toolCtx, args, injected)
	if err != nil {
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			return fmt.Sprintf("Error: %s timed out", name), true
		}
		return fmt.Sprintf("Error: %v", err), true
	}
	return out, false
}

// injectContext binds a tool's declared contextual slots from the turn
// binding, never from the model's own arguments.
func injectContext(tool tools.Tool, conversationID string, ag *agent.Agent, fingerprint string) tools.Injected {
	var injected tools.Injected
	if tool.WantsIndex() {
		injected.IndexName = ag.SearchIndex
	}
	if tool.WantsFingerprint() {
		injected.Fingerprint = fingerprint
	}
	if tool.WantsConversation() {
		injected.ConversationID = conversationID
	}
	return injected
}

// extractCitations runs an agent's configured citation patterns against a
// round's text blocks and returns the matches, deduplicated in first-seen
// order, for the transport layer's client-side highlighting.
func extractCitations(patterns []*regexp.Regexp, blocks []llm.Block) []string {
	if len(patterns) == 0 {
		return nil
	}

	var text strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			text.WriteString(b.Text)
			text.WriteByte('\n')
		}
	}
	if text.Len() == 0 {
		return nil
	}

	seen := map[string]bool{}
	var citations []string
	for _, re := range patterns {
		for _, match := range re.FindAllString(text.String(), -1) {
			if !seen[match] {
				seen[match] = true
				citations = append(citations, match)
			}
		}
	}
	return citations
}

func truncateForEvent(s string) string {
	if len(s) <= toolResultEventChars {
		return s
	}
	return s[:toolResultEventChars] + " …truncated…"
}

// classifyStreamError maps an llm.Client error (already classified as
// rate-limited, transient, or fatal) to a terminal orchestrator event.
func classifyStreamError(err error) Event {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return Event{Type: EventError, Message: fmt.Sprintf("upstream rate limited: %v", err), ErrorKind: "rate_limited"}
	case errors.Is(err, llm.ErrTransient):
		return Event{Type: EventError, Message: fmt.Sprintf("upstream connection error: %v", err), ErrorKind: "transient"}
	default:
		return Event{Type: EventError, Message: fmt.Sprintf("upstream error: %v", err), ErrorKind: "fatal"}
	}
}
