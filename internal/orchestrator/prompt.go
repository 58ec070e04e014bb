package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/storage"
)

const defaultMaxHistoryTokens = 8000

// estimateTokens is a 4-chars-per-token heuristic used to budget turn
// history.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// composeMessages converts persisted turns into the provider-agnostic
// message list for a request, dropping the oldest turns first once the
// history exceeds maxTokens. Unlike ranked retrieval content, turn history
// carries no relevance score to sort by, so recency is the only signal:
// the most recent turns are kept, and whatever doesn't fit is dropped from
// the front rather than skipped piecemeal.
func composeMessages(turns []storage.Turn, maxTokens int) ([]llm.Message, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxHistoryTokens
	}

	remaining := maxTokens
	cutoff := len(turns)
	accepted := 0
	for i := len(turns) - 1; i >= 0; i-- {
		tokens := estimateTokens(turns[i].BlocksJSON)
		if tokens > remaining && accepted > 0 {
			break
		}
		remaining -= tokens
		cutoff = i
		accepted++
	}

	kept := make([]llm.Message, 0, accepted)
	for _, t := range turns[cutoff:] {
		var blocks []llm.Block
		if err := json.Unmarshal([]byte(t.BlocksJSON), &blocks); err != nil {
			return nil, fmt.Errorf("decoding turn %d blocks: %w", t.Sequence, err)
		}
		kept = append(kept, llm.Message{Role: t.Role, Blocks: blocks})
	}
	return kept, nil
}

func marshalBlocks(blocks []llm.Block) (string, error) {
	b, err := json.Marshal(blocks)
	if err != nil {
		return "", fmt.Errorf("encoding blocks: %w", err)
	}
	return string(b), nil
}
