package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/searchclient"
)

// SearchIndexedContent performs semantic search over the chunks visible to
// the calling tenant (regulatory chunks plus the caller's own uploads).
type SearchIndexedContent struct {
	LLM         *llm.Client
	EmbedModel  string
	SearchProxy *searchclient.Client
}

func (t *SearchIndexedContent) Name() string { return "search_indexed_content" }

func (t *SearchIndexedContent) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Semantic search over the indexed regulatory and personal content visible to this agent.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"query": {Type: "string", Description: "What to search for."},
			"top":   {Type: "integer", Description: "Maximum number of results (default 5)."},
		}, "query"),
	}
}

func (t *SearchIndexedContent) WantsIndex() bool        { return true }
func (t *SearchIndexedContent) WantsFingerprint() bool  { return true }
func (t *SearchIndexedContent) WantsConversation() bool { return false }

type searchIndexedContentArgs struct {
	Query string `json:"query"`
	Top   int    `json:"top"`
}

func (t *SearchIndexedContent) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args searchIndexedContentArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.Query == "" {
		return "Error: query is required", nil
	}
	top := args.Top
	if top <= 0 {
		top = 5
	}

	vector, err := t.LLM.Embed(ctx, t.EmbedModel, args.Query)
	if err != nil {
		return fmt.Sprintf("Error: embedding query: %v", err), nil
	}

	hits, err := t.SearchProxy.Search(ctx, injected.IndexName, injected.Fingerprint, vector, top)
	if err != nil {
		return fmt.Sprintf("Error: searching index: %v", err), nil
	}
	if len(hits) == 0 {
		return "No matching content found.", nil
	}

	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. [%s] (score %.3f)\n%s\n\n", i+1, h.Citation, h.Score, h.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
