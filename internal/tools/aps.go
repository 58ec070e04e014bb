package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/regulatory/aps"
	"github.com/openregs/regassist/internal/storage"
)

// SearchAPS searches Airworthiness Product Standards for matching
// documents and returns their metadata.
type SearchAPS struct {
	APS *aps.Client
}

func (t *SearchAPS) Name() string { return "search_aps" }

func (t *SearchAPS) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Search Airworthiness Product Standards for documents matching a query.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"query": {Type: "string", Description: "Search terms."},
		}, "query"),
	}
}

func (t *SearchAPS) WantsIndex() bool        { return false }
func (t *SearchAPS) WantsFingerprint() bool  { return false }
func (t *SearchAPS) WantsConversation() bool { return false }

func (t *SearchAPS) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.Query == "" {
		return "Error: query is required", nil
	}

	results, err := t.APS.Search(ctx, args.Query)
	if err != nil {
		return fmt.Sprintf("Error: searching APS: %v", err), nil
	}
	if len(results) == 0 {
		return "No matching documents found.", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (accession=%s)\n", i+1, r.Title, r.Accession)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// FetchAPSDocument returns the complete body of one APS document,
// cache-backed.
type FetchAPSDocument struct {
	Cache     *cache.Cache
	APS       *aps.Client
	Scheduler Scheduler
}

func (t *FetchAPSDocument) Name() string { return "fetch_aps_document" }

func (t *FetchAPSDocument) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Fetch the complete text of an Airworthiness Product Standards document.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"accession": {Type: "string", Description: "The document's accession number, from search_aps."},
		}, "accession"),
	}
}

func (t *FetchAPSDocument) WantsIndex() bool        { return true }
func (t *FetchAPSDocument) WantsFingerprint() bool  { return false }
func (t *FetchAPSDocument) WantsConversation() bool { return false }

func (t *FetchAPSDocument) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args struct {
		Accession string `json:"accession"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.Accession == "" {
		return "Error: accession is required", nil
	}

	id := fmt.Sprintf("aps/%s", args.Accession)
	doc, err := fetchThroughCache(t.Cache, t.Scheduler, id, injected.IndexName, func() (storage.Document, error) {
		fetched, err := t.APS.FetchDocument(ctx, args.Accession)
		if err != nil {
			return storage.Document{}, err
		}
		return storage.Document{Title: fetched.Title, Body: fetched.Body, SourceKind: "aps", Citation: fetched.Citation}, nil
	})
	if err != nil {
		return fmt.Sprintf("Error: fetching APS document: %v", err), nil
	}

	return fmt.Sprintf("%s\n\n%s", doc.Citation, doc.Body), nil
}
