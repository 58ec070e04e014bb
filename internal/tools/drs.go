package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/regulatory/drs"
	"github.com/openregs/regassist/internal/storage"
)

// SearchDRS searches the FAA Dynamic Regulatory System for matching
// documents and returns their metadata; it does not fetch full bodies or
// touch the cache.
type SearchDRS struct {
	DRS *drs.Client
}

func (t *SearchDRS) Name() string { return "search_drs" }

func (t *SearchDRS) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Search the FAA Dynamic Regulatory System for regulatory documents matching a query.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"query": {Type: "string", Description: "Search terms."},
		}, "query"),
	}
}

func (t *SearchDRS) WantsIndex() bool        { return false }
func (t *SearchDRS) WantsFingerprint() bool  { return false }
func (t *SearchDRS) WantsConversation() bool { return false }

func (t *SearchDRS) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.Query == "" {
		return "Error: query is required", nil
	}

	results, err := t.DRS.Search(ctx, args.Query)
	if err != nil {
		return fmt.Sprintf("Error: searching DRS: %v", err), nil
	}
	if len(results) == 0 {
		return "No matching documents found.", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (doc_type=%s, document_guid=%s)\n", i+1, r.Title, r.DocType, r.DocumentGUID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// FetchDRSDocument returns the complete body of one DRS document,
// cache-backed.
type FetchDRSDocument struct {
	Cache     *cache.Cache
	DRS       *drs.Client
	Scheduler Scheduler
}

func (t *FetchDRSDocument) Name() string { return "fetch_drs_document" }

func (t *FetchDRSDocument) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Fetch the complete text of an FAA Dynamic Regulatory System document.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"document_guid": {Type: "string", Description: "The document's GUID, from search_drs."},
			"doc_type":      {Type: "string", Description: "The document's type, from search_drs."},
		}, "document_guid", "doc_type"),
	}
}

func (t *FetchDRSDocument) WantsIndex() bool        { return true }
func (t *FetchDRSDocument) WantsFingerprint() bool  { return false }
func (t *FetchDRSDocument) WantsConversation() bool { return false }

func (t *FetchDRSDocument) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args struct {
		DocumentGUID string `json:"document_guid"`
		DocType      string `json:"doc_type"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.DocumentGUID == "" || args.DocType == "" {
		return "Error: document_guid and doc_type are required", nil
	}

	id := fmt.Sprintf("drs/%s-%s", args.DocType, args.DocumentGUID)
	doc, err := fetchThroughCache(t.Cache, t.Scheduler, id, injected.IndexName, func() (storage.Document, error) {
		fetched, err := t.DRS.FetchDocument(ctx, args.DocumentGUID, args.DocType)
		if err != nil {
			return storage.Document{}, err
		}
		metadata, _ := json.Marshal(fetched.Metadata)
		return storage.Document{Title: fetched.Title, Body: fetched.Body, SourceKind: "drs", Citation: fetched.Citation, MetadataJSON: string(metadata)}, nil
	})
	if err != nil {
		return fmt.Sprintf("Error: fetching DRS document: %v", err), nil
	}

	return fmt.Sprintf("%s\n\n%s", doc.Citation, doc.Body), nil
}
