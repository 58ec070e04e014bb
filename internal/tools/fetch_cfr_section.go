package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/regulatory/cfr"
	"github.com/openregs/regassist/internal/storage"
)

// FetchCFRSection returns the complete text of one CFR section, cache-backed.
type FetchCFRSection struct {
	Cache     *cache.Cache
	CFR       *cfr.Client
	Scheduler Scheduler
}

func (t *FetchCFRSection) Name() string { return "fetch_cfr_section" }

func (t *FetchCFRSection) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Fetch the complete text of a section of the Code of Federal Regulations.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"title":   {Type: "string", Description: "CFR title number, e.g. \"14\"."},
			"part":    {Type: "string", Description: "CFR part number, e.g. \"25\"."},
			"section": {Type: "string", Description: "CFR section number, e.g. \"1309\"."},
			"date":    {Type: "string", Description: "Optional version date (YYYY-MM-DD); defaults to the currently in-force version."},
		}, "title", "part", "section"),
	}
}

func (t *FetchCFRSection) WantsIndex() bool        { return true }
func (t *FetchCFRSection) WantsFingerprint() bool  { return false }
func (t *FetchCFRSection) WantsConversation() bool { return false }

type fetchCFRSectionArgs struct {
	Title   string `json:"title"`
	Part    string `json:"part"`
	Section string `json:"section"`
	Date    string `json:"date"`
}

func (t *FetchCFRSection) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args fetchCFRSectionArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.Title == "" || args.Part == "" || args.Section == "" {
		return "Error: title, part, and section are required", nil
	}

	id := fmt.Sprintf("cfr/%s-%s-%s", args.Title, args.Part, args.Section)
	doc, err := fetchThroughCache(t.Cache, t.Scheduler, id, injected.IndexName, func() (storage.Document, error) {
		section, err := t.CFR.FetchSection(ctx, args.Title, args.Part, args.Section, args.Date)
		if err != nil {
			return storage.Document{}, err
		}
		return storage.Document{Title: section.Title, Body: section.Body, SourceKind: "cfr", Citation: section.Citation}, nil
	})
	if err != nil {
		return fmt.Sprintf("Error: fetching CFR section: %v", err), nil
	}

	return fmt.Sprintf("%s\n\n%s", doc.Citation, doc.Body), nil
}
