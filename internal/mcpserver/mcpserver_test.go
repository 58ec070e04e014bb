package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/regulatory/cfr"
	"github.com/openregs/regassist/internal/searchclient"
	"github.com/openregs/regassist/internal/searchproxy"
	"github.com/openregs/regassist/internal/storage"
	"github.com/openregs/regassist/internal/tools"
)

type fakeScheduler struct{ calls []string }

func (f *fakeScheduler) ScheduleIndex(canonicalID, indexName string) error {
	f.calls = append(f.calls, canonicalID+"|"+indexName)
	return nil
}

func newEmbedServer(t *testing.T) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0, 0}}},
		})
	}))
	t.Cleanup(srv.Close)
	return llm.New("test-key", srv.URL)
}

func newSearchClient(t *testing.T) *searchclient.Client {
	t.Helper()
	spStore, err := searchproxy.Open(t.TempDir())
	if err != nil {
		t.Fatalf("searchproxy.Open: %v", err)
	}
	t.Cleanup(func() { spStore.Close() })
	srv := httptest.NewServer(searchproxy.NewHandler(searchproxy.Deps{Store: spStore, RegulatoryWriteKey: "reg-secret"}))
	t.Cleanup(srv.Close)
	return searchclient.New(srv.URL, "reg-secret")
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestSearchIndexedContentHandler_ReturnsHits(t *testing.T) {
	llmClient := newEmbedServer(t)
	sc := newSearchClient(t)

	ctx := context.Background()
	vec, _ := llmClient.Embed(ctx, "m", "jet engine icing")
	sc.Index(ctx, "faa-agent", "", []searchclient.IndexDocument{{
		CanonicalID: "cfr/14-25-1309",
		Citation:    "14 CFR 25.1309",
		Chunks:      []searchclient.IndexChunk{{Text: "icing protection requirements", Embedding: vec}},
	}}, true)

	tool := &tools.SearchIndexedContent{LLM: llmClient, EmbedModel: "m", SearchProxy: sc}
	handler := searchIndexedContentHandler(tool)

	result, err := handler(ctx, makeCallToolRequest("search_indexed_content", map[string]interface{}{
		"index_name":  "faa-agent",
		"fingerprint": "alice",
		"query":       "jet engine icing",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "14 CFR 25.1309") {
		t.Fatalf("expected citation in result, got %q", toolText(t, result))
	}
}

func TestSearchIndexedContentHandler_MissingQueryIsAnErrorResult(t *testing.T) {
	tool := &tools.SearchIndexedContent{}
	handler := searchIndexedContentHandler(tool)

	result, err := handler(context.Background(), makeCallToolRequest("search_indexed_content", map[string]interface{}{
		"index_name":  "faa-agent",
		"fingerprint": "alice",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a missing query")
	}
}

func TestFetchCFRSectionHandler_FetchesAndCaches(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	c := cache.New(store)
	sched := &fakeScheduler{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"Airworthiness","content":"Section text."}`))
	}))
	t.Cleanup(srv.Close)

	tool := &tools.FetchCFRSection{Cache: c, CFR: cfr.New(srv.URL), Scheduler: sched}
	handler := fetchCFRSectionHandler(tool)

	result, err := handler(context.Background(), makeCallToolRequest("fetch_cfr_section", map[string]interface{}{
		"index_name": "faa-agent",
		"title":      "14",
		"part":       "25",
		"section":    "1309",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.Contains(toolText(t, result), "Section text.") {
		t.Fatalf("expected section body in result, got %q", toolText(t, result))
	}
}

func TestFetchCFRSectionHandler_MissingRequiredArgIsAnErrorResult(t *testing.T) {
	tool := &tools.FetchCFRSection{}
	handler := fetchCFRSectionHandler(tool)

	result, err := handler(context.Background(), makeCallToolRequest("fetch_cfr_section", map[string]interface{}{
		"index_name": "faa-agent",
		"title":      "14",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a missing required argument")
	}
}
