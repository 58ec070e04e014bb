// Package mcpserver mirrors the fixed retrieval catalog over MCP, for
// analysts who want to drive search_indexed_content and the section/document
// fetchers from an MCP-speaking client instead of the conversational
// WebSocket. It has no write path: the catalog it exposes is a subset of
// internal/tools, read-only, with index name and fingerprint supplied
// explicitly as tool arguments since there's no per-conversation agent
// binding to inject them from here.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openregs/regassist/internal/tools"
)

// Deps names the three retrieval tools this server mirrors. Each is the
// same tool type the orchestrator calls, built as its own instance over the
// same cache, scheduler, and clients, so caching, second-hit indexing, and
// cite formatting behave identically through either surface.
type Deps struct {
	SearchIndexedContent *tools.SearchIndexedContent
	FetchCFRSection      *tools.FetchCFRSection
	FetchDRSDocument     *tools.FetchDRSDocument
}

// NewServer builds an MCP server exposing the retrieval catalog as tools.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"regassist",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Read-only mirror of regassist's regulatory retrieval catalog."),
	)

	s.AddTool(
		mcp.NewTool("search_indexed_content",
			mcp.WithDescription(deps.SearchIndexedContent.Definition().Description),
			mcp.WithString("index_name", mcp.Description("The search index to query."), mcp.Required()),
			mcp.WithString("fingerprint", mcp.Description("Caller fingerprint, used to include that caller's own uploaded documents."), mcp.Required()),
			mcp.WithString("query", mcp.Description("What to search for."), mcp.Required()),
			mcp.WithNumber("top", mcp.Description("Maximum number of results (default 5).")),
		),
		searchIndexedContentHandler(deps.SearchIndexedContent),
	)

	s.AddTool(
		mcp.NewTool("fetch_cfr_section",
			mcp.WithDescription(deps.FetchCFRSection.Definition().Description),
			mcp.WithString("index_name", mcp.Description("The search index this fetch is attributed to for caching."), mcp.Required()),
			mcp.WithString("title", mcp.Description("CFR title number, e.g. \"14\"."), mcp.Required()),
			mcp.WithString("part", mcp.Description("CFR part number, e.g. \"25\"."), mcp.Required()),
			mcp.WithString("section", mcp.Description("CFR section number, e.g. \"1309\"."), mcp.Required()),
			mcp.WithString("date", mcp.Description("Optional version date (YYYY-MM-DD).")),
		),
		fetchCFRSectionHandler(deps.FetchCFRSection),
	)

	s.AddTool(
		mcp.NewTool("fetch_drs_document",
			mcp.WithDescription(deps.FetchDRSDocument.Definition().Description),
			mcp.WithString("index_name", mcp.Description("The search index this fetch is attributed to for caching."), mcp.Required()),
			mcp.WithString("document_guid", mcp.Description("The document's GUID, from search_drs."), mcp.Required()),
			mcp.WithString("doc_type", mcp.Description("The document's type, from search_drs."), mcp.Required()),
		),
		fetchDRSDocumentHandler(deps.FetchDRSDocument),
	)

	return s
}

func searchIndexedContentHandler(tool *tools.SearchIndexedContent) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		indexName, err := req.RequireString("index_name")
		if err != nil {
			return mcpError("index_name is required"), nil
		}
		fingerprint, err := req.RequireString("fingerprint")
		if err != nil {
			return mcpError("fingerprint is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		top := req.GetInt("top", 0)

		args, _ := json.Marshal(map[string]any{"query": query, "top": top})
		return runTool(ctx, tool, args, tools.Injected{IndexName: indexName, Fingerprint: fingerprint})
	}
}

func fetchCFRSectionHandler(tool *tools.FetchCFRSection) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		indexName, err := req.RequireString("index_name")
		if err != nil {
			return mcpError("index_name is required"), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		part, err := req.RequireString("part")
		if err != nil {
			return mcpError("part is required"), nil
		}
		section, err := req.RequireString("section")
		if err != nil {
			return mcpError("section is required"), nil
		}
		date := req.GetString("date", "")

		args, _ := json.Marshal(map[string]any{"title": title, "part": part, "section": section, "date": date})
		return runTool(ctx, tool, args, tools.Injected{IndexName: indexName})
	}
}

func fetchDRSDocumentHandler(tool *tools.FetchDRSDocument) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		indexName, err := req.RequireString("index_name")
		if err != nil {
			return mcpError("index_name is required"), nil
		}
		documentGUID, err := req.RequireString("document_guid")
		if err != nil {
			return mcpError("document_guid is required"), nil
		}
		docType, err := req.RequireString("doc_type")
		if err != nil {
			return mcpError("doc_type is required"), nil
		}

		args, _ := json.Marshal(map[string]any{"document_guid": documentGUID, "doc_type": docType})
		return runTool(ctx, tool, args, tools.Injected{IndexName: indexName})
	}
}

func runTool(ctx context.Context, tool tools.Tool, args json.RawMessage, injected tools.Injected) (*mcp.CallToolResult, error) {
	result, err := tool.Execute(ctx, args, injected)
	if err != nil {
		return mcpError(fmt.Sprintf("%s: %v", tool.Name(), err)), nil
	}
	return mcpText(result), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
