package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/searchclient"
	"github.com/openregs/regassist/internal/storage"
)

const (
	personalDocumentPreviewChars = 50000
	personalDocumentSearchChars  = 10000
)

// ListMyDocuments returns the caller's personal uploads in this tenant.
type ListMyDocuments struct {
	Storage *storage.Store
}

func (t *ListMyDocuments) Name() string { return "list_my_documents" }

func (t *ListMyDocuments) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "List the caller's previously uploaded personal documents.",
		InputSchema: inputSchema(nil),
	}
}

func (t *ListMyDocuments) WantsIndex() bool        { return true }
func (t *ListMyDocuments) WantsFingerprint() bool  { return true }
func (t *ListMyDocuments) WantsConversation() bool { return false }

func (t *ListMyDocuments) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	docs, err := t.Storage.ListPersonalDocuments(injected.Fingerprint)
	if err != nil {
		return fmt.Sprintf("Error: listing documents: %v", err), nil
	}
	if len(docs) == 0 {
		return "You have no uploaded documents.", nil
	}

	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "%d. %s (id=%s, pages=%d, uploaded=%s)\n", i+1, d.Title, d.ID, d.PageCount, d.FetchedAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// FetchPersonalDocument returns the reassembled full text of one of the
// caller's uploads and populates the search memo for it.
type FetchPersonalDocument struct {
	Storage *storage.Store
	Memo    *MemoStore
}

func (t *FetchPersonalDocument) Name() string { return "fetch_personal_document" }

func (t *FetchPersonalDocument) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Fetch the full text of one of the caller's uploaded personal documents.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"document_id": {Type: "string", Description: "The document's id, from list_my_documents."},
		}, "document_id"),
	}
}

func (t *FetchPersonalDocument) WantsIndex() bool        { return true }
func (t *FetchPersonalDocument) WantsFingerprint() bool  { return true }
func (t *FetchPersonalDocument) WantsConversation() bool { return true }

func (t *FetchPersonalDocument) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.DocumentID == "" {
		return "Error: document_id is required", nil
	}

	doc, err := loadOwnedPersonalDocument(t.Storage, args.DocumentID, injected.Fingerprint)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	t.Memo.Put(injected.ConversationID, doc.ID, doc.Body)

	body := doc.Body
	truncated := false
	if len(body) > personalDocumentPreviewChars {
		body = body[:personalDocumentPreviewChars]
		truncated = true
	}
	if truncated {
		return fmt.Sprintf("%s\n\n%s\n\n…truncated…\n(ask me to search the remainder with search_personal_document)", doc.Title, body), nil
	}
	return fmt.Sprintf("%s\n\n%s", doc.Title, body), nil
}

// SearchPersonalDocument semantically searches within one uploaded
// document's full text.
type SearchPersonalDocument struct {
	Storage    *storage.Store
	Memo       *MemoStore
	LLM        *llm.Client
	EmbedModel string
}

func (t *SearchPersonalDocument) Name() string { return "search_personal_document" }

func (t *SearchPersonalDocument) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Semantically search within one of the caller's uploaded personal documents for passages matching a query.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"document_id": {Type: "string", Description: "The document's id, from list_my_documents."},
			"query":       {Type: "string", Description: "What to search for within the document."},
		}, "document_id", "query"),
	}
}

func (t *SearchPersonalDocument) WantsIndex() bool        { return true }
func (t *SearchPersonalDocument) WantsFingerprint() bool  { return true }
func (t *SearchPersonalDocument) WantsConversation() bool { return true }

func (t *SearchPersonalDocument) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args struct {
		DocumentID string `json:"document_id"`
		Query      string `json:"query"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.DocumentID == "" || args.Query == "" {
		return "Error: document_id and query are required", nil
	}

	// Ownership is re-verified here on every call, memo hit or not — the memo
	// only saves re-reading the body, never the ownership check.
	doc, err := loadOwnedPersonalDocument(t.Storage, args.DocumentID, injected.Fingerprint)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	text, ok := t.Memo.Get(injected.ConversationID, args.DocumentID)
	if !ok {
		text = doc.Body
		t.Memo.Put(injected.ConversationID, args.DocumentID, text)
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return "The document has no searchable text.", nil
	}

	queryVector, err := t.LLM.Embed(ctx, t.EmbedModel, args.Query)
	if err != nil {
		return fmt.Sprintf("Error: embedding query: %v", err), nil
	}

	paragraphVectors := make([][]float32, len(paragraphs))
	for i, p := range paragraphs {
		vec, err := t.LLM.Embed(ctx, t.EmbedModel, p)
		if err != nil {
			return fmt.Sprintf("Error: embedding document text: %v", err), nil
		}
		paragraphVectors[i] = vec
	}

	ranked := rankParagraphs(paragraphVectors, queryVector)
	top := ranked
	if len(top) > 5 {
		top = top[:5]
	}

	result := withNeighborContext(paragraphs, top, personalDocumentSearchChars)
	if result == "" {
		return "No matching passages found.", nil
	}
	return result, nil
}

// DeleteMyDocument removes one of the caller's uploads from both the
// document cache and the search index.
type DeleteMyDocument struct {
	Storage     *storage.Store
	SearchProxy *searchclient.Client
	Memo        *MemoStore
}

func (t *DeleteMyDocument) Name() string { return "delete_my_document" }

func (t *DeleteMyDocument) Definition() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: "Delete one of the caller's uploaded personal documents.",
		InputSchema: inputSchema(map[string]schemaProperty{
			"document_id": {Type: "string", Description: "The document's id, from list_my_documents."},
		}, "document_id"),
	}
}

func (t *DeleteMyDocument) WantsIndex() bool        { return true }
func (t *DeleteMyDocument) WantsFingerprint() bool  { return true }
func (t *DeleteMyDocument) WantsConversation() bool { return true }

func (t *DeleteMyDocument) Execute(ctx context.Context, rawArgs json.RawMessage, injected Injected) (string, error) {
	var args struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if args.DocumentID == "" {
		return "Error: document_id is required", nil
	}

	if _, err := loadOwnedPersonalDocument(t.Storage, args.DocumentID, injected.Fingerprint); err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	if err := t.SearchProxy.DeleteDocument(ctx, injected.IndexName, injected.Fingerprint, args.DocumentID); err != nil {
		return fmt.Sprintf("Error: deleting chunks: %v", err), nil
	}
	if err := t.Storage.DeleteDocument(args.DocumentID); err != nil {
		return fmt.Sprintf("Error: deleting document: %v", err), nil
	}
	t.Memo.Evict(injected.ConversationID, args.DocumentID)

	return "Document deleted.", nil
}

// loadOwnedPersonalDocument fetches a personal document and verifies the
// caller owns it, rather than trusting the model-supplied id blindly.
func loadOwnedPersonalDocument(store *storage.Store, documentID, fingerprint string) (storage.Document, error) {
	doc, err := store.GetDocument(documentID)
	if err == storage.ErrNotFound {
		return storage.Document{}, fmt.Errorf("document not found")
	}
	if err != nil {
		return storage.Document{}, err
	}
	if doc.SourceKind != "personal" || doc.OwnerFingerprint != fingerprint {
		return storage.Document{}, fmt.Errorf("document not found")
	}
	return doc, nil
}
