// Package searchclient is the only way the rest of this system reaches the
// Search Proxy. It holds no vector-index credentials of its own — just the
// proxy's base URL and, when acting on behalf of a regulatory fetch, the
// separate write key the proxy requires for null-owner chunks.
package searchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL            string
	regulatoryWriteKey string
	httpClient         *http.Client
}

func New(baseURL, regulatoryWriteKey string) *Client {
	return &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		regulatoryWriteKey: regulatoryWriteKey,
		httpClient:         &http.Client{Timeout: defaultTimeout},
	}
}

// Hit is one ranked search result.
type Hit struct {
	CanonicalID string  `json:"canonical_id"`
	Text        string  `json:"text"`
	Citation    string  `json:"citation"`
	Score       float32 `json:"score"`
}

// Search calls POST /search with the tenant's index and fingerprint already
// resolved by the caller — this client never decides ownership, it only
// carries the request.
func (c *Client) Search(ctx context.Context, index, fingerprint string, vector []float32, top int) ([]Hit, error) {
	body, err := json.Marshal(map[string]any{
		"index":       index,
		"fingerprint": fingerprint,
		"vector":      vector,
		"top":         top,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	var resp struct {
		Hits []Hit `json:"hits"`
	}
	if err := c.postJSON(ctx, "/search", body, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

// IndexChunk is one embedded segment to upload.
type IndexChunk struct {
	OwnerFingerprint string
	Text             string
	Embedding        []float32
}

// IndexDocument groups a parent document's chunks for one /index call.
type IndexDocument struct {
	CanonicalID string
	Citation    string
	Chunks      []IndexChunk
}

// Index calls POST /index. asRegulatory attaches the separate regulatory
// write credential; it must be true iff every chunk has an empty
// OwnerFingerprint.
func (c *Client) Index(ctx context.Context, index, fingerprint string, docs []IndexDocument, asRegulatory bool) error {
	type chunkReq struct {
		OwnerFingerprint string    `json:"owner_fingerprint"`
		Text             string    `json:"text"`
		Embedding        []float32 `json:"embedding"`
	}
	type docReq struct {
		CanonicalID string     `json:"canonical_id"`
		Citation    string     `json:"citation"`
		Chunks      []chunkReq `json:"chunks"`
	}

	reqDocs := make([]docReq, len(docs))
	for i, d := range docs {
		chunks := make([]chunkReq, len(d.Chunks))
		for j, c := range d.Chunks {
			chunks[j] = chunkReq{OwnerFingerprint: c.OwnerFingerprint, Text: c.Text, Embedding: c.Embedding}
		}
		reqDocs[i] = docReq{CanonicalID: d.CanonicalID, Citation: d.Citation, Chunks: chunks}
	}

	body, err := json.Marshal(map[string]any{
		"index":       index,
		"fingerprint": fingerprint,
		"documents":   reqDocs,
	})
	if err != nil {
		return fmt.Errorf("marshaling index request: %w", err)
	}

	var headers map[string]string
	if asRegulatory {
		headers = map[string]string{"X-Regulatory-Write-Key": c.regulatoryWriteKey}
	}
	return c.postJSON(ctx, "/index", body, headers, nil)
}

// Document summarizes one parent document's presence in an index.
type Document struct {
	CanonicalID string    `json:"canonical_id"`
	ChunkCount  int       `json:"chunk_count"`
	Citation    string    `json:"citation"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListDocuments calls GET /documents for the given index/fingerprint.
func (c *Client) ListDocuments(ctx context.Context, index, fingerprint string) ([]Document, error) {
	url := fmt.Sprintf("%s/documents?index=%s&fingerprint=%s", c.baseURL, index, fingerprint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search proxy returned %d listing documents", resp.StatusCode)
	}

	var docs []Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding documents response: %w", err)
	}
	return docs, nil
}

// DeleteDocument calls DELETE /documents/{id} for the given index/fingerprint.
func (c *Client) DeleteDocument(ctx context.Context, index, fingerprint, canonicalID string) error {
	url := fmt.Sprintf("%s/documents/%s?index=%s&fingerprint=%s", c.baseURL, canonicalID, index, fingerprint)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("document not found")
	case http.StatusForbidden:
		return fmt.Errorf("ownership violation deleting document")
	default:
		return fmt.Errorf("search proxy returned %d deleting document", resp.StatusCode)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling search proxy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("search proxy returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
