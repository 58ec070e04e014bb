// Package drs talks to the FAA Dynamic Regulatory System portal: document
// search and full-document fetch, both key-authenticated.
package drs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openregs/regassist/internal/regulatory"
)

const requestTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *regulatory.Limiter
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    regulatory.NewLimiter(5, time.Second),
	}
}

// SearchResult is one hit from a DRS search.
type SearchResult struct {
	DocumentGUID string `json:"document_guid"`
	DocType      string `json:"doc_type"`
	Title        string `json:"title"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if !c.limiter.Allow() {
		return nil, fmt.Errorf("drs: rate limit exceeded")
	}

	u := fmt.Sprintf("%s/search?q=%s", c.baseURL, url.QueryEscape(query))
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("drs: decoding search response: %w", err)
	}
	return sr.Results, nil
}

type documentResponse struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

const maxBodyChars = 15000

// FetchDocument returns a DRS document's body, truncated at ~15k chars per
// spec.md §4.2.
func (c *Client) FetchDocument(ctx context.Context, documentGUID, docType string) (regulatory.Document, error) {
	if !c.limiter.Allow() {
		return regulatory.Document{}, fmt.Errorf("drs: rate limit exceeded")
	}

	u := fmt.Sprintf("%s/documents/%s?doc_type=%s", c.baseURL, url.PathEscape(documentGUID), url.QueryEscape(docType))
	resp, err := c.get(ctx, u)
	if err != nil {
		return regulatory.Document{}, err
	}
	defer resp.Body.Close()

	var dr documentResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return regulatory.Document{}, fmt.Errorf("drs: decoding document response: %w", err)
	}

	body := dr.Content
	truncated := false
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars] + "\n…truncated…"
		truncated = true
	}

	return regulatory.Document{
		Title:    dr.Title,
		Body:     body,
		Citation: fmt.Sprintf("DRS %s (%s)", documentGUID, docType),
		Metadata: map[string]string{"document_guid": documentGUID, "doc_type": docType, "truncated": fmt.Sprint(truncated)},
	}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("drs: creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("drs: upstream status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("drs: upstream status %d", resp.StatusCode)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("drs: request failed after retry: %w", lastErr)
}
