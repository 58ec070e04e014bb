// Package cfr fetches sections of the Code of Federal Regulations. The
// eCFR API is public and needs no credential, so this adapter carries only
// a base URL and a rate budget.
package cfr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openregs/regassist/internal/regulatory"
)

const requestTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *regulatory.Limiter
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    regulatory.NewLimiter(10, time.Second),
	}
}

type sectionResponse struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// FetchSection returns the full text of one CFR section. date, if empty,
// resolves to the currently in-force version.
func (c *Client) FetchSection(ctx context.Context, title, part, section, date string) (regulatory.Document, error) {
	if !c.limiter.Allow() {
		return regulatory.Document{}, fmt.Errorf("cfr: rate limit exceeded")
	}

	url := fmt.Sprintf("%s/api/versioner/v1/full/%s/title-%s.json?part=%s&section=%s",
		c.baseURL, dateOrCurrent(date), title, part, section)

	resp, err := c.get(ctx, url)
	if err != nil {
		return regulatory.Document{}, err
	}
	defer resp.Body.Close()

	var sr sectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return regulatory.Document{}, fmt.Errorf("cfr: decoding section response: %w", err)
	}

	citation := fmt.Sprintf("%s CFR %s.%s", title, part, section)
	return regulatory.Document{
		Title:    sr.Title,
		Body:     sr.Content,
		Citation: citation,
		Metadata: map[string]string{"title": title, "part": part, "section": section, "date": date},
	}, nil
}

func dateOrCurrent(date string) string {
	if date != "" {
		return date
	}
	return "current"
}

// get performs one GET, retrying exactly once on a transient (5xx or
// transport) failure since this request is idempotent.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("cfr: creating request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("cfr: upstream status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("cfr: upstream status %d", resp.StatusCode)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("cfr: request failed after retry: %w", lastErr)
}
