package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3

	// transientRetryDelay is spec.md §7's "retry once; then surface" policy
	// for a 5xx response — one short pause, distinct from the longer
	// rate-limit backoff schedule below.
	transientRetryDelay = 1 * time.Second
)

// backoffSchedule is the wait before each retry of a rate-limited (429)
// response: 2s, 4s, 8s. Transient 5xx errors use transientRetryDelay instead.
var backoffSchedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Client talks to a single OpenAI-compatible chat completion and embeddings
// provider. One Client is shared process-wide; every agent uses the same
// configured model and endpoint (spec.md's agents differ in prompt and
// tools, not in LLM provider).
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a Client pointed at baseURL (e.g. "https://api.openai.com/v1").
func New(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Stream opens a streaming chat completion and returns a handle the caller
// pulls Events from until StopReason or an error.
func (c *Client) Stream(ctx context.Context, req Request) (*StreamHandle, error) {
	wireReq := toWireRequest(req, true)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fatal(fmt.Errorf("marshaling request: %w", err))
	}

	rc, err := c.postWithRetry(ctx, "/chat/completions", body, streamingTimeout)
	if err != nil {
		return nil, err
	}

	return &StreamHandle{body: rc, scanner: bufio.NewScanner(rc), toolIndex: map[int]string{}}, nil
}

// Embed returns the embedding vector for text using model.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	wireReq := wireEmbedRequest{Model: model, Input: text}
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fatal(fmt.Errorf("marshaling embed request: %w", err))
	}

	rc, err := c.postWithRetry(ctx, "/embeddings", body, defaultTimeout)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var resp wireEmbedResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return nil, fatal(fmt.Errorf("decoding embed response: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, fatal(fmt.Errorf("embed response contained no data"))
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) postWithRetry(ctx context.Context, path string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	rc, err := c.doPost(ctx, path, body, timeout)
	if err == nil {
		return rc, nil
	}
	if errIsTransient(err) {
		rc, retryErr := c.retryAfter(ctx, transientRetryDelay, path, body, timeout)
		if retryErr != nil {
			return nil, retryErr
		}
		return rc, nil
	}
	if !errIsRateLimited(err) {
		return nil, err
	}

	lastErr := err
	for attempt := 0; attempt < maxRetries; attempt++ {
		rc, retryErr := c.retryAfter(ctx, backoffSchedule[attempt], path, body, timeout)
		if retryErr == nil {
			return rc, nil
		}
		if !errIsRateLimited(retryErr) {
			return nil, retryErr
		}
		lastErr = retryErr
	}
	return nil, rateLimited(fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr))
}

// retryAfter waits delay (or the context's cancellation, whichever comes
// first) and issues one more attempt.
func (c *Client) retryAfter(ctx context.Context, delay time.Duration, path string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fatal(ctx.Err())
	case <-time.After(delay):
	}
	return c.doPost(ctx, path, body, timeout)
}

func (c *Client) doPost(ctx context.Context, path string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fatal(fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, transient(fmt.Errorf("executing request: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		return nil, rateLimited(fmt.Errorf("http %d", resp.StatusCode))
	}

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, transient(fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody)))
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fatal(fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody)))
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func errIsRateLimited(err error) bool {
	ce, ok := err.(*classifiedError)
	return ok && ce.kind == "rate_limited"
}

func errIsTransient(err error) bool {
	ce, ok := err.(*classifiedError)
	return ok && ce.kind == "transient"
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
