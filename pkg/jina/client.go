// Package jina provides a client for the Jina AI reader API, used as a
// fallback fetcher when a site blocks plain HTTP clients.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Jina AI Reader operations.
type Client interface {
	// Read fetches targetURL through the reader and returns its content in
	// the configured format.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
}

// ReadResponse is the parsed Jina API response.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds the content from Jina.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

// ReadUsage tracks token consumption.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithReturnFormat selects the content format: "markdown" (default),
// "html" or "text".
func WithReturnFormat(format string) Option {
	return func(c *httpClient) {
		c.format = format
	}
}

// WithMaxAttempts bounds retries on 429 and 5xx responses.
func WithMaxAttempts(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

type httpClient struct {
	apiKey      string
	baseURL     string
	format      string
	maxAttempts int
	backoff     time.Duration
	http        *http.Client
}

// NewClient creates a new Jina AI Reader client. An empty apiKey uses the
// anonymous tier.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     "https://r.jina.ai",
		format:      "markdown",
		maxAttempts: 3,
		backoff:     time.Second,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo runs req with exponential backoff on transport errors and
// retryable statuses. It returns the body and status of the last response.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.http.Do(req.Clone(ctx))
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, resp.StatusCode, eris.Wrap(readErr, "jina: read response body")
			}
			if !retryableStatusCode(resp.StatusCode) || attempt == c.maxAttempts {
				return body, resp.StatusCode, nil
			}
			lastErr = eris.Errorf("jina: status %d", resp.StatusCode)
		} else {
			lastErr = err
			if attempt == c.maxAttempts {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, 0, lastErr
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", c.format)

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: request failed")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("jina: unexpected status %d: %s", statusCode, string(body))
	}

	var result ReadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	return &result, nil
}
