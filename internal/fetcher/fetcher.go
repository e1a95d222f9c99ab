// Package fetcher is the HTTP layer shared by the source adapters: a
// cookie-carrying session with per-host adaptive rate limiting and retries
// on transient failures.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/registry-crawler/internal/htmldoc"
)

// Fetcher issues page requests within one browsing session.
type Fetcher interface {
	// Get fetches rawURL.
	Get(ctx context.Context, rawURL string) (*Page, error)

	// PostForm submits form to rawURL as application/x-www-form-urlencoded.
	PostForm(ctx context.Context, rawURL string, form url.Values) (*Page, error)
}

// Page is a fully read response.
type Page struct {
	// URL is the final location after redirects.
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
}

// MediaType returns the media type of the response without parameters.
func (p *Page) MediaType() string {
	mt, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// HTML parses the body as an HTML document.
func (p *Page) HTML() (*goquery.Document, error) {
	return htmldoc.Parse(bytes.NewReader(p.Body), p.Header.Get("Content-Type"))
}

// Resolve makes ref absolute against the page URL.
func (p *Page) Resolve(ref string) string {
	return htmldoc.Resolve(p.URL, ref)
}

// StatusError is returned for responses outside 2xx that are not retried.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: %s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}
