// Package scrape fetches public company pages through a chain of scrapers:
// a plain HTTP fetch first, a hosted reader when the site blocks it.
package scrape

import "context"

// Result holds a scraped page with the scraper that produced it.
type Result struct {
	URL    string
	Title  string
	HTML   string
	Source string // e.g. "local_http", "jina"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
