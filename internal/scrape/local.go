package scrape

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/htmldoc"
)

// LocalScraper fetches HTML through the shared fetcher and rejects block
// pages so the chain can fall through to a reader service.
type LocalScraper struct {
	fetch fetcher.Fetcher
}

// NewLocalScraper creates a LocalScraper.
func NewLocalScraper(f fetcher.Fetcher) *LocalScraper {
	return &LocalScraper{fetch: f}
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches targetURL and returns its HTML.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	page, err := l.fetch.Get(ctx, targetURL)
	if err != nil {
		var se *fetcher.StatusError
		if errors.As(err, &se) && se.StatusCode == 403 {
			return nil, eris.Wrap(err, "local_http: blocked (forbidden)")
		}
		return nil, eris.Wrap(err, "local_http: fetch")
	}

	if blocked, blockType := DetectBlock(page.StatusCode, page.Header, page.Body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", blockType)
	}
	if len(page.Body) < 100 {
		return nil, eris.New("local_http: empty page")
	}

	title := ""
	if doc, err := page.HTML(); err == nil {
		title = htmldoc.Text(doc.Find("title").First())
	}

	return &Result{
		URL:    page.URL.String(),
		Title:  title,
		HTML:   string(page.Body),
		Source: "local_http",
	}, nil
}
