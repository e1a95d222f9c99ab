package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/htmldoc"
	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/resilience"
)

func testOptions() fetcher.Options {
	return fetcher.Options{
		Timeout:  5 * time.Second,
		Retry:    resilience.RetryPolicy{MaxAttempts: 1},
		Limiters: fetcher.NewLimiters(1000, 100),
	}
}

func magna(t *testing.T) model.CompanyIdentifier {
	t.Helper()
	id, err := model.NewIdentifier("MAGNA Real Estate GmbH", "HRB182742", "")
	require.NoError(t, err)
	return id
}

type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemStore() *memStore { return &memStore{docs: make(map[string][]byte)} }

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = data
	return "mem:" + key, nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.docs))
	for k := range m.docs {
		out = append(out, k)
	}
	return out
}

type stubOCR struct {
	text string
	err  error
}

func (s stubOCR) ExtractText(_ context.Context, _ []byte) (string, error) {
	return s.text, s.err
}

func mustParse(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := htmldoc.ParseString(page)
	require.NoError(t, err)
	return doc
}
