package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/resilience"
)

func newLocal() *LocalScraper {
	return NewLocalScraper(fetcher.NewSession(fetcher.Options{
		Timeout:  5 * time.Second,
		Retry:    resilience.RetryPolicy{MaxAttempts: 1},
		Limiters: fetcher.NewLimiters(1000, 100),
	}))
}

func TestLocalScraper_HTML(t *testing.T) {
	body := `<html><head><title>MAGNA Real Estate GmbH, Hamburg</title></head>
<body><h1>MAGNA Real Estate GmbH</h1>` + strings.Repeat("<p>Umsatz</p>", 10) + `</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	result, err := newLocal().Scrape(context.Background(), srv.URL+"/firma")
	require.NoError(t, err)
	assert.Equal(t, "local_http", result.Source)
	assert.Equal(t, "MAGNA Real Estate GmbH, Hamburg", result.Title)
	assert.Equal(t, srv.URL+"/firma", result.URL)
	assert.Equal(t, body, result.HTML)
}

func TestLocalScraper_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newLocal().Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestLocalScraper_ChallengePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>Just a moment... Checking your browser before accessing northdata.de</body></html>`))
	}))
	defer srv.Close()

	_, err := newLocal().Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloudflare")
}

func TestLocalScraper_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, err := newLocal().Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty page")
}
