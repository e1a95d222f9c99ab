package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/resilience"
	"github.com/sells-group/registry-crawler/pkg/jina"
)

// JinaAdapter wraps a Jina Reader client as a Scraper with a circuit breaker.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter creates a JinaAdapter. The client should be configured to
// return HTML. Three consecutive unusable responses open the circuit for a
// minute, causing immediate fallback to the next scraper.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		breaker: resilience.NewCircuitBreaker("jina", resilience.BreakerSettings{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the circuit breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches targetURL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*Result, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, eris.New("jina: response needs fallback")
		}
		return &Result{
			URL:    resp.Data.URL,
			Title:  resp.Data.Title,
			HTML:   resp.Data.Content,
			Source: "jina",
		}, nil
	})
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

// needsFallback reports whether a Jina response is empty or a challenge page.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}
	return false
}
