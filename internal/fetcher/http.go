package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/resilience"
)

// maxBodyBytes caps a single response. Register PDFs stay well below this.
const maxBodyBytes = 32 << 20

// Options configures a Session.
type Options struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	Retry          resilience.RetryPolicy
	// Limiters is shared across sessions. Nil creates a private set.
	Limiters *Limiters
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// OptionsFromConfig maps the fetch configuration onto Options.
func OptionsFromConfig(cfg config.FetchConfig, limiters *Limiters) Options {
	return Options{
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.AcceptLanguage,
		Timeout:        time.Duration(cfg.TimeoutSecs) * time.Second,
		Retry:          resilience.PolicyFromConfig(cfg.Retry),
		Limiters:       limiters,
	}
}

// Session implements Fetcher with its own cookie jar. JSF portals keep
// search state server side, so every crawl should use a fresh Session.
type Session struct {
	client *http.Client
	opts   Options
}

// Compile-time check.
var _ Fetcher = (*Session)(nil)

var defaultTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConnsPerHost: 10,
	MaxConnsPerHost:     20,
	IdleConnTimeout:     90 * time.Second,
}

// NewSession creates a session with an empty cookie jar.
func NewSession(opts Options) *Session {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "registry-crawler/1.0"
	}
	if opts.Limiters == nil {
		opts.Limiters = NewLimiters(0, 0)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryPolicy()
	}
	transport := opts.Transport
	if transport == nil {
		transport = defaultTransport
	}
	// cookiejar.New never fails without options.
	jar, _ := cookiejar.New(nil)
	return &Session{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		opts: opts,
	}
}

// SetCookies seeds the jar, e.g. with a stored login.
func (s *Session) SetCookies(rawURL string, cookies []*http.Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "fetcher: parse cookie url %q", rawURL)
	}
	s.client.Jar.SetCookies(u, cookies)
	return nil
}

// Get fetches rawURL.
func (s *Session) Get(ctx context.Context, rawURL string) (*Page, error) {
	return s.do(ctx, http.MethodGet, rawURL, nil)
}

// PostForm submits form to rawURL.
func (s *Session) PostForm(ctx context.Context, rawURL string, form url.Values) (*Page, error) {
	return s.do(ctx, http.MethodPost, rawURL, form)
}

func (s *Session) do(ctx context.Context, method, rawURL string, form url.Values) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	limiter := s.opts.Limiters.For(u.Host)

	policy := s.opts.Retry
	policy.OnRetry = func(attempt int, err error) {
		zap.L().Warn("fetcher: retrying request",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return resilience.DoVal(ctx, policy, func(ctx context.Context) (*Page, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", s.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		if s.opts.AcceptLanguage != "" {
			req.Header.Set("Accept-Language", s.opts.AcceptLanguage)
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: %s %s", method, rawURL)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode == http.StatusTooManyRequests {
			limiter.OnRateLimit()
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return nil, resilience.NewTransientError(
				&StatusError{Method: method, URL: rawURL, StatusCode: resp.StatusCode},
				resp.StatusCode,
			)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Method: method, URL: rawURL, StatusCode: resp.StatusCode}
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read body of %s", rawURL)
		}
		limiter.OnSuccess()

		return &Page{
			URL:        resp.Request.URL,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
		}, nil
	})
}
