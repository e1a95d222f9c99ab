package source

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/extract"
	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/model"
)

// authCookie is the session cookie a logged-in browser holds.
const authCookie = "li_at"

// ErrNoSession is returned when no usable login session is stored.
var ErrNoSession = eris.New("linkedin: no valid session, log in and export the browser state")

// storedCookie matches the cookie entries of a browser storage state export.
type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
}

type storageState struct {
	Cookies []storedCookie `json:"cookies"`
}

// LoadSession reads a storage state file and returns its cookies. It fails
// with ErrNoSession when the file is missing or the auth cookie is absent or
// expired. An expiry of -1 marks a browser-session cookie.
func LoadSession(path string, now time.Time) ([]*http.Cookie, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, eris.Wrapf(err, "linkedin: read session %s", path)
	}
	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, eris.Wrapf(err, "linkedin: decode session %s", path)
	}

	var (
		cookies []*http.Cookie
		authed  bool
	)
	for _, c := range state.Cookies {
		expired := c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now)
		if expired {
			continue
		}
		if c.Name == authCookie && c.Value != "" {
			authed = true
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, hc)
	}
	if !authed {
		return nil, ErrNoSession
	}
	return cookies, nil
}

// LinkedIn reads the "About" card of a company page. It needs a login
// session captured out of band.
type LinkedIn struct {
	baseURL     string
	sessionFile string
	opts        fetcher.Options
	now         func() time.Time
}

// NewLinkedIn creates the adapter.
func NewLinkedIn(cfg config.LinkedInConfig, opts fetcher.Options) *LinkedIn {
	return &LinkedIn{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		sessionFile: cfg.SessionFile,
		opts:        opts,
		now:         time.Now,
	}
}

// Name implements Adapter.
func (l *LinkedIn) Name() model.Source { return model.SourceLinkedIn }

// Fetch implements Adapter.
func (l *LinkedIn) Fetch(ctx context.Context, id model.CompanyIdentifier) (*Result, error) {
	src := l.Name()
	log := zap.L().With(zap.String("source", string(src)), zap.String("company", id.Name()))

	cookies, err := LoadSession(l.sessionFile, l.now())
	if err != nil {
		return nil, Fail(src, KindAuthenticationRequired, err)
	}
	session := fetcher.NewSession(l.opts)
	if err := session.SetCookies(l.baseURL+"/", cookies); err != nil {
		return nil, Fail(src, KindTransportError, err)
	}

	searchURL := l.baseURL + "/search/results/companies/?keywords=" + url.QueryEscape(id.Name())
	results, err := l.get(ctx, session, searchURL)
	if err != nil {
		return nil, err
	}
	doc, err := results.HTML()
	if err != nil {
		return nil, Fail(src, KindParseFailure, eris.Wrap(err, "linkedin: parse search results"))
	}
	href, ok := doc.Find(`a[href*="/company/"]`).First().Attr("href")
	if !ok {
		return nil, Fail(src, KindNotFound, eris.Errorf("linkedin: no company result for %q", id.Name()))
	}
	aboutURL, err := aboutPageURL(results.Resolve(href))
	if err != nil {
		return nil, Fail(src, KindParseFailure, err)
	}

	about, err := l.get(ctx, session, aboutURL)
	if err != nil {
		return nil, err
	}
	ex, markup, err := extract.LinkedInAbout(string(about.Body))
	if err != nil {
		return nil, Fail(src, KindParseFailure, err)
	}

	res := NewResult(src, id)
	res.SetArtifact("about_html", markup)
	applied := ex.Apply(res.Partial, model.DocumentHTML)
	log.Info("linkedin: fetched",
		zap.String("url", aboutURL),
		zap.Int("fields", applied),
		zap.Any("industry", ex.Extras["industry"]),
		zap.Any("founded", ex.Extras["founded"]),
	)
	return res, nil
}

// get fetches rawURL and maps login walls to AuthenticationRequired.
func (l *LinkedIn) get(ctx context.Context, f fetcher.Fetcher, rawURL string) (*fetcher.Page, error) {
	src := l.Name()
	page, err := f.Get(ctx, rawURL)
	if err != nil {
		var se *fetcher.StatusError
		if errors.As(err, &se) {
			switch se.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, 999:
				return nil, Fail(src, KindAuthenticationRequired, err)
			}
		}
		return nil, classify(src, err)
	}
	if isLoginWall(page.URL) {
		return nil, Fail(src, KindAuthenticationRequired, eris.Errorf("linkedin: redirected to %s", page.URL.Path))
	}
	return page, nil
}

func isLoginWall(u *url.URL) bool {
	if u == nil {
		return false
	}
	for _, p := range []string{"/login", "/authwall", "/checkpoint", "/uas/login"} {
		if strings.HasPrefix(u.Path, p) {
			return true
		}
	}
	return false
}

// aboutPageURL turns a company link into the URL of its "About" tab.
func aboutPageURL(companyURL string) (string, error) {
	u, err := url.Parse(companyURL)
	if err != nil {
		return "", eris.Wrapf(err, "linkedin: parse company url %q", companyURL)
	}
	path := u.Path
	if i := strings.Index(path, "/company/"); i >= 0 {
		rest := strings.Trim(path[i+len("/company/"):], "/")
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			rest = rest[:j]
		}
		if rest == "" {
			return "", eris.Errorf("linkedin: company url without slug %q", companyURL)
		}
		path = path[:i] + "/company/" + rest
	}
	u.Path = path + "/about/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
