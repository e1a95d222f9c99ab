package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/model"
)

func writeSession(t *testing.T, cookies []storedCookie) string {
	t.Helper()
	data, err := json.Marshal(storageState{Cookies: cookies})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "linkedin_session.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadSession(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	future := float64(now.Add(24 * time.Hour).Unix())
	past := float64(now.Add(-time.Hour).Unix())

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		path := writeSession(t, []storedCookie{
			{Name: "li_at", Value: "token", Domain: ".linkedin.com", Path: "/", Expires: future},
			{Name: "JSESSIONID", Value: "ajax:1", Domain: ".www.linkedin.com", Path: "/", Expires: -1},
		})
		cookies, err := LoadSession(path, now)
		require.NoError(t, err)
		require.Len(t, cookies, 2)
		assert.Equal(t, "linkedin.com", cookies[0].Domain)
		assert.True(t, cookies[1].Expires.IsZero())
	})
	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadSession(filepath.Join(t.TempDir(), "none.json"), now)
		assert.ErrorIs(t, err, ErrNoSession)
	})
	t.Run("expired auth cookie", func(t *testing.T) {
		t.Parallel()
		path := writeSession(t, []storedCookie{{Name: "li_at", Value: "token", Expires: past}})
		_, err := LoadSession(path, now)
		assert.ErrorIs(t, err, ErrNoSession)
	})
	t.Run("no auth cookie", func(t *testing.T) {
		t.Parallel()
		path := writeSession(t, []storedCookie{{Name: "bcookie", Value: "x", Expires: -1}})
		_, err := LoadSession(path, now)
		assert.ErrorIs(t, err, ErrNoSession)
	})
	t.Run("corrupt", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := LoadSession(path, now)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoSession)
	})
}

const liSearch = `<html><body><ul>
<li><a href="/feed/">Feed</a></li>
<li><a class="app-aware-link" href="https://HOST/company/magna-real-estate/?trk=search">MAGNA Real Estate</a></li>
</ul></body></html>`

func linkedInServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/results/companies/", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("li_at"); err != nil || c.Value != "token" {
			http.Redirect(w, r, "/authwall?trk=x", http.StatusFound)
			return
		}
		assert.Equal(t, "MAGNA Real Estate GmbH", r.URL.Query().Get("keywords"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.ReplaceAll(liSearch, "https://HOST", srv.URL)))
	})
	mux.HandleFunc("GET /company/magna-real-estate/about/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><section class="artdeco-card org-page-details-module__card-spacing"><dl>
<dt>Website</dt><dd><a href="https://www.magna-real-estate.com">magna</a></dd>
<dt>Company size</dt><dd>11-50 employees</dd>
</dl></section></body></html>`))
	})
	mux.HandleFunc("GET /authwall", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>Sign in</body></html>"))
	})
	srv = httptest.NewServer(mux)
	return srv
}

func TestLinkedIn_Fetch(t *testing.T) {
	t.Parallel()
	srv := linkedInServer(t)
	defer srv.Close()

	path := writeSession(t, []storedCookie{{Name: "li_at", Value: "token", Domain: "127.0.0.1", Path: "/", Expires: -1}})
	a := NewLinkedIn(config.LinkedInConfig{SourceConfig: config.SourceConfig{BaseURL: srv.URL}, SessionFile: path}, testOptions())
	assert.Equal(t, model.SourceLinkedIn, a.Name())

	res, err := a.Fetch(context.Background(), magna(t))
	require.NoError(t, err)

	v, ok := res.Partial.Get(model.FieldMitarbeiter)
	require.True(t, ok)
	assert.Equal(t, int64(50), v.Value)
	v, ok = res.Partial.Get(model.FieldWebsite)
	require.True(t, ok)
	assert.Equal(t, "https://www.magna-real-estate.com", v.Value)
	require.NotNil(t, res.Artifacts["about_html"])
	assert.Contains(t, *res.Artifacts["about_html"], "org-page-details-module__card-spacing")
}

func TestLinkedIn_NoSession(t *testing.T) {
	t.Parallel()
	a := NewLinkedIn(config.LinkedInConfig{
		SourceConfig: config.SourceConfig{BaseURL: "http://127.0.0.1:1"},
		SessionFile:  filepath.Join(t.TempDir(), "missing.json"),
	}, testOptions())
	_, err := a.Fetch(context.Background(), magna(t))
	assert.True(t, IsKind(err, KindAuthenticationRequired), err)
}

func TestLinkedIn_LoginWall(t *testing.T) {
	t.Parallel()
	srv := linkedInServer(t)
	defer srv.Close()

	// A cookie the server does not accept leads to the auth wall.
	path := writeSession(t, []storedCookie{{Name: "li_at", Value: "revoked", Domain: "127.0.0.1", Path: "/", Expires: -1}})
	a := NewLinkedIn(config.LinkedInConfig{SourceConfig: config.SourceConfig{BaseURL: srv.URL}, SessionFile: path}, testOptions())
	_, err := a.Fetch(context.Background(), magna(t))
	assert.True(t, IsKind(err, KindAuthenticationRequired), err)
}

func TestAboutPageURL(t *testing.T) {
	t.Parallel()
	got, err := aboutPageURL("https://www.linkedin.com/company/magna-real-estate/posts/?trk=x#top")
	require.NoError(t, err)
	assert.Equal(t, "https://www.linkedin.com/company/magna-real-estate/about/", got)

	_, err = aboutPageURL("https://www.linkedin.com/company/")
	assert.Error(t, err)
}
