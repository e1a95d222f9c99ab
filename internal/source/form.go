package source

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/htmldoc"
)

// submit sends form the way a browser would: GET forms append the values
// to the action URL, everything else is POSTed. An empty action targets the
// page itself.
func submit(ctx context.Context, f fetcher.Fetcher, page *fetcher.Page, form *htmldoc.Form) (*fetcher.Page, error) {
	action := page.URL.String()
	if form.Action != "" {
		action = page.Resolve(form.Action)
	}
	if !strings.EqualFold(form.Method, "get") {
		return f.PostForm(ctx, action, form.Values)
	}
	u, err := url.Parse(action)
	if err != nil {
		return nil, err
	}
	u.RawQuery = form.Values.Encode()
	return f.Get(ctx, u.String())
}

var jsfParamPattern = regexp.MustCompile(`'([^']+)'\s*:\s*'([^']*)'`)

// jsfParams extracts the request parameters a JSF command link adds to its
// form from the object literal in its onclick handler, e.g.
// {'a:b':'a:b','property':'Global.Dokumentart.AD'}.
func jsfParams(onclick string) url.Values {
	out := url.Values{}
	for _, m := range jsfParamPattern.FindAllStringSubmatch(onclick, -1) {
		out.Set(m[1], m[2])
	}
	return out
}
