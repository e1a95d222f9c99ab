package htmldoc

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is an anchor element.
type Link struct {
	Text string
	Href string
	Sel  *goquery.Selection
}

// Links returns the anchors below s that carry an href.
func Links(s *goquery.Selection) []Link {
	var out []Link
	s.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		out = append(out, Link{Text: Text(a), Href: href, Sel: a})
	})
	return out
}

// Resolve makes ref absolute against base. It returns ref unchanged when
// either fails to parse.
func Resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
