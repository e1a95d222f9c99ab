// Package htmldoc loads pages into goquery documents and adds the few
// helpers goquery lacks: charset-aware parsing, script-free text and form
// state for JSF-style portals.
package htmldoc

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html/charset"
)

// Parse reads an HTML document, decoding it according to contentType and
// any meta charset declaration.
func Parse(r io.Reader, contentType string) (*goquery.Document, error) {
	utf8, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, eris.Wrap(err, "htmldoc: detect charset")
	}
	doc, err := goquery.NewDocumentFromReader(utf8)
	if err != nil {
		return nil, eris.Wrap(err, "htmldoc: parse")
	}
	return doc, nil
}

// ParseString parses a UTF-8 document.
func ParseString(s string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return nil, eris.Wrap(err, "htmldoc: parse")
	}
	return doc, nil
}

// Lines returns the non-empty text nodes below s, each with whitespace
// collapsed, in document order. Script and style contents are skipped.
func Lines(s *goquery.Selection) []string {
	if s == nil {
		return nil
	}
	var out []string
	collectLines(s, &out)
	return out
}

func collectLines(s *goquery.Selection, out *[]string) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "script", "style", "noscript", "#comment":
		case "#text":
			if t := strings.Join(strings.Fields(c.Text()), " "); t != "" {
				*out = append(*out, t)
			}
		default:
			collectLines(c, out)
		}
	})
}

// Text returns the text of s with whitespace collapsed.
func Text(s *goquery.Selection) string {
	return strings.Join(Lines(s), " ")
}

// InnerHTML renders the children of the first element in s, or "".
func InnerHTML(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	h, err := s.First().Html()
	if err != nil {
		return ""
	}
	return h
}

// OuterHTML renders the first element in s including its own tag, or "".
func OuterHTML(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	h, err := goquery.OuterHtml(s.First())
	if err != nil {
		return ""
	}
	return h
}
