package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/htmldoc"
	"github.com/sells-group/registry-crawler/internal/model"
)

var sizeNumber = regexp.MustCompile(`\d[\d.,]*`)

// LinkedInAbout reads the details card of a company "About" page. It
// returns the extraction and the card markup, or the whole body when the
// card is missing.
func LinkedInAbout(page string) (*Extraction, string, error) {
	doc, err := htmldoc.ParseString(page)
	if err != nil {
		return nil, "", eris.Wrap(err, "extract: parse about page")
	}
	card := doc.Find("section.org-page-details-module__card-spacing").First()
	markup := htmldoc.OuterHTML(card)
	if card.Length() == 0 {
		card = doc.Find("body")
		markup = htmldoc.InnerHTML(card)
	}

	ex := NewExtraction()
	card.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.ToLower(htmldoc.Text(dt))
		// The value is the next dd before the following dt.
		dd := dt.NextUntil("dt").Filter("dd").First()
		if dd.Length() == 0 {
			return
		}
		link := dd.Find("a[href]").First()
		switch {
		case strings.Contains(label, "website"):
			if href, ok := link.Attr("href"); ok {
				ex.Set(model.FieldWebsite, strings.TrimSpace(href))
			}
		case strings.Contains(label, "phone"):
			if tel := strings.TrimPrefix(link.AttrOr("href", ""), "tel:"); tel != "" {
				ex.Set(model.FieldTelefonnummer, strings.TrimSpace(tel))
			}
		case strings.Contains(label, "company size"):
			if n, ok := largestCount(htmldoc.Text(dd)); ok {
				ex.Set(model.FieldMitarbeiter, n)
			}
		case strings.Contains(label, "industry"):
			ex.Extras["industry"] = htmldoc.Text(dd)
		case strings.Contains(label, "founded"):
			ex.Extras["founded"] = htmldoc.Text(dd)
		}
	})
	return ex, markup, nil
}

// largestCount returns the upper bound of a size band such as
// "51-200 employees" or "10,001+ employees".
func largestCount(s string) (int64, bool) {
	var best int64
	found := false
	for _, m := range sizeNumber.FindAllString(s, -1) {
		n, err := ParseCount(strings.ReplaceAll(m, ",", ""))
		if err != nil {
			continue
		}
		if !found || n > best {
			best, found = n, true
		}
	}
	return best, found
}
