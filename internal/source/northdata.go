package source

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/artifact"
	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/extract"
	"github.com/sells-group/registry-crawler/internal/htmldoc"
	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/scrape"
)

// PageScraper loads a public page, falling back to a reader service when
// the site blocks plain requests. *scrape.Chain implements it.
type PageScraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
}

// Northdata reads the public company profile of the commercial register
// aggregator.
type Northdata struct {
	baseURL string
	pages   PageScraper
	store   artifact.Store
	now     func() time.Time
}

// NewNorthdata creates the adapter.
func NewNorthdata(cfg config.SourceConfig, pages PageScraper, store artifact.Store) *Northdata {
	if store == nil {
		store = artifact.Noop{}
	}
	return &Northdata{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		pages:   pages,
		store:   store,
		now:     time.Now,
	}
}

// Name implements Adapter.
func (n *Northdata) Name() model.Source { return model.SourceNorthdata }

// Fetch implements Adapter.
func (n *Northdata) Fetch(ctx context.Context, id model.CompanyIdentifier) (*Result, error) {
	src := n.Name()
	log := zap.L().With(zap.String("source", string(src)), zap.String("register_number", id.RegisterNumber()))

	searchURL := n.baseURL + "/?query=" + url.QueryEscape(id.Name())
	search, err := n.pages.Scrape(ctx, searchURL)
	if err != nil {
		return nil, classify(src, eris.Wrap(err, "northdata: search"))
	}
	doc, err := htmldoc.ParseString(search.HTML)
	if err != nil {
		return nil, Fail(src, KindParseFailure, eris.Wrap(err, "northdata: parse search results"))
	}

	company := search
	if !isCompanyPage(doc, id) {
		href := pickResult(doc, id)
		if href == "" {
			return nil, Fail(src, KindNotFound, eris.Errorf("northdata: no result for %q", id.Name()))
		}
		base, _ := url.Parse(search.URL)
		if base == nil || base.Host == "" {
			base, _ = url.Parse(searchURL)
		}
		company, err = n.pages.Scrape(ctx, htmldoc.Resolve(base, href))
		if err != nil {
			return nil, classify(src, eris.Wrap(err, "northdata: load company page"))
		}
	}

	ex, err := extract.Northdata(company.HTML, n.now())
	if err != nil {
		return nil, Fail(src, KindParseFailure, err)
	}
	if ex.PremiumOnly() {
		log.Warn("northdata: figures require premium access, using public data only")
	}

	section := contentSection(company.HTML)
	res := NewResult(src, id)
	res.SetArtifact("html", section)
	key := cleanName(id.Name()) + "_" + id.RegisterNumber() + "_northdata.html"
	if loc, err := n.store.Put(ctx, key, []byte(section), "text/html; charset=utf-8"); err != nil {
		log.Warn("northdata: persist page failed", zap.Error(err))
	} else {
		log.Debug("northdata: page stored", zap.String("location", loc))
	}

	applied := ex.Apply(res.Partial, model.DocumentHTML)
	log.Info("northdata: fetched",
		zap.String("url", company.URL),
		zap.String("scraper", company.Source),
		zap.Int("fields", applied),
	)
	return res, nil
}

// isCompanyPage reports whether the search redirected straight to the
// profile of the company.
func isCompanyPage(doc *goquery.Document, id model.CompanyIdentifier) bool {
	heading := doc.Find("span.heading").First()
	if heading.Length() == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(htmldoc.Text(heading)), strings.ToLower(id.Name()))
}

// pickResult returns the link of the search hit that mentions the register
// number, or of the first hit.
func pickResult(doc *goquery.Document, id model.CompanyIdentifier) string {
	reg := id.Register()
	mentions := regexp.MustCompile(`\b` + regexp.QuoteMeta(string(reg.Type)) + `\s*` + regexp.QuoteMeta(reg.Number) + `\b`)

	var first, match string
	doc.Find(".event").EachWithBreak(func(_ int, ev *goquery.Selection) bool {
		href := resultLink(ev)
		if href == "" {
			return true
		}
		if first == "" {
			first = href
		}
		if mentions.MatchString(htmldoc.Text(ev)) {
			match = href
			return false
		}
		return true
	})
	if match != "" {
		return match
	}
	return first
}

func resultLink(ev *goquery.Selection) string {
	if href, ok := ev.Find("a.title").First().Attr("href"); ok {
		return href
	}
	if links := htmldoc.Links(ev); len(links) > 0 {
		return links[0].Href
	}
	return ""
}

// contentSection returns the main profile section, or the page itself when
// the layout is not recognized.
func contentSection(page string) string {
	doc, err := htmldoc.ParseString(page)
	if err != nil {
		return page
	}
	section := doc.Find("main.ui.container div.anchor.content section").First()
	if section.Length() == 0 {
		return page
	}
	return htmldoc.InnerHTML(section)
}

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

// cleanName turns a company name into a file name fragment.
func cleanName(name string) string {
	s := strings.TrimSpace(unsafeNameChars.ReplaceAllString(name, ""))
	return strings.Join(strings.Fields(s), "_")
}
