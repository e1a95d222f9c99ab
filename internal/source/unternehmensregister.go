package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/extract"
	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/htmldoc"
	"github.com/sells-group/registry-crawler/internal/model"
)

const (
	urHomePath           = "/de"
	urAdvancedSearchPath = "/de/erweitertesuche"
	urStatementLinkText  = "Jahresabschluss zum Geschäftsjahr"
)

// Unternehmensregister reads the search result list and the most recent
// published annual financial statement from the federal company register.
type Unternehmensregister struct {
	baseURL string
	opts    fetcher.Options
}

// NewUnternehmensregister creates the adapter.
func NewUnternehmensregister(cfg config.SourceConfig, opts fetcher.Options) *Unternehmensregister {
	return &Unternehmensregister{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		opts:    opts,
	}
}

// Name implements Adapter.
func (u *Unternehmensregister) Name() model.Source { return model.SourceUnternehmensregister }

// Fetch implements Adapter.
func (u *Unternehmensregister) Fetch(ctx context.Context, id model.CompanyIdentifier) (*Result, error) {
	src := u.Name()
	log := zap.L().With(zap.String("source", string(src)), zap.String("register_number", id.RegisterNumber()))
	session := fetcher.NewSession(u.opts)

	// The portal sets its session cookie on the start page.
	if _, err := session.Get(ctx, u.baseURL+urHomePath); err != nil {
		return nil, classify(src, eris.Wrap(err, "unternehmensregister: load start page"))
	}

	searchPage, err := session.Get(ctx, u.baseURL+urAdvancedSearchPath)
	if err != nil {
		return nil, classify(src, eris.Wrap(err, "unternehmensregister: load search page"))
	}
	doc, err := searchPage.HTML()
	if err != nil {
		return nil, Fail(src, KindParseFailure, eris.Wrap(err, "unternehmensregister: parse search page"))
	}
	formNode := doc.Find(`input[name="companyName"]`).First().Closest("form")
	if formNode.Length() == 0 {
		return nil, Fail(src, KindParseFailure, eris.New("unternehmensregister: search form missing"))
	}
	form := htmldoc.ReadForm(formNode)
	form.Values.Set("companyName", id.Name())
	form.Values.Set("companyRegisterNumber", id.Register().Number)
	form.Values.Set("search", "")

	results, err := submit(ctx, session, searchPage, form)
	if err != nil {
		return nil, classify(src, eris.Wrap(err, "unternehmensregister: submit search"))
	}
	rdoc, err := results.HTML()
	if err != nil {
		return nil, Fail(src, KindParseFailure, eris.Wrap(err, "unternehmensregister: parse results"))
	}

	res := NewResult(src, id)
	// The container class carries a generated CSS-module suffix.
	if table := rdoc.Find(`[class*="searchResultTable_tableContainer"]`).First(); table.Length() > 0 {
		fragment := htmldoc.InnerHTML(table)
		res.SetArtifact("search_results_html", fragment)
		if err := res.Partial.SetFrom(model.DocumentHTML, model.FieldURSearchResultsHTML, fragment); err != nil {
			log.Warn("unternehmensregister: keep search results", zap.Error(err))
		}
	}

	var statementHref string
	for _, l := range htmldoc.Links(rdoc.Selection) {
		if strings.Contains(l.Text, urStatementLinkText) {
			statementHref = l.Href
			log.Debug("unternehmensregister: statement found", zap.String("title", l.Text))
			break
		}
	}
	if statementHref == "" {
		if res.Artifacts["search_results_html"] == nil {
			return nil, Fail(src, KindNotFound, eris.Errorf("unternehmensregister: no result for %s", id.RegisterNumber()))
		}
		log.Info("unternehmensregister: no annual statement published")
		return res, nil
	}

	statement, err := session.Get(ctx, results.Resolve(statementHref))
	if err != nil {
		if ctx.Err() != nil {
			return nil, classify(src, ctx.Err())
		}
		log.Warn("unternehmensregister: load statement failed", zap.Error(err))
		return res, nil
	}
	sdoc, err := statement.HTML()
	if err != nil {
		log.Warn("unternehmensregister: parse statement failed", zap.Error(err))
		return res, nil
	}
	body := sdoc.Find("table#begin_pub").First()
	if body.Length() == 0 {
		body = sdoc.Find("body")
	}
	fragment := htmldoc.InnerHTML(body)
	res.SetArtifact("jahresabschluss_html", fragment)
	if fragment != "" {
		if err := res.Partial.SetFrom(model.DocumentHTML, model.FieldURJahresabschlussHTML, fragment); err != nil {
			log.Warn("unternehmensregister: keep statement", zap.Error(err))
		}
		ex, err := extract.Jahresabschluss(fragment)
		if err != nil {
			log.Warn("unternehmensregister: statement not readable", zap.Error(err))
		} else {
			ex.Apply(res.Partial, model.DocumentHTML)
		}
	}

	log.Info("unternehmensregister: fetched", zap.Int("fields", res.Partial.Len()))
	return res, nil
}
