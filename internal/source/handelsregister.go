package source

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/artifact"
	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/extract"
	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/htmldoc"
	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/ocr"
)

const (
	hrWelcomePath = "/rp_web/normalesuche/welcome.xhtml"
	hrSearchForm  = "form"

	docCurrentPrintout = "Global.Dokumentart.AD"
	docStructured      = "Global.Dokumentart.SI"
)

// Handelsregister reads the current printout (AD, PDF) and the structured
// register content (SI, XJustiz XML) from the joint register portal.
type Handelsregister struct {
	baseURL string
	opts    fetcher.Options
	ocr     ocr.Extractor
	store   artifact.Store
}

// NewHandelsregister creates the adapter. A nil extractor skips the PDF and
// a nil store keeps documents in memory only.
func NewHandelsregister(cfg config.SourceConfig, opts fetcher.Options, ext ocr.Extractor, store artifact.Store) *Handelsregister {
	if store == nil {
		store = artifact.Noop{}
	}
	return &Handelsregister{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		opts:    opts,
		ocr:     ext,
		store:   store,
	}
}

// Name implements Adapter.
func (h *Handelsregister) Name() model.Source { return model.SourceHandelsregister }

// Fetch implements Adapter.
func (h *Handelsregister) Fetch(ctx context.Context, id model.CompanyIdentifier) (*Result, error) {
	src := h.Name()
	log := zap.L().With(zap.String("source", string(src)), zap.String("register_number", id.RegisterNumber()))
	session := fetcher.NewSession(h.opts)

	results, err := h.search(ctx, session, id)
	if err != nil {
		return nil, err
	}
	doc, err := results.HTML()
	if err != nil {
		return nil, Fail(src, KindParseFailure, eris.Wrap(err, "handelsregister: parse results"))
	}
	row := doc.Find("tr.ui-widget-content").First()
	if row.Length() == 0 {
		return nil, Fail(src, KindNotFound, eris.Errorf("handelsregister: no result for %s", id.RegisterNumber()))
	}

	res := NewResult(src, id)
	reg := id.RegisterNumber()

	pdf, err := h.download(ctx, session, results, row, docCurrentPrintout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classify(src, ctx.Err())
		}
		log.Warn("handelsregister: AD download failed", zap.Error(err))
	}
	xml, err := h.download(ctx, session, results, row, docStructured)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classify(src, ctx.Err())
		}
		log.Warn("handelsregister: SI download failed", zap.Error(err))
	}
	if pdf == nil && xml == nil {
		return nil, Fail(src, KindParseFailure, eris.New("handelsregister: no documents in result row"))
	}

	if xml != nil {
		h.persist(ctx, reg+"_SI.xml", xml, "application/xml")
		res.SetArtifact("xml", string(xml))
		ex, err := extract.XJustiz(bytes.NewReader(xml))
		if err != nil {
			log.Warn("handelsregister: SI not readable", zap.Error(err))
		} else {
			n := ex.Apply(res.Partial, model.DocumentXML)
			log.Debug("handelsregister: SI extracted", zap.Int("fields", n))
		}
	}

	if pdf != nil {
		h.persist(ctx, reg+"_AD.pdf", pdf, "application/pdf")
		if h.ocr != nil {
			text, err := h.ocr.ExtractText(ctx, pdf)
			if err != nil {
				log.Warn("handelsregister: AD text extraction failed", zap.Error(err))
			} else {
				res.SetArtifact("pdf", text)
				n := extract.RegisterPDF(text).Apply(res.Partial, model.DocumentPDF)
				log.Debug("handelsregister: AD extracted", zap.Int("fields", n))
			}
		}
	}

	log.Info("handelsregister: fetched", zap.Int("fields", res.Partial.Len()))
	return res, nil
}

// search loads the welcome page for a view state and submits the search
// form with the company name and split register number.
func (h *Handelsregister) search(ctx context.Context, f fetcher.Fetcher, id model.CompanyIdentifier) (*fetcher.Page, error) {
	src := h.Name()
	welcome, err := f.Get(ctx, h.baseURL+hrWelcomePath)
	if err != nil {
		return nil, classify(src, eris.Wrap(err, "handelsregister: load search page"))
	}
	doc, err := welcome.HTML()
	if err != nil {
		return nil, Fail(src, KindParseFailure, eris.Wrap(err, "handelsregister: parse search page"))
	}
	form := htmldoc.FindForm(doc, hrSearchForm)
	if form == nil {
		return nil, Fail(src, KindParseFailure, eris.New("handelsregister: search form missing"))
	}
	if form.Values.Get("javax.faces.ViewState") == "" {
		return nil, Fail(src, KindParseFailure, eris.New("handelsregister: view state missing"))
	}

	form.Values.Set("form:schlagwoerter", id.Name())
	form.Values.Set("form:registerArt_input", string(id.Register().Type))
	form.Values.Set("form:registerNummer", id.Register().Number)
	form.Values.Set("form:btnSuche", "")
	form.Values.Set("form", "form")

	page, err := submit(ctx, f, welcome, form)
	if err != nil {
		return nil, classify(src, eris.Wrap(err, "handelsregister: submit search"))
	}
	return page, nil
}

// download triggers the document link of kind inside row. JSF command links
// post their enclosing form plus the parameters from their onclick handler.
func (h *Handelsregister) download(ctx context.Context, f fetcher.Fetcher, results *fetcher.Page, row *goquery.Selection, kind string) ([]byte, error) {
	link := row.Find("a[onclick]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		return strings.Contains(a.AttrOr("onclick", ""), kind)
	}).First()
	if link.Length() == 0 {
		return nil, eris.Errorf("handelsregister: no %s link", kind)
	}
	formNode := link.Closest("form")
	if formNode.Length() == 0 {
		return nil, eris.Errorf("handelsregister: %s link outside a form", kind)
	}
	form := htmldoc.ReadForm(formNode)
	for k, vs := range jsfParams(link.AttrOr("onclick", "")) {
		form.Values[k] = vs
	}
	if form.ID != "" && form.Values.Get(form.ID) == "" {
		form.Values.Set(form.ID, form.ID)
	}

	page, err := submit(ctx, f, results, form)
	if err != nil {
		return nil, eris.Wrapf(err, "handelsregister: request %s", kind)
	}
	if len(page.Body) == 0 || page.MediaType() == "text/html" {
		return nil, eris.Errorf("handelsregister: %s returned no document", kind)
	}
	return page.Body, nil
}

func (h *Handelsregister) persist(ctx context.Context, key string, data []byte, contentType string) {
	loc, err := h.store.Put(ctx, key, data, contentType)
	if err != nil {
		zap.L().Warn("handelsregister: persist document failed", zap.String("key", key), zap.Error(err))
		return
	}
	zap.L().Debug("handelsregister: document stored", zap.String("location", loc))
}
