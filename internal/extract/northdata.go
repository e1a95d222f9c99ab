package extract

import (
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"

	"github.com/sells-group/registry-crawler/internal/htmldoc"
	"github.com/sells-group/registry-crawler/internal/model"
)

// Patterns for company pages of the commercial aggregator.
var (
	ndEmployees    = regexp.MustCompile(`(?i)(\d[\d.]*)\s*Mitarbeiter`)
	ndRevenue      = regexp.MustCompile(`(?i)Umsatz(?:erlöse)?[^\d\-−]{0,80}?([\-−]?\d[\d.]*(?:,\d+)?\s*(?:Mio|Mrd|Tsd)\.?\s*(?:€|EUR))`)
	ndEarnings     = regexp.MustCompile(`(?i)(Gewinn|Jahresüberschuss|Verlust|Jahresfehlbetrag)[^\d\-−]{0,80}?([\-−]?\d[\d.]*(?:,\d+)?\s*(?:Mio|Mrd|Tsd)\.?\s*(?:€|EUR))`)
	ndCourt        = regexp.MustCompile(`Amtsgericht\s+(\p{L}+)`)
	ndAddress      = regexp.MustCompile(`[^,<>\n]+,\s*D-\d{5}\s+[\p{L}\-]+`)
	ndPurpose      = regexp.MustCompile(`Gegenstand des Unternehmens der Gesellschaft ist ([^<]+)`)
	ndPostcode     = regexp.MustCompile(`\bD-\d{5}\b`)
	ndFinancial    = regexp.MustCompile(`(\d+[.,]\d+)\s*Mio\.\s*€[^\d]{0,40}?Finanzanlagen`)
	ndLEI          = regexp.MustCompile(`\bLEI\b\W{0,20}([A-Z0-9]{20})\b`)
	ndTrademark    = regexp.MustCompile(`(Wort-?/Bildmarke|Wortmarke):\s*["'„]([^"'“]+)["'“]`)
	ndChartFounded = regexp.MustCompile(`"date"\s*:\s*"(\d{4}-\d{2}-\d{2})"\s*,\s*"desc"\s*:\s*"[^"]*Eintragung"`)
	ndFounded      = regexp.MustCompile(`"foundingDate"\s*:\s*"(\d{4}-\d{2}-\d{2})"`)
	ndTelephone    = regexp.MustCompile(`"telephone"\s*:\s*"([^"]+)"`)
	ndEmail        = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ndWebsite      = regexp.MustCompile(`https?://[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}|www\.[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ndDirector     = regexp.MustCompile(`Geschäftsführer(?:in)?:? +((?:\p{Lu}[\p{Ll}\-]+ +){1,3}\p{Lu}[\p{Ll}\-]+)`)
)

// Markers of pages whose figures are reserved for paying customers.
var ndPremiumMarkers = []string{"nicht öffentlich verfügbar", "Premium Service"}

// Words that mark a company as terminated or in insolvency proceedings.
var ndInsolvencyIndicators = []string{"✝", "Liquidation", "Insolvenz", "Insolvency", "Erloschen", "Terminiert"}

// Northdata extracts company fields from an aggregator company page. now
// anchors the "N Jahre" activity span.
func Northdata(page string, now time.Time) (*Extraction, error) {
	doc, err := htmldoc.ParseString(page)
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse company page")
	}
	text := strings.Join(htmldoc.Lines(doc.Selection), "\n")
	ld := jsonLD(doc)
	ex := NewExtraction()

	for _, m := range ndPremiumMarkers {
		if strings.Contains(page, m) {
			ex.Extras["premium"] = true
			break
		}
	}

	if m := ndEmployees.FindStringSubmatch(text); m != nil {
		if n, err := ParseCount(m[1]); err == nil {
			ex.Set(model.FieldMitarbeiter, n)
		}
	}
	if m := ndRevenue.FindStringSubmatch(text); m != nil {
		if v, err := ParseGermanNumber(m[1]); err == nil {
			ex.Set(model.FieldUmsatz, v)
		}
	}
	if m := ndEarnings.FindStringSubmatch(text); m != nil {
		if v, err := ParseGermanNumber(m[2]); err == nil {
			switch strings.ToLower(m[1]) {
			case "verlust", "jahresfehlbetrag":
				if v > 0 {
					v = -v
				}
			}
			ex.Set(model.FieldGewinn, v)
		}
	}

	insolvent := false
	for _, ind := range ndInsolvencyIndicators {
		if strings.Contains(text, ind) {
			insolvent = true
			break
		}
	}
	ex.Set(model.FieldInsolvenz, insolvent)

	if m := ndCourt.FindStringSubmatch(text); m != nil {
		ex.Set(model.FieldHandelsregister, m[1])
		ex.Set(model.FieldGerichtsstand, "Amtsgericht "+m[1])
	}
	if addr := ndAddress.FindString(text); addr != "" {
		ex.Set(model.FieldGeschaeftsadresse, collapseSpaces(addr))
	}
	if m := ndPurpose.FindStringSubmatch(page); m != nil {
		ex.Set(model.FieldUnternehmenszweck, collapseSpaces(html.UnescapeString(m[1])))
	}
	if ndPostcode.MatchString(text) || strings.Contains(text, "Deutschland") {
		ex.Set(model.FieldLandDesHauptsitzes, "Deutschland")
	}
	if mentions34c(text) {
		ex.Set(model.FieldParagraph34GewO, true)
	}
	if m := ndFinancial.FindStringSubmatch(text); m != nil {
		if v, err := ParseGermanNumber(m[1] + " Mio"); err == nil {
			ex.Set(model.FieldGesamtwertImmobilien, v)
		}
	}

	var rights []string
	if m := ndLEI.FindStringSubmatch(text); m != nil {
		rights = append(rights, "LEI: "+m[1])
	}
	for _, m := range ndTrademark.FindAllStringSubmatch(text, -1) {
		rights = append(rights, "Trademark: "+strings.TrimSpace(m[2]))
	}
	if len(rights) > 0 {
		ex.Set(model.FieldSonstigeRechte, rights)
	}

	founded := ldString(ld, "foundingDate")
	if founded == "" {
		founded = firstGroup(ndFounded, page)
	}
	if founded == "" {
		founded = firstGroup(ndChartFounded, page)
	}
	if t, err := time.Parse("2006-01-02", founded); err == nil {
		ex.Set(model.FieldGruendungsdatum, founded)
		ex.Set(model.FieldAktivSeit, strconv.Itoa(now.Year()-t.Year())+" Jahre")
	}

	if tel := ldString(ld, "telephone"); tel != "" {
		ex.Set(model.FieldTelefonnummer, tel)
	} else if tel := firstGroup(ndTelephone, page); tel != "" {
		ex.Set(model.FieldTelefonnummer, tel)
	}

	if email := ldString(ld, "email"); email != "" {
		ex.Set(model.FieldEmail, strings.TrimPrefix(email, "mailto:"))
	}
	for _, email := range ndEmail.FindAllString(text, -1) {
		if !strings.Contains(strings.ToLower(email), "northdata") {
			ex.Set(model.FieldEmail, email)
			break
		}
	}

	if site := ldString(ld, "url"); site != "" && !strings.Contains(strings.ToLower(site), "northdata") {
		ex.Set(model.FieldWebsite, site)
	}
	for _, site := range ndWebsite.FindAllString(text, -1) {
		if !strings.Contains(strings.ToLower(site), "northdata") {
			if strings.HasPrefix(site, "www.") {
				site = "https://" + site
			}
			ex.Set(model.FieldWebsite, site)
			break
		}
	}

	var directors []string
	for _, m := range ndDirector.FindAllStringSubmatch(text, -1) {
		name := collapseSpaces(m[1])
		if !slices.Contains(directors, name) {
			directors = append(directors, name)
		}
	}
	if len(directors) > 0 {
		ex.Set(model.FieldGeschaeftsfuehrer, directors)
	}

	return ex, nil
}

// PremiumOnly reports whether the page withholds its figures.
func (e *Extraction) PremiumOnly() bool {
	v, _ := e.Extras["premium"].(bool)
	return v
}

// jsonLD decodes every JSON-LD block of doc into flat objects. Arrays and
// @graph containers are unwrapped.
func jsonLD(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			out = append(out, t)
			if g, ok := t["@graph"]; ok {
				walk(g)
			}
		}
	}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		walk(v)
	})
	return out
}

func ldString(objs []map[string]any, key string) string {
	for _, o := range objs {
		if s, ok := o[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
