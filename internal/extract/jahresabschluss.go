package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/htmldoc"
	"github.com/sells-group/registry-crawler/internal/model"
)

var (
	faEmployees = []*regexp.Regexp{
		regexp.MustCompile(`(?i)durchschnittlich\s+(\d[\d.]*)\s+Mitarbeiter`),
		regexp.MustCompile(`(?i)(\d[\d.]*)\s+Mitarbeiter`),
		regexp.MustCompile(`(?is)Anzahl.{0,80}?Mitarbeiter.{0,40}?(\d[\d.]*)`),
	}
	faRevenue = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Umsatzerlöse.{0,120}?(\d[\d.,]*)\s*€`),
		regexp.MustCompile(`(?is)Umsatz.{0,120}?(\d[\d.,]*)\s*EUR`),
		regexp.MustCompile(`(?is)Provisionserträge.{0,120}?(\d[\d.,]*)\s*€`),
	}
	faEarnings = []struct {
		re   *regexp.Regexp
		loss bool
	}{
		{regexp.MustCompile(`(?is)Jahresüberschuss.{0,120}?(\d[\d.,]*)\s*€`), false},
		{regexp.MustCompile(`(?is)Jahresfehlbetrag.{0,120}?(\d[\d.,]*)\s*€`), true},
		{regexp.MustCompile(`(?is)Gewinn.{0,120}?(\d[\d.,]*)\s*EUR`), false},
		{regexp.MustCompile(`(?is)Verlust.{0,120}?(\d[\d.,]*)\s*EUR`), true},
	}
)

// Jahresabschluss extracts headcount, revenue, annual result and VAT id from
// a published annual financial statement fragment.
func Jahresabschluss(fragment string) (*Extraction, error) {
	// Row fragments lose their cell structure outside a table.
	trimmed := strings.ToLower(strings.TrimSpace(fragment))
	if strings.HasPrefix(trimmed, "<tbody") || strings.HasPrefix(trimmed, "<tr") || strings.HasPrefix(trimmed, "<thead") {
		fragment = "<table>" + fragment + "</table>"
	}
	doc, err := htmldoc.ParseString(fragment)
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse financial statement")
	}
	text := strings.Join(htmldoc.Lines(doc.Selection), "\n")
	ex := NewExtraction()

	for _, re := range faEmployees {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := ParseCount(m[1]); err == nil {
				ex.Set(model.FieldMitarbeiter, n)
				break
			}
		}
	}
	for _, re := range faRevenue {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, err := ParseGermanNumber(m[1]); err == nil {
				ex.Set(model.FieldUmsatz, v)
				break
			}
		}
	}
	for _, p := range faEarnings {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := ParseGermanNumber(m[1])
		if err != nil {
			continue
		}
		if p.loss {
			v = -v
		}
		ex.Set(model.FieldGewinn, v)
		break
	}
	if id := FindVATID(text); id != "" {
		ex.Set(model.FieldUstIdNr, id)
	}
	return ex, nil
}
