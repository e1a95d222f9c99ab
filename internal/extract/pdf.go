package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/registry-crawler/internal/model"
)

// Patterns for the current-printout (AD) document of the registry portal.
// RE2 has no lookahead, so terminators are consumed by a non-capturing group.
var (
	pdfStammkapital = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Grund- oder Stammkapital:\s*\n(\d+[\d.,]+)\s*EUR`),
		regexp.MustCompile(`(?is)Stammkapital:\s*\n?(\d+[\d.,]+)\s*EUR`),
	}
	pdfAddress        = regexp.MustCompile(`(?is)Geschäftsanschrift:\s*(.+?)(?:\n[a-z]\)|\n\d+\.)`)
	pdfPurpose        = regexp.MustCompile(`(?is)Gegenstand\s+des\s+Unternehmens:\s*(.+?)(?:\n\d+\.)`)
	pdfDirectors      = regexp.MustCompile(`(?i)Geschäftsführer:\s*([^\n]+)`)
	pdfLastEntry      = regexp.MustCompile(`(?i)Tag\s+der\s+letzten\s+Eintragung:\s*(\d{2}\.\d{2}\.\d{4})`)
	pdfCourt          = regexp.MustCompile(`Handelsregister\s+([A-Z])\s+des\s+Amtsgerichts\s+([\p{L}\-]+)`)
	pdfRegisterNumber = []*regexp.Regexp{
		regexp.MustCompile(`Nummer\s+der\s+Firma:\s*((?:HRB|HRA|GnR|PR|VR|GsR)\s*\d+)`),
		regexp.MustCompile(`\b((?:HRB|HRA|GnR|PR|VR|GsR)\s*\d+)`),
	}
	pdfEntryCount = regexp.MustCompile(`(?i)Anzahl\s+der\s+bisherigen\s+Eintragungen:\s*(\d+)`)
	pdfPageMarker = regexp.MustCompile(`(?m)^--- PAGE \d+ ---$`)
)

func firstGroup(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RegisterPDF extracts fields from the text of a registry printout.
// The founding date is not read: the articles-of-association date printed in
// the document is often an amendment date.
func RegisterPDF(text string) *Extraction {
	e := NewExtraction()
	text = pdfPageMarker.ReplaceAllString(text, "")

	if addr := firstGroup(pdfAddress, text); addr != "" {
		e.Set(model.FieldGeschaeftsadresse, collapseSpaces(addr))
	}
	if purpose := firstGroup(pdfPurpose, text); purpose != "" {
		purpose = collapseSpaces(purpose)
		e.Set(model.FieldUnternehmenszweck, purpose)
		if mentions34c(purpose) {
			e.Set(model.FieldParagraph34GewO, true)
		}
	}
	if line := firstGroup(pdfDirectors, text); line != "" {
		e.Set(model.FieldGeschaeftsfuehrer, splitDirectors(line))
	}
	if m := pdfCourt.FindStringSubmatch(text); m != nil {
		e.Set(model.FieldHandelsregister, m[2])
		e.Set(model.FieldGerichtsstand, "Amtsgericht "+m[2])
		e.Extras["register_abteilung"] = m[1]
	}
	for _, re := range pdfRegisterNumber {
		if reg := firstGroup(re, text); reg != "" {
			e.Set(model.FieldRegisternummer, model.StripSpaces(reg))
			break
		}
	}

	for _, re := range pdfStammkapital {
		if raw := firstGroup(re, text); raw != "" {
			if v, err := ParseGermanNumber(raw); err == nil {
				e.Extras["stammkapital"] = v
			}
			break
		}
	}
	if d := firstGroup(pdfLastEntry, text); d != "" {
		e.Extras["letzte_eintragung"] = d
	}
	if n := firstGroup(pdfEntryCount, text); n != "" {
		if v, err := ParseCount(n); err == nil {
			e.Extras["anzahl_eintragungen"] = v
		}
	}
	return e
}

// splitDirectors separates a director line on semicolons. A single entry is
// returned unchanged.
func splitDirectors(line string) []string {
	parts := strings.Split(line, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = collapseSpaces(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mentions34c(s string) bool {
	return strings.Contains(s, "§ 34c GewO") || strings.Contains(s, "§34c GewO")
}
