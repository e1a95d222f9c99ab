package extract

import "regexp"

// Court is a registry court.
type Court struct {
	Code string
	City string
	Name string
}

// Known XJustiz court codes. Unknown codes are kept as extras.
var courts = map[string]Court{
	"K1101R": {Code: "K1101R", City: "Hamburg", Name: "Amtsgericht Hamburg"},
	"F1103R": {Code: "F1103R", City: "Berlin", Name: "Amtsgericht Berlin (Charlottenburg)"},
	"D2601R": {Code: "D2601R", City: "München", Name: "Amtsgericht München"},
}

// LookupCourt resolves an XJustiz court code.
func LookupCourt(code string) (Court, bool) {
	c, ok := courts[code]
	return c, ok
}

// vatIDPattern requires exactly nine digits so an IBAN (DE plus 20 digits)
// never yields a VAT id.
var vatIDPattern = regexp.MustCompile(`\bDE\d{9}\b`)

// FindVATID returns the first German VAT id in text, or "".
func FindVATID(text string) string {
	return vatIDPattern.FindString(text)
}
