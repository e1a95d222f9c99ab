package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	magnitudePattern = regexp.MustCompile(`(?i)\b(mio|millionen|mrd|milliarden|tsd|tausend)\b`)
	numberChars      = regexp.MustCompile(`[^\d,.]`)
)

// ParseGermanNumber converts an amount in German notation to a float.
// Dots group thousands and the comma marks decimals, so "11.100.000,00 EUR"
// becomes 11100000. A magnitude word scales the result: "2,1 Mio. €" becomes
// 2100000. A leading minus sign (ASCII or U+2212) makes the value negative.
func ParseGermanNumber(s string) (float64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, eris.New("extract: empty number")
	}

	negative := strings.HasPrefix(raw, "-") || strings.HasPrefix(raw, "−")

	exponent := ""
	if m := magnitudePattern.FindStringSubmatch(raw); m != nil {
		switch strings.ToLower(m[1]) {
		case "mio", "millionen":
			exponent = "e6"
		case "mrd", "milliarden":
			exponent = "e9"
		case "tsd", "tausend":
			exponent = "e3"
		}
		raw = raw[:strings.Index(raw, m[0])]
	}

	cleaned := numberChars.ReplaceAllString(raw, "")
	cleaned = strings.Trim(cleaned, ".,")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0, eris.Errorf("extract: no digits in %q", s)
	}

	// Build the literal with its exponent so "2,1 Mio." parses exactly.
	v, err := strconv.ParseFloat(cleaned+exponent, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: parse number %q", s)
	}
	if negative {
		v = -v
	}
	return v, nil
}

// ParseCount extracts the first run of digits, ignoring thousands dots.
func ParseCount(s string) (int64, error) {
	digits := numberChars.ReplaceAllString(s, "")
	digits = strings.ReplaceAll(digits, ".", "")
	if i := strings.IndexByte(digits, ','); i >= 0 {
		digits = digits[:i]
	}
	if digits == "" {
		return 0, eris.Errorf("extract: no digits in %q", s)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: parse count %q", s)
	}
	return n, nil
}
