package model

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// RegisterType is the court-register kind prefixing a register number.
type RegisterType string

// Register types issued by German registry courts.
const (
	RegisterHRB RegisterType = "HRB" // Handelsregister Abteilung B (corporations)
	RegisterHRA RegisterType = "HRA" // Handelsregister Abteilung A (partnerships, sole traders)
	RegisterGnR RegisterType = "GnR" // Genossenschaftsregister
	RegisterPR  RegisterType = "PR"  // Partnerschaftsregister
	RegisterVR  RegisterType = "VR"  // Vereinsregister
	RegisterGsR RegisterType = "GsR" // Gesellschaftsregister
)

// RegisterTypes lists every accepted register type. HRB and HRA come before
// the shorter codes so prefix matching never stops early.
var RegisterTypes = []RegisterType{RegisterHRB, RegisterHRA, RegisterGnR, RegisterPR, RegisterVR, RegisterGsR}

// ErrInvalidIdentifier is returned when a company identifier fails validation.
var ErrInvalidIdentifier = eris.New("invalid company identifier")

var registerNumberPattern = regexp.MustCompile(`^(HRB|HRA|GnR|PR|VR|GsR)(\d+)$`)

// RegisterNumber is a parsed register number such as "HRB182742".
type RegisterNumber struct {
	Type   RegisterType
	Number string
}

// String returns the canonical form without whitespace.
func (r RegisterNumber) String() string {
	return string(r.Type) + r.Number
}

// ParseRegisterNumber splits a register number into its type code and numeric
// suffix. Whitespace anywhere in the input is ignored.
func ParseRegisterNumber(s string) (RegisterNumber, error) {
	compact := StripSpaces(s)
	m := registerNumberPattern.FindStringSubmatch(compact)
	if m == nil {
		return RegisterNumber{}, eris.Wrapf(ErrInvalidIdentifier, "register number %q", s)
	}
	return RegisterNumber{Type: RegisterType(m[1]), Number: m[2]}, nil
}

// StripSpaces removes every whitespace rune from s.
func StripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// CompanyIdentifier names one real-world company for a crawl request.
// Values are immutable after construction; copy freely.
type CompanyIdentifier struct {
	name     string
	register RegisterNumber
	taxID    string
}

// NewIdentifier validates and builds a CompanyIdentifier. taxID may be empty.
func NewIdentifier(name, registerNumber, taxID string) (CompanyIdentifier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return CompanyIdentifier{}, eris.Wrap(ErrInvalidIdentifier, "company name is required")
	}
	reg, err := ParseRegisterNumber(registerNumber)
	if err != nil {
		return CompanyIdentifier{}, err
	}
	return CompanyIdentifier{
		name:     name,
		register: reg,
		taxID:    strings.TrimSpace(taxID),
	}, nil
}

// Name returns the company name as supplied.
func (c CompanyIdentifier) Name() string { return c.name }

// Register returns the parsed register number.
func (c CompanyIdentifier) Register() RegisterNumber { return c.register }

// RegisterNumber returns the canonical register number string.
func (c CompanyIdentifier) RegisterNumber() string { return c.register.String() }

// TaxID returns the VAT id, or "" when unknown.
func (c CompanyIdentifier) TaxID() string { return c.taxID }

// WithTaxID returns a copy carrying the given VAT id.
func (c CompanyIdentifier) WithTaxID(taxID string) CompanyIdentifier {
	c.taxID = strings.TrimSpace(taxID)
	return c
}

// Matches reports whether two identifiers name the same company: names
// compare case-insensitively, register numbers compare exactly after
// whitespace removal.
func (c CompanyIdentifier) Matches(other CompanyIdentifier) bool {
	return strings.EqualFold(c.name, other.name) &&
		StripSpaces(c.RegisterNumber()) == StripSpaces(other.RegisterNumber())
}

// Slug returns a filesystem-safe rendering of the company name.
func (c CompanyIdentifier) Slug() string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range c.name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
