package model

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SchemaVersion is bumped whenever the field set or a declared type changes.
const SchemaVersion = 1

// Field names one attribute of the company record.
type Field string

// FieldType is the declared semantic type of a Field.
type FieldType int

// Field types.
const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeDate
	TypeList
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeDate:
		return "date"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

// Company record fields.
const (
	FieldRegisternummer             Field = "registernummer"
	FieldHandelsregister            Field = "handelsregister"
	FieldMitarbeiter                Field = "mitarbeiter"
	FieldUstIdNr                    Field = "ust_idnr"
	FieldInsolvenz                  Field = "insolvenz"
	FieldUnternehmenszweck          Field = "unternehmenszweck"
	FieldUmsatz                     Field = "umsatz"
	FieldGewinn                     Field = "gewinn"
	FieldAnzahlImmobilien           Field = "anzahl_immobilien"
	FieldGesamtwertImmobilien       Field = "gesamtwert_immobilien"
	FieldSonstigeRechte             Field = "sonstige_rechte"
	FieldGruendungsdatum            Field = "gruendungsdatum"
	FieldAktivSeit                  Field = "aktiv_seit"
	FieldBankverbindungSeit         Field = "bankverbindung_seit"
	FieldGeschaeftsadresseSeit      Field = "geschaeftsadresse_seit"
	FieldTelefonnummerSeit          Field = "telefonnummer_seit"
	FieldMobilfunknummerSeit        Field = "mobilfunknummer_seit"
	FieldNegativmerkmaleUnternehmen Field = "negativmerkmale_unternehmen"
	FieldNegativmerkmaleUnternehmer Field = "negativmerkmale_unternehmer"
	FieldLandDesHauptsitzes         Field = "land_des_hauptsitzes"
	FieldGerichtsstand              Field = "gerichtsstand"
	FieldParagraph34GewO            Field = "paragraph_34_gewo"
	FieldGeschaeftsfuehrer          Field = "geschaeftsfuehrer"
	FieldGeschaeftsadresse          Field = "geschaeftsadresse"
	FieldTelefonnummer              Field = "telefonnummer"
	FieldEmail                      Field = "email"
	FieldWebsite                    Field = "website"

	// Raw fragments passed through from the federal register.
	FieldURSearchResultsHTML   Field = "ur_search_results_html"
	FieldURJahresabschlussHTML Field = "ur_jahresabschluss_html"
)

// FieldSpec declares one field of the schema.
type FieldSpec struct {
	Field   Field
	Type    FieldType
	Pattern *regexp.Regexp
	// Only restricts which source may report the field. Empty means any.
	Only Source
}

var (
	ustIdNrPattern  = regexp.MustCompile(`^DE\d{9}$`)
	registerPattern = regexp.MustCompile(`^(HRB|HRA|GnR|PR|VR|GsR)\d+$`)
)

var schema = []FieldSpec{
	{Field: FieldRegisternummer, Type: TypeString, Pattern: registerPattern},
	{Field: FieldHandelsregister, Type: TypeString},
	{Field: FieldMitarbeiter, Type: TypeInt},
	{Field: FieldUstIdNr, Type: TypeString, Pattern: ustIdNrPattern},
	{Field: FieldInsolvenz, Type: TypeBool},
	{Field: FieldUnternehmenszweck, Type: TypeString},
	{Field: FieldUmsatz, Type: TypeFloat},
	{Field: FieldGewinn, Type: TypeFloat},
	{Field: FieldAnzahlImmobilien, Type: TypeInt},
	{Field: FieldGesamtwertImmobilien, Type: TypeFloat},
	{Field: FieldSonstigeRechte, Type: TypeList},
	{Field: FieldGruendungsdatum, Type: TypeDate},
	{Field: FieldAktivSeit, Type: TypeString},
	{Field: FieldBankverbindungSeit, Type: TypeString},
	{Field: FieldGeschaeftsadresseSeit, Type: TypeString},
	{Field: FieldTelefonnummerSeit, Type: TypeString},
	{Field: FieldMobilfunknummerSeit, Type: TypeString},
	{Field: FieldNegativmerkmaleUnternehmen, Type: TypeString},
	{Field: FieldNegativmerkmaleUnternehmer, Type: TypeString},
	{Field: FieldLandDesHauptsitzes, Type: TypeString},
	{Field: FieldGerichtsstand, Type: TypeString},
	{Field: FieldParagraph34GewO, Type: TypeBool},
	{Field: FieldGeschaeftsfuehrer, Type: TypeList},
	{Field: FieldGeschaeftsadresse, Type: TypeString},
	{Field: FieldTelefonnummer, Type: TypeString},
	{Field: FieldEmail, Type: TypeString},
	{Field: FieldWebsite, Type: TypeString},
	{Field: FieldURSearchResultsHTML, Type: TypeString, Only: SourceUnternehmensregister},
	{Field: FieldURJahresabschlussHTML, Type: TypeString, Only: SourceUnternehmensregister},
}

var schemaIndex = func() map[Field]*FieldSpec {
	idx := make(map[Field]*FieldSpec, len(schema))
	for i := range schema {
		idx[schema[i].Field] = &schema[i]
	}
	return idx
}()

// Schema returns the field declarations in canonical order.
func Schema() []FieldSpec {
	out := make([]FieldSpec, len(schema))
	copy(out, schema)
	return out
}

// Fields returns every field name in canonical order.
func Fields() []Field {
	out := make([]Field, len(schema))
	for i, s := range schema {
		out[i] = s.Field
	}
	return out
}

// ParseField looks up a field by its wire name. Unknown keys are an error.
func ParseField(key string) (Field, error) {
	if _, ok := schemaIndex[Field(key)]; !ok {
		return "", eris.Errorf("unknown field %q", key)
	}
	return Field(key), nil
}

// Spec returns the declaration for f, or nil for unknown fields.
func (f Field) Spec() *FieldSpec {
	return schemaIndex[f]
}

// Type returns the declared type of f.
func (f Field) Type() FieldType {
	if s := schemaIndex[f]; s != nil {
		return s.Type
	}
	return TypeString
}

// Validate coerces value to the declared Go representation of f:
// string, int64, float64, bool, time.Time (UTC midnight) or []string.
// Empty strings and empty lists are rejected.
func (f Field) Validate(value any) (any, error) {
	spec := schemaIndex[f]
	if spec == nil {
		return nil, eris.Errorf("unknown field %q", f)
	}
	if value == nil {
		return nil, eris.Errorf("field %s: nil value", f)
	}

	var (
		out any
		err error
	)
	switch spec.Type {
	case TypeString:
		out, err = coerceString(value)
	case TypeInt:
		out, err = coerceInt(value)
	case TypeFloat:
		out, err = coerceFloat(value)
	case TypeBool:
		out, err = coerceBool(value)
	case TypeDate:
		out, err = coerceDate(value)
	case TypeList:
		out, err = coerceList(value)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "field %s (%s)", f, spec.Type)
	}

	if s, ok := out.(string); ok {
		if spec.Pattern != nil && !spec.Pattern.MatchString(s) {
			return nil, eris.Errorf("field %s: %q does not match %s", f, s, spec.Pattern)
		}
		switch f {
		case FieldEmail:
			if _, perr := mail.ParseAddress(s); perr != nil {
				return nil, eris.Wrapf(perr, "field %s: invalid email", f)
			}
		case FieldWebsite:
			u, perr := url.Parse(s)
			if perr != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				return nil, eris.Errorf("field %s: invalid url %q", f, s)
			}
		}
	}
	if n, ok := out.(int64); ok && n < 0 {
		return nil, eris.Errorf("field %s: negative count %d", f, n)
	}
	return out, nil
}

func coerceString(v any) (string, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		return "", eris.Errorf("expected string, got %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", eris.New("empty string")
	}
	return s, nil
}

func coerceInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, eris.Errorf("non-integral number %v", n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, eris.Wrap(err, "parse int")
		}
		return i, nil
	default:
		return 0, eris.Errorf("expected integer, got %T", v)
	}
}

func coerceFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, eris.Wrap(err, "parse float")
		}
		f = parsed
	default:
		return 0, eris.Errorf("expected number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("non-finite number %v", f)
	}
	return f, nil
}

func coerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "ja", "yes":
			return true, nil
		case "false", "nein", "no":
			return false, nil
		}
		return false, eris.Errorf("unrecognized boolean %q", b)
	default:
		return false, eris.Errorf("expected bool, got %T", v)
	}
}

// Date layouts accepted for date fields.
var dateLayouts = []string{"2006-01-02", "02.01.2006"}

func coerceDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		if d.IsZero() {
			return time.Time{}, eris.New("zero date")
		}
		y, m, day := d.Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, eris.Errorf("unrecognized date %q", d)
	default:
		return time.Time{}, eris.Errorf("expected date, got %T", v)
	}
}

func coerceList(v any) ([]string, error) {
	var raw []string
	switch l := v.(type) {
	case []string:
		raw = l
	case []any:
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, eris.Errorf("list element %T is not a string", item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, eris.Errorf("expected list, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, eris.New("empty list")
	}
	return out, nil
}
