package model

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/rotisserie/eris"
)

// FieldValue is one extracted datum together with where it came from.
type FieldValue struct {
	Field       Field     `json:"field"`
	Value       any       `json:"value"`
	Source      Source    `json:"source"`
	Document    Document  `json:"document,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// PartialRecord is the best-effort extraction of one source for one company.
// It holds at most one value per field. Values are stored as reported; type
// validation happens when records are merged.
type PartialRecord struct {
	Source     Source
	Identifier CompanyIdentifier
	values     map[Field]FieldValue
	now        func() time.Time
}

// NewPartialRecord returns an empty record for src.
func NewPartialRecord(src Source, id CompanyIdentifier) *PartialRecord {
	return &PartialRecord{
		Source:     src,
		Identifier: id,
		values:     make(map[Field]FieldValue),
		now:        time.Now,
	}
}

// Set stores value for f. See SetFrom.
func (p *PartialRecord) Set(f Field, value any) error {
	return p.SetFrom(DocumentNone, f, value)
}

// SetFrom stores value for f as extracted from doc. A value that passes
// Field.Validate always displaces one that does not; between two values of
// equal validity the higher-ranked document wins and ties keep the first.
// Unknown fields, nil values and fields reserved for another source are
// rejected.
func (p *PartialRecord) SetFrom(doc Document, f Field, value any) error {
	spec := f.Spec()
	if spec == nil {
		return eris.Errorf("partial %s: unknown field %q", p.Source, f)
	}
	if spec.Only != "" && spec.Only != p.Source {
		return eris.Errorf("partial %s: field %s is reserved for %s", p.Source, f, spec.Only)
	}
	if value == nil {
		return eris.Errorf("partial %s: nil value for %s", p.Source, f)
	}
	if existing, ok := p.values[f]; ok && !displaces(f, doc, value, existing) {
		return nil
	}
	p.values[f] = FieldValue{
		Field:       f,
		Value:       value,
		Source:      p.Source,
		Document:    doc,
		ExtractedAt: p.now().UTC(),
	}
	return nil
}

func displaces(f Field, doc Document, value any, existing FieldValue) bool {
	_, err := f.Validate(value)
	_, oldErr := f.Validate(existing.Value)
	if (err == nil) != (oldErr == nil) {
		return err == nil
	}
	return doc.Outranks(existing.Document)
}

// Get returns the value stored for f.
func (p *PartialRecord) Get(f Field) (FieldValue, bool) {
	if p == nil {
		return FieldValue{}, false
	}
	v, ok := p.values[f]
	return v, ok
}

// Len returns the number of fields present.
func (p *PartialRecord) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

// Values returns the stored values in schema order.
func (p *PartialRecord) Values() []FieldValue {
	if p == nil {
		return nil
	}
	out := make([]FieldValue, 0, len(p.values))
	for _, f := range Fields() {
		if v, ok := p.values[f]; ok {
			out = append(out, v)
		}
	}
	return out
}

// MergedRecord is the reconciled view of one company. It is built once by
// NewMergedRecord and never mutated afterwards.
type MergedRecord struct {
	identifier  CompanyIdentifier
	values      map[Field]FieldValue
	dataSources []Source
	scrapedAt   time.Time
}

// NewMergedRecord builds a record from the winning values. DataSources is
// derived from the values, so it holds exactly the contributing sources.
func NewMergedRecord(id CompanyIdentifier, winners []FieldValue, scrapedAt time.Time) *MergedRecord {
	m := &MergedRecord{
		identifier: id,
		values:     make(map[Field]FieldValue, len(winners)),
		scrapedAt:  scrapedAt.UTC(),
	}
	seen := make(map[Source]bool)
	for _, fv := range winners {
		m.values[fv.Field] = fv
		seen[fv.Source] = true
	}
	for _, src := range Sources {
		if seen[src] {
			m.dataSources = append(m.dataSources, src)
		}
	}
	return m
}

// Identifier returns the company the record describes.
func (m *MergedRecord) Identifier() CompanyIdentifier { return m.identifier }

// ScrapedAt returns when the merge completed.
func (m *MergedRecord) ScrapedAt() time.Time { return m.scrapedAt }

// Get returns the merged value for f.
func (m *MergedRecord) Get(f Field) (FieldValue, bool) {
	v, ok := m.values[f]
	return v, ok
}

// Len returns the number of fields present.
func (m *MergedRecord) Len() int { return len(m.values) }

// Fields returns the present fields in schema order.
func (m *MergedRecord) Fields() []Field {
	out := make([]Field, 0, len(m.values))
	for _, f := range Fields() {
		if _, ok := m.values[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// DataSources returns the sources that contributed at least one field.
func (m *MergedRecord) DataSources() []Source {
	return slices.Clone(m.dataSources)
}

// Provenance returns the contributing source for every present field.
func (m *MergedRecord) Provenance() map[Field]Provenance {
	out := make(map[Field]Provenance, len(m.values))
	for f, v := range m.values {
		out[f] = provenanceOf(v)
	}
	return out
}

type identifierJSON struct {
	CompanyName    string `json:"company_name"`
	RegisterNumber string `json:"register_number"`
	TaxID          string `json:"tax_id,omitempty"`
}

type mergedRecordJSON struct {
	Identifier    identifierJSON        `json:"identifier"`
	Fields        map[string]any        `json:"fields"`
	Provenance    map[string]Provenance `json:"provenance"`
	DataSources   []Source              `json:"data_sources"`
	ScrapedAt     time.Time             `json:"scraped_at"`
	SchemaVersion int                   `json:"schema_version"`
}

// MarshalJSON renders the record with dates as YYYY-MM-DD. Map keys are
// sorted by encoding/json, so output is stable for equal records.
func (m *MergedRecord) MarshalJSON() ([]byte, error) {
	out := mergedRecordJSON{
		Identifier: identifierJSON{
			CompanyName:    m.identifier.Name(),
			RegisterNumber: m.identifier.RegisterNumber(),
			TaxID:          m.identifier.TaxID(),
		},
		Fields:        make(map[string]any, len(m.values)),
		Provenance:    make(map[string]Provenance, len(m.values)),
		DataSources:   m.DataSources(),
		ScrapedAt:     m.scrapedAt,
		SchemaVersion: SchemaVersion,
	}
	if out.DataSources == nil {
		out.DataSources = []Source{}
	}
	for f, v := range m.values {
		val := v.Value
		if t, ok := val.(time.Time); ok {
			val = t.Format("2006-01-02")
		}
		out.Fields[string(f)] = val
		out.Provenance[string(f)] = provenanceOf(v)
	}
	return json.Marshal(out)
}
