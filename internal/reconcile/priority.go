package reconcile

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/registry-crawler/internal/model"
)

// PriorityTable orders sources per field. Fields without an override use
// Default. Every order must list each known source exactly once.
type PriorityTable struct {
	Default []model.Source
	Fields  map[model.Field][]model.Source
}

// DefaultTable returns the global order: authoritative filings first,
// scraped secondary signals last.
func DefaultTable() PriorityTable {
	return PriorityTable{Default: slices.Clone(model.Sources)}
}

// Order returns the source order that applies to f.
func (t PriorityTable) Order(f model.Field) []model.Source {
	if o, ok := t.Fields[f]; ok {
		return o
	}
	return t.Default
}

// Validate checks that every order is a permutation of the known sources
// and that overrides only name schema fields.
func (t PriorityTable) Validate() error {
	if err := checkOrder(t.Default); err != nil {
		return eris.Wrap(err, "reconcile: default order")
	}
	for f, o := range t.Fields {
		if f.Spec() == nil {
			return eris.Errorf("reconcile: override for unknown field %q", f)
		}
		if err := checkOrder(o); err != nil {
			return eris.Wrapf(err, "reconcile: order for %s", f)
		}
	}
	return nil
}

func checkOrder(order []model.Source) error {
	if len(order) != len(model.Sources) {
		return eris.Errorf("want %d sources, got %d", len(model.Sources), len(order))
	}
	seen := make(map[model.Source]bool, len(order))
	for _, src := range order {
		if !slices.Contains(model.Sources, src) {
			return eris.Errorf("unknown source %q", src)
		}
		if seen[src] {
			return eris.Errorf("duplicate source %q", src)
		}
		seen[src] = true
	}
	return nil
}

type tableFile struct {
	Default []string            `yaml:"default"`
	Fields  map[string][]string `yaml:"fields"`
}

// LoadTable reads a priority table from a YAML file of the form
//
//	default: [handelsregister, northdata, unternehmensregister, linkedin]
//	fields:
//	  telefonnummer: [northdata, linkedin, handelsregister, unternehmensregister]
//
// An omitted default falls back to DefaultTable.
func LoadTable(path string) (PriorityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PriorityTable{}, eris.Wrapf(err, "reconcile: read %s", path)
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML priority table. See LoadTable.
func ParseTable(data []byte) (PriorityTable, error) {
	var raw tableFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return PriorityTable{}, eris.Wrap(err, "reconcile: parse priority table")
	}

	t := DefaultTable()
	if len(raw.Default) > 0 {
		order, err := parseOrder(raw.Default)
		if err != nil {
			return PriorityTable{}, err
		}
		t.Default = order
	}
	if len(raw.Fields) > 0 {
		t.Fields = make(map[model.Field][]model.Source, len(raw.Fields))
		for key, names := range raw.Fields {
			f, err := model.ParseField(key)
			if err != nil {
				return PriorityTable{}, eris.Wrap(err, "reconcile: priority table")
			}
			order, err := parseOrder(names)
			if err != nil {
				return PriorityTable{}, err
			}
			t.Fields[f] = order
		}
	}
	if err := t.Validate(); err != nil {
		return PriorityTable{}, err
	}
	return t, nil
}

func parseOrder(names []string) ([]model.Source, error) {
	out := make([]model.Source, 0, len(names))
	for _, n := range names {
		src, err := model.ParseSource(n)
		if err != nil {
			return nil, eris.Wrap(err, "reconcile: priority table")
		}
		out = append(out, src)
	}
	return out, nil
}
