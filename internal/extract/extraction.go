// Package extract pulls company fields out of documents retrieved from the
// registry portal and other sources.
package extract

import (
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/model"
)

// Extraction is the result of reading one document. Fields holds values in
// the shared vocabulary; Extras holds values outside the schema that are
// only logged.
type Extraction struct {
	Fields map[model.Field]any
	Extras map[string]any
}

// NewExtraction returns an empty Extraction.
func NewExtraction() *Extraction {
	return &Extraction{
		Fields: make(map[model.Field]any),
		Extras: make(map[string]any),
	}
}

// Set records v for f, keeping the first value seen.
func (e *Extraction) Set(f model.Field, v any) {
	if _, ok := e.Fields[f]; ok || v == nil {
		return
	}
	e.Fields[f] = v
}

// Len returns the number of schema fields found.
func (e *Extraction) Len() int { return len(e.Fields) }

// Apply copies the fields into p, tagged with doc. Rejected fields are logged.
func (e *Extraction) Apply(p *model.PartialRecord, doc model.Document) int {
	applied := 0
	for _, f := range model.Fields() {
		v, ok := e.Fields[f]
		if !ok {
			continue
		}
		if err := p.SetFrom(doc, f, v); err != nil {
			zap.L().Warn("extract: field rejected",
				zap.String("source", string(p.Source)),
				zap.String("field", string(f)),
				zap.Error(err),
			)
			continue
		}
		applied++
	}
	if len(e.Extras) > 0 {
		zap.L().Debug("extract: values outside schema",
			zap.String("source", string(p.Source)),
			zap.String("document", string(doc)),
			zap.Any("extras", e.Extras),
		)
	}
	return applied
}
