// Package reconcile merges the partial records of several sources into one
// record under a declarative source priority table.
package reconcile

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/model"
)

// Engine merges partial records. It is safe for concurrent use.
type Engine struct {
	table PriorityTable
	now   func() time.Time
}

// NewEngine returns an engine using table. The table is assumed valid;
// use PriorityTable.Validate or LoadTable beforehand.
func NewEngine(table PriorityTable) *Engine {
	return &Engine{table: table, now: time.Now}
}

// Table returns the priority table in use.
func (e *Engine) Table() PriorityTable { return e.table }

// Explain returns the order in which sources are consulted for f.
func (e *Engine) Explain(f model.Field) []model.Source {
	return slices.Clone(e.table.Order(f))
}

// Merge reconciles partials for id. For each field the first source in
// priority order holding a valid value wins; lower-priority values are
// discarded. Nil partials, partials for another company and repeated
// sources are ignored. A value failing validation is logged and the next
// source is consulted.
func (e *Engine) Merge(id model.CompanyIdentifier, partials []*model.PartialRecord) *model.MergedRecord {
	log := zap.L().With(
		zap.String("company", id.Name()),
		zap.String("register_number", id.RegisterNumber()),
	)

	bySource := make(map[model.Source]*model.PartialRecord, len(partials))
	for _, p := range partials {
		if p == nil {
			continue
		}
		if !p.Identifier.Matches(id) {
			log.Warn("reconcile: skipping partial for another company",
				zap.String("source", string(p.Source)),
				zap.String("partial_company", p.Identifier.Name()),
				zap.String("partial_register_number", p.Identifier.RegisterNumber()),
			)
			continue
		}
		if _, dup := bySource[p.Source]; dup {
			log.Warn("reconcile: duplicate partial ignored", zap.String("source", string(p.Source)))
			continue
		}
		bySource[p.Source] = p
	}

	var winners []model.FieldValue
	for _, f := range model.Fields() {
		if fv, ok := e.pick(log, f, bySource); ok {
			winners = append(winners, fv)
		}
	}

	rec := model.NewMergedRecord(id, winners, e.now())
	log.Debug("reconcile: merged",
		zap.Int("fields", rec.Len()),
		zap.Int("partials", len(bySource)),
		zap.Any("data_sources", rec.DataSources()),
	)
	return rec
}

func (e *Engine) pick(log *zap.Logger, f model.Field, bySource map[model.Source]*model.PartialRecord) (model.FieldValue, bool) {
	for _, src := range e.table.Order(f) {
		fv, ok := bySource[src].Get(f)
		if !ok {
			continue
		}
		v, err := f.Validate(fv.Value)
		if err != nil {
			log.Warn("reconcile: rejecting invalid value",
				zap.String("field", string(f)),
				zap.String("source", string(src)),
				zap.Error(err),
			)
			continue
		}
		fv.Value = v
		return fv, true
	}
	return model.FieldValue{}, false
}
