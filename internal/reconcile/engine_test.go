package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-crawler/internal/model"
)

func example(t *testing.T) model.CompanyIdentifier {
	t.Helper()
	id, err := model.NewIdentifier("Example GmbH", "HRB182742", "")
	require.NoError(t, err)
	return id
}

func partial(t *testing.T, src model.Source, id model.CompanyIdentifier, kv map[model.Field]any) *model.PartialRecord {
	t.Helper()
	p := model.NewPartialRecord(src, id)
	for f, v := range kv {
		require.NoError(t, p.Set(f, v))
	}
	return p
}

func fixedEngine(table PriorityTable) *Engine {
	e := NewEngine(table)
	e.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func value(t *testing.T, rec *model.MergedRecord, f model.Field) model.FieldValue {
	t.Helper()
	fv, ok := rec.Get(f)
	require.True(t, ok, "field %s missing", f)
	return fv
}

func TestMergeScenario(t *testing.T) {
	t.Parallel()

	id := example(t)
	registry := partial(t, model.SourceHandelsregister, id, map[model.Field]any{
		model.FieldHandelsregister:   "Hamburg",
		model.FieldGeschaeftsfuehrer: []string{"A Name"},
	})
	aggregator := partial(t, model.SourceNorthdata, id, map[model.Field]any{
		model.FieldHandelsregister: "Berlin",
		model.FieldUmsatz:          2300000.0,
	})

	rec := fixedEngine(DefaultTable()).Merge(id, []*model.PartialRecord{aggregator, registry})

	assert.Equal(t, 3, rec.Len())
	assert.Equal(t, "Hamburg", value(t, rec, model.FieldHandelsregister).Value)
	assert.Equal(t, model.SourceHandelsregister, value(t, rec, model.FieldHandelsregister).Source)
	assert.Equal(t, []string{"A Name"}, value(t, rec, model.FieldGeschaeftsfuehrer).Value)
	assert.Equal(t, 2300000.0, value(t, rec, model.FieldUmsatz).Value)
	assert.Equal(t, model.SourceNorthdata, value(t, rec, model.FieldUmsatz).Source)
	assert.Equal(t, []model.Source{model.SourceHandelsregister, model.SourceNorthdata}, rec.DataSources())
}

func TestMergePriorityEveryPair(t *testing.T) {
	t.Parallel()

	id := example(t)
	order := DefaultTable().Default
	for i, high := range order {
		for _, low := range order[i+1:] {
			t.Run(string(high)+">"+string(low), func(t *testing.T) {
				t.Parallel()
				hp := partial(t, high, id, map[model.Field]any{model.FieldGeschaeftsadresse: "A"})
				lp := partial(t, low, id, map[model.Field]any{model.FieldGeschaeftsadresse: "B"})

				rec := fixedEngine(DefaultTable()).Merge(id, []*model.PartialRecord{lp, hp})
				fv := value(t, rec, model.FieldGeschaeftsadresse)
				assert.Equal(t, "A", fv.Value)
				assert.Equal(t, high, fv.Source)
				assert.Equal(t, []model.Source{high}, rec.DataSources())
			})
		}
	}
}

func TestMergeAbsentFieldsStayAbsent(t *testing.T) {
	t.Parallel()

	id := example(t)
	p := partial(t, model.SourceLinkedIn, id, map[model.Field]any{model.FieldMitarbeiter: 50})

	rec := fixedEngine(DefaultTable()).Merge(id, []*model.PartialRecord{p})

	assert.Equal(t, []model.Field{model.FieldMitarbeiter}, rec.Fields())
	assert.Equal(t, int64(50), value(t, rec, model.FieldMitarbeiter).Value)
	for _, f := range model.Fields() {
		if f == model.FieldMitarbeiter {
			continue
		}
		_, ok := rec.Get(f)
		assert.False(t, ok, "field %s should be absent", f)
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var out struct {
		Fields map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Len(t, out.Fields, 1)
}

func TestMergeListsNeverBlend(t *testing.T) {
	t.Parallel()

	id := example(t)
	hr := partial(t, model.SourceHandelsregister, id, map[model.Field]any{
		model.FieldGeschaeftsfuehrer: []string{"Anna Alt"},
	})
	nd := partial(t, model.SourceNorthdata, id, map[model.Field]any{
		model.FieldGeschaeftsfuehrer: []string{"Anna Alt", "Bernd Neu"},
		model.FieldSonstigeRechte:    []string{"LEI 5299001"},
	})
	ur := partial(t, model.SourceUnternehmensregister, id, map[model.Field]any{
		model.FieldSonstigeRechte: []string{"Wortmarke X"},
	})

	rec := fixedEngine(DefaultTable()).Merge(id, []*model.PartialRecord{ur, nd, hr})

	assert.Equal(t, []string{"Anna Alt"}, value(t, rec, model.FieldGeschaeftsfuehrer).Value)
	assert.Equal(t, []string{"LEI 5299001"}, value(t, rec, model.FieldSonstigeRechte).Value)
}

func TestMergeFailedSourceEqualsEmpty(t *testing.T) {
	t.Parallel()

	id := example(t)
	nd := partial(t, model.SourceNorthdata, id, map[model.Field]any{
		model.FieldHandelsregister: "Berlin",
		model.FieldUmsatz:          2300000.0,
	})
	ur := partial(t, model.SourceUnternehmensregister, id, map[model.Field]any{
		model.FieldMitarbeiter: 12,
		model.FieldUmsatz:      1.0,
	})
	e := fixedEngine(DefaultTable())

	failed := e.Merge(id, []*model.PartialRecord{nil, nd, ur})
	empty := e.Merge(id, []*model.PartialRecord{model.NewPartialRecord(model.SourceHandelsregister, id), nd, ur})
	omitted := e.Merge(id, []*model.PartialRecord{nd, ur})

	a, err := json.Marshal(failed)
	require.NoError(t, err)
	b, err := json.Marshal(empty)
	require.NoError(t, err)
	c, err := json.Marshal(omitted)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.JSONEq(t, string(a), string(c))

	assert.Equal(t, "Berlin", value(t, failed, model.FieldHandelsregister).Value)
	assert.Equal(t, 2300000.0, value(t, failed, model.FieldUmsatz).Value)
	assert.NotContains(t, failed.DataSources(), model.SourceHandelsregister)
}

func TestMergeIdempotent(t *testing.T) {
	t.Parallel()

	id := example(t)
	partials := []*model.PartialRecord{
		partial(t, model.SourceHandelsregister, id, map[model.Field]any{
			model.FieldGruendungsdatum: "2016-02-01",
			model.FieldInsolvenz:       false,
		}),
		partial(t, model.SourceNorthdata, id, map[model.Field]any{
			model.FieldWebsite: "https://example.de",
			model.FieldGewinn:  -12000.5,
		}),
	}

	e := NewEngine(DefaultTable())
	first, err := json.Marshal(e.Merge(id, partials))
	require.NoError(t, err)
	second, err := json.Marshal(e.Merge(id, partials))
	require.NoError(t, err)

	strip := func(data []byte) map[string]any {
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		delete(m, "scraped_at")
		return m
	}
	assert.Equal(t, strip(first), strip(second))

	fe := fixedEngine(DefaultTable())
	x, err := json.Marshal(fe.Merge(id, partials))
	require.NoError(t, err)
	y, err := json.Marshal(fe.Merge(id, partials))
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestMergeSkipsInvalidValues(t *testing.T) {
	t.Parallel()

	id := example(t)
	hr := partial(t, model.SourceHandelsregister, id, map[model.Field]any{
		model.FieldUstIdNr:     "DE12",
		model.FieldMitarbeiter: "viele",
		model.FieldEmail:       "   ",
	})
	nd := partial(t, model.SourceNorthdata, id, map[model.Field]any{
		model.FieldUstIdNr:     "DE123456789",
		model.FieldMitarbeiter: 7.0,
	})

	rec := fixedEngine(DefaultTable()).Merge(id, []*model.PartialRecord{hr, nd})

	assert.Equal(t, "DE123456789", value(t, rec, model.FieldUstIdNr).Value)
	assert.Equal(t, model.SourceNorthdata, value(t, rec, model.FieldUstIdNr).Source)
	assert.Equal(t, int64(7), value(t, rec, model.FieldMitarbeiter).Value)
	_, ok := rec.Get(model.FieldEmail)
	assert.False(t, ok)
	assert.Equal(t, []model.Source{model.SourceNorthdata}, rec.DataSources())
}

func TestMergeCoercesTypes(t *testing.T) {
	t.Parallel()

	id := example(t)
	p := partial(t, model.SourceHandelsregister, id, map[model.Field]any{
		model.FieldGruendungsdatum: "01.02.2016",
		model.FieldUmsatz:          11100000,
	})

	rec := fixedEngine(DefaultTable()).Merge(id, []*model.PartialRecord{p})

	assert.Equal(t, time.Date(2016, 2, 1, 0, 0, 0, 0, time.UTC), value(t, rec, model.FieldGruendungsdatum).Value)
	assert.Equal(t, 11100000.0, value(t, rec, model.FieldUmsatz).Value)
}

func TestMergeIgnoresForeignAndDuplicatePartials(t *testing.T) {
	t.Parallel()

	id := example(t)
	other, err := model.NewIdentifier("Other AG", "HRB1", "")
	require.NoError(t, err)

	foreign := partial(t, model.SourceHandelsregister, other, map[model.Field]any{model.FieldHandelsregister: "München"})
	first := partial(t, model.SourceNorthdata, id, map[model.Field]any{model.FieldHandelsregister: "Berlin"})
	second := partial(t, model.SourceNorthdata, id, map[model.Field]any{model.FieldHandelsregister: "Köln"})

	rec := fixedEngine(DefaultTable()).Merge(id, []*model.PartialRecord{foreign, first, second})

	fv := value(t, rec, model.FieldHandelsregister)
	assert.Equal(t, "Berlin", fv.Value)
	assert.Equal(t, model.SourceNorthdata, fv.Source)
}

func TestMergeMatchesCaseInsensitiveName(t *testing.T) {
	t.Parallel()

	id := example(t)
	variant, err := model.NewIdentifier("EXAMPLE GMBH", "HRB 182742", "")
	require.NoError(t, err)
	p := partial(t, model.SourceNorthdata, variant, map[model.Field]any{model.FieldTelefonnummer: "+49 40 123"})

	rec := fixedEngine(DefaultTable()).Merge(id, []*model.PartialRecord{p})
	assert.Equal(t, "+49 40 123", value(t, rec, model.FieldTelefonnummer).Value)
}

func TestMergeFieldOverride(t *testing.T) {
	t.Parallel()

	id := example(t)
	table := DefaultTable()
	table.Fields = map[model.Field][]model.Source{
		model.FieldTelefonnummer: {
			model.SourceLinkedIn,
			model.SourceNorthdata,
			model.SourceHandelsregister,
			model.SourceUnternehmensregister,
		},
	}
	require.NoError(t, table.Validate())

	hr := partial(t, model.SourceHandelsregister, id, map[model.Field]any{
		model.FieldTelefonnummer:     "+49 40 1",
		model.FieldGeschaeftsadresse: "Hafenstr. 1, 20095 Hamburg",
	})
	li := partial(t, model.SourceLinkedIn, id, map[model.Field]any{
		model.FieldTelefonnummer:     "+49 40 2",
		model.FieldGeschaeftsadresse: "Elsewhere 2",
	})

	rec := fixedEngine(table).Merge(id, []*model.PartialRecord{hr, li})

	assert.Equal(t, "+49 40 2", value(t, rec, model.FieldTelefonnummer).Value)
	assert.Equal(t, "Hafenstr. 1, 20095 Hamburg", value(t, rec, model.FieldGeschaeftsadresse).Value)
	assert.Equal(t, []model.Source{model.SourceHandelsregister, model.SourceLinkedIn}, rec.DataSources())
}

func TestMergeNoPartials(t *testing.T) {
	t.Parallel()

	id := example(t)
	rec := fixedEngine(DefaultTable()).Merge(id, nil)

	assert.Equal(t, 0, rec.Len())
	assert.Empty(t, rec.DataSources())
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), rec.ScrapedAt())
}

func TestExplain(t *testing.T) {
	t.Parallel()

	e := NewEngine(DefaultTable())
	got := e.Explain(model.FieldUmsatz)
	assert.Equal(t, []model.Source{
		model.SourceHandelsregister,
		model.SourceNorthdata,
		model.SourceUnternehmensregister,
		model.SourceLinkedIn,
	}, got)

	got[0] = model.SourceLinkedIn
	assert.Equal(t, model.SourceHandelsregister, e.Explain(model.FieldUmsatz)[0])
}
