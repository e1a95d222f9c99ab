package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/reconcile"
	"github.com/sells-group/registry-crawler/internal/resilience"
	"github.com/sells-group/registry-crawler/internal/source"
)

type fakeAdapter struct {
	src    model.Source
	fields map[model.Field]any
	docs   map[string]string
	err    error
	panic  bool
	delay  time.Duration
	// hang blocks for a second without watching ctx.
	hang  bool
	calls atomic.Int32
}

func (f *fakeAdapter) Name() model.Source { return f.src }

func (f *fakeAdapter) Fetch(ctx context.Context, id model.CompanyIdentifier) (*source.Result, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	if f.hang {
		time.Sleep(time.Second)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, source.Fail(f.src, source.KindTimeout, ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	res := source.NewResult(f.src, id)
	for k, v := range f.fields {
		if err := res.Partial.Set(k, v); err != nil {
			return nil, err
		}
	}
	for k, v := range f.docs {
		res.SetArtifact(k, v)
	}
	return res, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	created   int
	outcomes  []model.SourceOutcome
	completed json.RawMessage
	failed    string
	createErr error
}

func (r *fakeRecorder) CreateRun(_ context.Context, id model.CompanyIdentifier) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.created++
	return &model.Run{ID: "run-1", CompanyName: id.Name(), Status: model.RunStatusRunning}, nil
}

func (r *fakeRecorder) RecordSourceOutcome(_ context.Context, _ string, o model.SourceOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *fakeRecorder) CompleteRun(_ context.Context, _ string, record json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = record
	return nil
}

func (r *fakeRecorder) FailRun(_ context.Context, _ string, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = msg
	return nil
}

type panicMerger struct{}

func (panicMerger) Merge(model.CompanyIdentifier, []*model.PartialRecord) *model.MergedRecord {
	panic("corrupt state")
}

type staticDirectory map[string]string

func (d staticDirectory) LookupTaxID(id model.CompanyIdentifier) (string, bool) {
	v, ok := d[id.RegisterNumber()]
	return v, ok
}

func example(t *testing.T) model.CompanyIdentifier {
	t.Helper()
	id, err := model.NewIdentifier("Example GmbH", "HRB182742", "")
	require.NoError(t, err)
	return id
}

func engine() *reconcile.Engine { return reconcile.NewEngine(reconcile.DefaultTable()) }

func outcomeFor(t *testing.T, out *Outcome, src model.Source) model.SourceOutcome {
	t.Helper()
	for _, o := range out.Sources {
		if o.Source == src {
			return o
		}
	}
	t.Fatalf("no outcome for %s", src)
	return model.SourceOutcome{}
}

func TestRunMergesAllSources(t *testing.T) {
	t.Parallel()

	id := example(t)
	hr := &fakeAdapter{
		src:    model.SourceHandelsregister,
		fields: map[model.Field]any{model.FieldHandelsregister: "Hamburg", model.FieldGeschaeftsfuehrer: []string{"A Name"}},
		docs:   map[string]string{"xml": "<xjustiz/>"},
	}
	nd := &fakeAdapter{
		src:    model.SourceNorthdata,
		fields: map[model.Field]any{model.FieldHandelsregister: "Berlin", model.FieldUmsatz: 2300000.0},
		docs:   map[string]string{"html": "<section>USt-IdNr. DE123456789</section>"},
		delay:  20 * time.Millisecond,
	}
	o := New([]source.Adapter{nd, hr}, engine(), Config{})

	out, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	fv, ok := out.Record.Get(model.FieldHandelsregister)
	require.True(t, ok)
	assert.Equal(t, "Hamburg", fv.Value)
	fv, ok = out.Record.Get(model.FieldUmsatz)
	require.True(t, ok)
	assert.Equal(t, 2300000.0, fv.Value)
	assert.Equal(t, []model.Source{model.SourceHandelsregister, model.SourceNorthdata}, out.Record.DataSources())

	assert.Equal(t, "<xjustiz/>", *out.Artifacts[model.SourceHandelsregister]["xml"])
	assert.Nil(t, out.Artifacts[model.SourceHandelsregister]["pdf"])
	assert.Contains(t, out.Artifacts[model.SourceLinkedIn], "about_html")
	assert.Nil(t, out.Artifacts[model.SourceLinkedIn]["about_html"])
	assert.Len(t, out.Artifacts, len(model.Sources))

	assert.Equal(t, "DE123456789", out.ExtractedTaxID)
	assert.Equal(t, 2, out.Succeeded())
	assert.Equal(t, model.OutcomeSkipped, outcomeFor(t, out, model.SourceLinkedIn).Status)
	assert.Equal(t, 2, outcomeFor(t, out, model.SourceHandelsregister).Fields)
}

func TestRunFailedSourceIsolated(t *testing.T) {
	t.Parallel()

	id := example(t)
	nd := func() *fakeAdapter {
		return &fakeAdapter{src: model.SourceNorthdata, fields: map[model.Field]any{model.FieldUmsatz: 2300000.0, model.FieldHandelsregister: "Berlin"}}
	}
	ur := func() *fakeAdapter {
		return &fakeAdapter{src: model.SourceUnternehmensregister, fields: map[model.Field]any{model.FieldMitarbeiter: 12}}
	}

	failing := New([]source.Adapter{
		&fakeAdapter{src: model.SourceHandelsregister, err: source.Fail(model.SourceHandelsregister, source.KindTransportError, errors.New("connection reset"))},
		nd(), ur(),
	}, engine(), Config{})
	panicking := New([]source.Adapter{
		&fakeAdapter{src: model.SourceHandelsregister, panic: true},
		nd(), ur(),
	}, engine(), Config{})
	empty := New([]source.Adapter{
		&fakeAdapter{src: model.SourceHandelsregister},
		nd(), ur(),
	}, engine(), Config{})

	fOut, err := failing.Run(context.Background(), id)
	require.NoError(t, err)
	pOut, err := panicking.Run(context.Background(), id)
	require.NoError(t, err)
	eOut, err := empty.Run(context.Background(), id)
	require.NoError(t, err)

	fields := func(out *Outcome) map[model.Field]any {
		m := make(map[model.Field]any)
		for _, f := range out.Record.Fields() {
			fv, _ := out.Record.Get(f)
			m[f] = fv.Value
		}
		return m
	}
	assert.Equal(t, fields(eOut), fields(fOut))
	assert.Equal(t, fields(eOut), fields(pOut))
	assert.Equal(t, "Berlin", fields(fOut)[model.FieldHandelsregister])
	assert.NotContains(t, fOut.Record.DataSources(), model.SourceHandelsregister)
	assert.Equal(t, eOut.Record.DataSources(), fOut.Record.DataSources())

	hr := outcomeFor(t, fOut, model.SourceHandelsregister)
	assert.Equal(t, model.OutcomeFailed, hr.Status)
	assert.Equal(t, string(source.KindTransportError), hr.Kind)
	assert.Contains(t, hr.Error, "connection reset")
	assert.Equal(t, map[string]*string{"pdf": nil, "xml": nil}, fOut.Artifacts[model.SourceHandelsregister])

	hr = outcomeFor(t, pOut, model.SourceHandelsregister)
	assert.Equal(t, model.OutcomeFailed, hr.Status)
	assert.Equal(t, string(source.KindTransportError), hr.Kind)
	assert.Contains(t, hr.Error, "panic")

	assert.Equal(t, model.OutcomeEmpty, outcomeFor(t, eOut, model.SourceHandelsregister).Status)
}

func TestRunDegradableFailures(t *testing.T) {
	t.Parallel()

	id := example(t)
	o := New([]source.Adapter{
		&fakeAdapter{src: model.SourceNorthdata, err: source.Fail(model.SourceNorthdata, source.KindNotFound, errors.New("no hits"))},
		&fakeAdapter{src: model.SourceUnternehmensregister, err: source.Fail(model.SourceUnternehmensregister, source.KindParseFailure, errors.New("no form"))},
		&fakeAdapter{src: model.SourceLinkedIn, err: source.Fail(model.SourceLinkedIn, source.KindAuthenticationRequired, errors.New("no session"))},
	}, engine(), Config{})

	out, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 0, out.Record.Len())
	assert.Empty(t, out.Record.DataSources())
	assert.Equal(t, model.OutcomeEmpty, outcomeFor(t, out, model.SourceNorthdata).Status)
	assert.Equal(t, "not_found", outcomeFor(t, out, model.SourceNorthdata).Kind)
	assert.Equal(t, model.OutcomeEmpty, outcomeFor(t, out, model.SourceUnternehmensregister).Status)
	assert.Equal(t, model.OutcomeFailed, outcomeFor(t, out, model.SourceLinkedIn).Status)
	assert.Equal(t, "authentication_required", outcomeFor(t, out, model.SourceLinkedIn).Kind)
}

func TestRunZeroAdapters(t *testing.T) {
	t.Parallel()

	out, err := New(nil, engine(), Config{}).Run(context.Background(), example(t))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Record.Len())
	assert.Len(t, out.Sources, len(model.Sources))
	for _, src := range model.Sources {
		assert.Equal(t, source.EmptyArtifacts(src), out.Artifacts[src])
	}
}

func TestRunPerSourceTimeout(t *testing.T) {
	t.Parallel()

	id := example(t)
	slow := &fakeAdapter{src: model.SourceLinkedIn, delay: time.Second, fields: map[model.Field]any{model.FieldWebsite: "https://example.de"}}
	stuck := &fakeAdapter{src: model.SourceUnternehmensregister, hang: true, fields: map[model.Field]any{model.FieldMitarbeiter: 3}}
	fast := &fakeAdapter{src: model.SourceNorthdata, fields: map[model.Field]any{model.FieldWebsite: "https://nd.example.de"}}

	o := New([]source.Adapter{slow, stuck, fast}, engine(), Config{
		Timeouts: map[model.Source]time.Duration{
			model.SourceLinkedIn:             50 * time.Millisecond,
			model.SourceUnternehmensregister: 50 * time.Millisecond,
		},
	})

	start := time.Now()
	out, err := o.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	assert.Equal(t, model.OutcomeFailed, outcomeFor(t, out, model.SourceLinkedIn).Status)
	assert.Equal(t, "timeout", outcomeFor(t, out, model.SourceLinkedIn).Kind)
	assert.Equal(t, "timeout", outcomeFor(t, out, model.SourceUnternehmensregister).Kind)
	assert.Equal(t, model.OutcomeOK, outcomeFor(t, out, model.SourceNorthdata).Status)

	fv, ok := out.Record.Get(model.FieldWebsite)
	require.True(t, ok)
	assert.Equal(t, "https://nd.example.de", fv.Value)
	_, ok = out.Record.Get(model.FieldMitarbeiter)
	assert.False(t, ok)
}

func TestRunCircuitOpenSkipsSource(t *testing.T) {
	t.Parallel()

	id := example(t)
	breakers := resilience.NewSourceBreakers(resilience.BreakerSettings{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		ShouldTrip:       ShouldTrip,
	})
	hr := &fakeAdapter{src: model.SourceHandelsregister, err: source.Fail(model.SourceHandelsregister, source.KindTransportError, errors.New("503"))}
	o := New([]source.Adapter{hr}, engine(), Config{Breakers: breakers})

	_, err := o.Run(context.Background(), id)
	require.NoError(t, err)
	out, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, int32(1), hr.calls.Load())
	got := outcomeFor(t, out, model.SourceHandelsregister)
	assert.Equal(t, model.OutcomeSkipped, got.Status)
	assert.Equal(t, "circuit_open", got.Kind)
}

func TestRunCallerCancelKeepsCircuitClosed(t *testing.T) {
	t.Parallel()

	id := example(t)
	breakers := resilience.NewSourceBreakers(resilience.BreakerSettings{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		ShouldTrip:       ShouldTrip,
	})
	hr := &fakeAdapter{
		src:    model.SourceHandelsregister,
		fields: map[model.Field]any{model.FieldHandelsregister: "Hamburg"},
		delay:  200 * time.Millisecond,
	}
	o := New([]source.Adapter{hr}, engine(), Config{Breakers: breakers})

	for range 2 {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		out, err := o.Run(ctx, id)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeFailed, outcomeFor(t, out, model.SourceHandelsregister).Status)
	}
	assert.Equal(t, "closed", breakers.States()[model.SourceHandelsregister])

	out, err := o.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOK, outcomeFor(t, out, model.SourceHandelsregister).Status)
	assert.Equal(t, int32(3), hr.calls.Load())
}

func TestShouldTrip(t *testing.T) {
	t.Parallel()

	assert.True(t, ShouldTrip(source.Fail(model.SourceNorthdata, source.KindTransportError, nil)))
	assert.True(t, ShouldTrip(source.Fail(model.SourceNorthdata, source.KindTimeout, nil)))
	assert.False(t, ShouldTrip(source.Fail(model.SourceNorthdata, source.KindNotFound, nil)))
	assert.False(t, ShouldTrip(source.Fail(model.SourceNorthdata, source.KindParseFailure, nil)))
	assert.False(t, ShouldTrip(source.Fail(model.SourceLinkedIn, source.KindAuthenticationRequired, nil)))
}

func TestRunRecordsHistory(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	o := New([]source.Adapter{
		&fakeAdapter{src: model.SourceNorthdata, fields: map[model.Field]any{model.FieldUmsatz: 1.5}},
	}, engine(), Config{Recorder: rec})

	out, err := o.Run(context.Background(), example(t))
	require.NoError(t, err)

	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, 1, rec.created)
	assert.Len(t, rec.outcomes, len(model.Sources))
	require.NotEmpty(t, rec.completed)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(rec.completed, &stored))
	assert.Equal(t, map[string]any{"umsatz": 1.5}, stored["fields"])
	assert.Empty(t, rec.failed)
}

func TestRunRecorderFailureDoesNotFailCrawl(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{createErr: errors.New("db down")}
	o := New([]source.Adapter{
		&fakeAdapter{src: model.SourceNorthdata, fields: map[model.Field]any{model.FieldUmsatz: 1.5}},
	}, engine(), Config{Recorder: rec})

	out, err := o.Run(context.Background(), example(t))
	require.NoError(t, err)
	assert.Empty(t, out.RunID)
	assert.Equal(t, 1, out.Record.Len())
	assert.Empty(t, rec.outcomes)
}

func TestRunMergePanicIsTotalFailure(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	o := New([]source.Adapter{&fakeAdapter{src: model.SourceNorthdata}}, panicMerger{}, Config{Recorder: rec})

	out, err := o.Run(context.Background(), example(t))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "corrupt state")
	assert.Contains(t, rec.failed, "corrupt state")
}

func TestRunUsesDirectoryTaxID(t *testing.T) {
	t.Parallel()

	nd := &fakeAdapter{src: model.SourceNorthdata, docs: map[string]string{"html": "DE999999999"}}
	o := New([]source.Adapter{nd}, engine(), Config{Directory: staticDirectory{"HRB182742": "DE111111111"}})

	out, err := o.Run(context.Background(), example(t))
	require.NoError(t, err)
	assert.Equal(t, "DE111111111", out.Identifier.TaxID())
	assert.Empty(t, out.ExtractedTaxID)
}

func TestScanTaxIDOrder(t *testing.T) {
	t.Parallel()

	str := func(s string) *string { return &s }
	artifacts := map[model.Source]map[string]*string{
		model.SourceHandelsregister:      {"xml": str("<x>no vat</x>"), "pdf": str("DE000000001")},
		model.SourceNorthdata:            {"html": str("USt DE222222222")},
		model.SourceUnternehmensregister: {"jahresabschluss_html": str("DE333333333")},
	}
	assert.Equal(t, "DE222222222", scanTaxID(artifacts))

	artifacts[model.SourceHandelsregister]["xml"] = str("DE444444444")
	assert.Equal(t, "DE444444444", scanTaxID(artifacts))

	assert.Empty(t, scanTaxID(map[model.Source]map[string]*string{}))

	iban := map[model.Source]map[string]*string{
		model.SourceNorthdata: {"html": str("IBAN DE89370400440532013000")},
	}
	assert.Empty(t, scanTaxID(iban))
}
