// Package orchestrator fans a crawl out to every source adapter, waits for
// all of them and merges whatever they returned.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/extract"
	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/resilience"
	"github.com/sells-group/registry-crawler/internal/source"
)

// Merger reconciles partial records into one record.
type Merger interface {
	Merge(id model.CompanyIdentifier, partials []*model.PartialRecord) *model.MergedRecord
}

// Recorder persists run history. Recording failures are logged and never
// fail a crawl.
type Recorder interface {
	CreateRun(ctx context.Context, id model.CompanyIdentifier) (*model.Run, error)
	RecordSourceOutcome(ctx context.Context, runID string, o model.SourceOutcome) error
	CompleteRun(ctx context.Context, runID string, record json.RawMessage) error
	FailRun(ctx context.Context, runID string, msg string) error
}

// Directory resolves a known tax id for a company.
type Directory interface {
	LookupTaxID(id model.CompanyIdentifier) (string, bool)
}

// Config holds the orchestrator's collaborators and time budgets.
type Config struct {
	// Timeouts bounds each source. Sources without an entry use DefaultTimeout.
	Timeouts       map[model.Source]time.Duration
	DefaultTimeout time.Duration
	// CrawlTimeout bounds the whole fan-out.
	CrawlTimeout time.Duration
	Breakers     *resilience.SourceBreakers
	Recorder     Recorder
	Directory    Directory
}

// ConfigFromSettings derives the time budgets from application settings.
func ConfigFromSettings(cfg *config.Config) Config {
	secs := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return Config{
		Timeouts: map[model.Source]time.Duration{
			model.SourceHandelsregister:      secs(cfg.Sources.Handelsregister.TimeoutSecs),
			model.SourceNorthdata:            secs(cfg.Sources.Northdata.TimeoutSecs),
			model.SourceUnternehmensregister: secs(cfg.Sources.Unternehmensregister.TimeoutSecs),
			model.SourceLinkedIn:             secs(cfg.Sources.LinkedIn.TimeoutSecs),
		},
		CrawlTimeout: secs(cfg.Crawl.TimeoutSecs),
	}
}

// ShouldTrip is the breaker filter for source failures. Only transport
// errors and timeouts count against a source; empty results do not.
func ShouldTrip(err error) bool {
	switch source.KindOf(err) {
	case source.KindTransportError, source.KindTimeout:
		return true
	default:
		return false
	}
}

const defaultSourceTimeout = 2 * time.Minute

// Orchestrator runs one crawl per call. It is safe for concurrent use.
type Orchestrator struct {
	adapters []source.Adapter
	merger   Merger
	cfg      Config
}

// New creates an Orchestrator over adapters.
func New(adapters []source.Adapter, merger Merger, cfg Config) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultSourceTimeout
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewSourceBreakers(resilience.BreakerSettings{ShouldTrip: ShouldTrip})
	}
	return &Orchestrator{adapters: adapters, merger: merger, cfg: cfg}
}

// Breakers exposes the per-source breakers for health reporting.
func (o *Orchestrator) Breakers() *resilience.SourceBreakers { return o.cfg.Breakers }

// Outcome is the result of one crawl.
type Outcome struct {
	RunID      string
	Identifier model.CompanyIdentifier
	Record     *model.MergedRecord
	// Artifacts holds every artifact key of every known source; nil entries
	// were not obtained.
	Artifacts map[model.Source]map[string]*string
	Sources   []model.SourceOutcome
	// ExtractedTaxID is a VAT id found in the raw documents when none was
	// supplied or known.
	ExtractedTaxID string
}

// Succeeded reports how many sources contributed at least one field.
func (out *Outcome) Succeeded() int {
	n := 0
	for _, s := range out.Sources {
		if s.Status == model.OutcomeOK {
			n++
		}
	}
	return n
}

type sourceRun struct {
	result  *source.Result
	outcome model.SourceOutcome
}

// Run crawls id across all adapters. Adapter failures never surface as an
// error; they are logged and treated as an empty contribution. An error is
// returned only when the orchestration itself breaks down.
func (o *Orchestrator) Run(ctx context.Context, id model.CompanyIdentifier) (out *Outcome, err error) {
	if id.TaxID() == "" && o.cfg.Directory != nil {
		if tax, ok := o.cfg.Directory.LookupTaxID(id); ok {
			id = id.WithTaxID(tax)
		}
	}

	log := zap.L().With(
		zap.String("company", id.Name()),
		zap.String("register_number", id.RegisterNumber()),
	)
	log.Info("orchestrator: starting crawl", zap.Int("sources", len(o.adapters)))
	start := time.Now()

	runID := o.createRun(ctx, log, id)

	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator: panic during crawl",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			out = nil
			err = eris.Errorf("orchestrator: crawl failed: %v", r)
		}
		if err != nil {
			o.failRun(log, runID, err)
		}
	}()

	crawlCtx := ctx
	if o.cfg.CrawlTimeout > 0 {
		var cancel context.CancelFunc
		crawlCtx, cancel = context.WithTimeout(ctx, o.cfg.CrawlTimeout)
		defer cancel()
	}

	runs := make([]sourceRun, len(o.adapters))
	var g errgroup.Group
	for i, a := range o.adapters {
		g.Go(func() error {
			runs[i] = o.runSource(crawlCtx, log, a, id)
			return nil
		})
	}
	_ = g.Wait()

	out = &Outcome{
		RunID:      runID,
		Identifier: id,
		Artifacts:  make(map[model.Source]map[string]*string, len(model.Sources)),
	}
	partials := make([]*model.PartialRecord, 0, len(runs))
	ran := make(map[model.Source]bool, len(runs))
	for _, r := range runs {
		src := r.outcome.Source
		ran[src] = true
		out.Sources = append(out.Sources, r.outcome)
		out.Artifacts[src] = collectArtifacts(src, r.result)
		if r.result != nil && r.outcome.Status == model.OutcomeOK {
			partials = append(partials, r.result.Partial)
		}
	}
	for _, src := range model.Sources {
		if ran[src] {
			continue
		}
		out.Sources = append(out.Sources, model.SourceOutcome{Source: src, Status: model.OutcomeSkipped, Kind: "disabled"})
		out.Artifacts[src] = source.EmptyArtifacts(src)
	}

	out.Record = o.merger.Merge(id, partials)
	if id.TaxID() == "" {
		out.ExtractedTaxID = scanTaxID(out.Artifacts)
	}

	o.recordOutcome(log, runID, out)
	log.Info("orchestrator: crawl complete",
		zap.Int("fields", out.Record.Len()),
		zap.Int("sources_ok", out.Succeeded()),
		zap.Any("data_sources", out.Record.DataSources()),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (o *Orchestrator) runSource(ctx context.Context, log *zap.Logger, a source.Adapter, id model.CompanyIdentifier) sourceRun {
	src := a.Name()
	timeout := o.cfg.DefaultTimeout
	if d, ok := o.cfg.Timeouts[src]; ok && d > 0 {
		timeout = d
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := resilience.ExecuteVal(sctx, o.cfg.Breakers.For(src), func(ctx context.Context) (*source.Result, error) {
		return fetch(ctx, a, id)
	})
	outcome := model.SourceOutcome{Source: src, DurationMs: time.Since(start).Milliseconds()}
	slog := log.With(zap.String("source", string(src)), zap.Int64("duration_ms", outcome.DurationMs))

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		outcome.Status = model.OutcomeSkipped
		outcome.Kind = "circuit_open"
		outcome.Error = err.Error()
		slog.Warn("orchestrator: source skipped, circuit open")
		return sourceRun{outcome: outcome}
	case err != nil && source.Degradable(err):
		outcome.Status = model.OutcomeEmpty
		outcome.Kind = string(source.KindOf(err))
		outcome.Error = err.Error()
		slog.Info("orchestrator: source returned nothing", zap.String("kind", outcome.Kind), zap.Error(err))
		return sourceRun{result: res, outcome: outcome}
	case err != nil:
		outcome.Status = model.OutcomeFailed
		outcome.Kind = string(source.KindOf(err))
		outcome.Error = err.Error()
		slog.Warn("orchestrator: source failed", zap.String("kind", outcome.Kind), zap.Error(err))
		return sourceRun{result: res, outcome: outcome}
	case res == nil || res.Partial == nil:
		outcome.Status = model.OutcomeEmpty
		return sourceRun{result: res, outcome: outcome}
	}

	outcome.Fields = res.Partial.Len()
	if outcome.Fields == 0 {
		outcome.Status = model.OutcomeEmpty
	} else {
		outcome.Status = model.OutcomeOK
	}
	slog.Info("orchestrator: source done", zap.Int("fields", outcome.Fields))
	return sourceRun{result: res, outcome: outcome}
}

type fetchResult struct {
	res *source.Result
	err error
}

// fetch runs one adapter call. The call is abandoned when ctx expires even
// if the adapter ignores cancellation, and a panic becomes a transport error.
func fetch(ctx context.Context, a source.Adapter, id model.CompanyIdentifier) (*source.Result, error) {
	src := a.Name()
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("orchestrator: adapter panic",
					zap.String("source", string(src)),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- fetchResult{err: source.Fail(src, source.KindTransportError, fmt.Errorf("panic: %v", r))}
			}
		}()
		res, err := a.Fetch(ctx, id)
		done <- fetchResult{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && !isFetchError(r.err) {
			r.err = source.Fail(src, source.KindOf(r.err), r.err)
		}
		return r.res, r.err
	case <-ctx.Done():
		return nil, source.Fail(src, source.KindTimeout, ctx.Err())
	}
}

func isFetchError(err error) bool {
	var fe *source.FetchError
	return errors.As(err, &fe)
}

// collectArtifacts returns every declared artifact key of src, filled from
// res where present.
func collectArtifacts(src model.Source, res *source.Result) map[string]*string {
	out := source.EmptyArtifacts(src)
	if res == nil {
		return out
	}
	for name := range out {
		if v, ok := res.Artifacts[name]; ok {
			out[name] = v
		}
	}
	return out
}

// taxIDScanOrder lists the raw documents searched for a VAT id, most
// authoritative first.
var taxIDScanOrder = []struct {
	source   model.Source
	artifact string
}{
	{model.SourceHandelsregister, "xml"},
	{model.SourceNorthdata, "html"},
	{model.SourceUnternehmensregister, "jahresabschluss_html"},
}

func scanTaxID(artifacts map[model.Source]map[string]*string) string {
	for _, s := range taxIDScanOrder {
		doc := artifacts[s.source][s.artifact]
		if doc == nil {
			continue
		}
		if vat := extract.FindVATID(*doc); vat != "" {
			return vat
		}
	}
	return ""
}

func (o *Orchestrator) createRun(ctx context.Context, log *zap.Logger, id model.CompanyIdentifier) string {
	if o.cfg.Recorder == nil {
		return ""
	}
	run, err := o.cfg.Recorder.CreateRun(ctx, id)
	if err != nil {
		log.Warn("orchestrator: failed to create run", zap.Error(err))
		return ""
	}
	return run.ID
}

func (o *Orchestrator) recordOutcome(log *zap.Logger, runID string, out *Outcome) {
	if o.cfg.Recorder == nil || runID == "" {
		return
	}
	// Persist even if the caller's context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, so := range out.Sources {
		if err := o.cfg.Recorder.RecordSourceOutcome(ctx, runID, so); err != nil {
			log.Warn("orchestrator: failed to record source outcome", zap.String("source", string(so.Source)), zap.Error(err))
		}
	}
	data, err := json.Marshal(out.Record)
	if err != nil {
		log.Warn("orchestrator: failed to marshal record", zap.Error(err))
		return
	}
	if err := o.cfg.Recorder.CompleteRun(ctx, runID, data); err != nil {
		log.Warn("orchestrator: failed to complete run", zap.Error(err))
	}
}

func (o *Orchestrator) failRun(log *zap.Logger, runID string, cause error) {
	if o.cfg.Recorder == nil || runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.cfg.Recorder.FailRun(ctx, runID, cause.Error()); err != nil {
		log.Warn("orchestrator: failed to mark run failed", zap.Error(err))
	}
}
