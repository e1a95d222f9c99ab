package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/artifact"
	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/directory"
	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/ocr"
	"github.com/sells-group/registry-crawler/internal/orchestrator"
	"github.com/sells-group/registry-crawler/internal/reconcile"
	"github.com/sells-group/registry-crawler/internal/resilience"
	"github.com/sells-group/registry-crawler/internal/scrape"
	"github.com/sells-group/registry-crawler/internal/source"
	"github.com/sells-group/registry-crawler/internal/store"
	"github.com/sells-group/registry-crawler/pkg/jina"
)

// crawlerEnv holds the store and orchestrator needed by the crawl, batch
// and serve commands.
type crawlerEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the environment.
func (ce *crawlerEnv) Close() {
	if ce.Store != nil {
		_ = ce.Store.Close()
	}
}

// initStore opens the configured run history store and applies its schema.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initCrawler validates config for mode, opens the store and builds the
// orchestrator over every enabled source. Callers should defer env.Close().
func initCrawler(ctx context.Context, mode string) (*crawlerEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	orch, err := buildOrchestrator(ctx, cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &crawlerEnv{Store: st, Orchestrator: orch}, nil
}

// buildOrchestrator wires adapters, reconciliation and run recording from c.
// rec may be nil, in which case runs are not persisted.
func buildOrchestrator(ctx context.Context, c *config.Config, rec orchestrator.Recorder) (*orchestrator.Orchestrator, error) {
	adapters, err := buildAdapters(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		zap.L().Warn("no sources enabled, crawls will return empty records")
	}

	table := reconcile.DefaultTable()
	if c.Crawl.PrioritiesFile != "" {
		table, err = reconcile.LoadTable(c.Crawl.PrioritiesFile)
		if err != nil {
			return nil, err
		}
		zap.L().Info("loaded field priorities", zap.String("path", c.Crawl.PrioritiesFile))
	}

	settings := resilience.SettingsFromConfig(c.Breaker)
	settings.ShouldTrip = orchestrator.ShouldTrip

	oc := orchestrator.ConfigFromSettings(c)
	oc.Breakers = resilience.NewSourceBreakers(settings)
	if rec != nil {
		oc.Recorder = rec
	}
	if c.Crawl.DirectoryFile != "" {
		oc.Directory = directory.New(c.Crawl.DirectoryFile)
	}

	return orchestrator.New(adapters, reconcile.NewEngine(table), oc), nil
}

// buildAdapters constructs the enabled source adapters in default priority
// order.
func buildAdapters(ctx context.Context, c *config.Config) ([]source.Adapter, error) {
	artifacts, err := artifact.New(ctx, c.Artifacts)
	if err != nil {
		return nil, eris.Wrap(err, "init artifact store")
	}

	limiters := fetcher.NewLimiters(c.Fetch.RatePerSecond, 1)
	opts := fetcher.OptionsFromConfig(c.Fetch, limiters)

	var adapters []source.Adapter

	if c.Sources.Handelsregister.Enabled {
		extractor, err := ocr.NewExtractor(c.OCR)
		if err != nil {
			return nil, eris.Wrap(err, "init ocr")
		}
		adapters = append(adapters, source.NewHandelsregister(c.Sources.Handelsregister, opts, extractor, artifacts))
	}

	if c.Sources.Northdata.Enabled {
		scrapers := []scrape.Scraper{scrape.NewLocalScraper(fetcher.NewSession(opts))}
		if c.Jina.Key != "" {
			scrapers = append(scrapers, scrape.NewJinaAdapter(jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL))))
		} else {
			zap.L().Debug("CRAWLER_JINA_KEY not set, reader fallback disabled")
		}
		adapters = append(adapters, source.NewNorthdata(c.Sources.Northdata, scrape.NewChain(scrapers...), artifacts))
	}

	if c.Sources.Unternehmensregister.Enabled {
		adapters = append(adapters, source.NewUnternehmensregister(c.Sources.Unternehmensregister, opts))
	}

	if c.Sources.LinkedIn.Enabled {
		adapters = append(adapters, source.NewLinkedIn(c.Sources.LinkedIn, opts))
	}

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, string(a.Name()))
	}
	zap.L().Info("sources enabled", zap.Strings("sources", names))

	return adapters, nil
}
