package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/registry-crawler/internal/api"
	"github.com/sells-group/registry-crawler/internal/directory"
	"github.com/sells-group/registry-crawler/internal/export"
	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/orchestrator"
)

var (
	batchInput string
	batchSheet string
	batchOut   string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Crawl every company in a JSON or XLSX list",
	Long: "Reads companies from a companies.json style list or a spreadsheet with company_name and register_number columns, " +
		"crawls them concurrently and writes JSON lines or an XLSX summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input := batchInput
		if input == "" {
			input = cfg.Crawl.DirectoryFile
		}
		entries, err := readBatchInput(input, batchSheet)
		if err != nil {
			return err
		}

		env, err := initCrawler(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		items, err := processBatch(ctx, entries, batchLimit, cfg.Batch.MaxConcurrentCompanies, env.Orchestrator.Run)
		if err != nil {
			return err
		}
		return writeBatchOutput(batchOut, items)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "company list (.json or .xlsx); defaults to crawl.directory_file")
	batchCmd.Flags().StringVar(&batchSheet, "sheet", "", "sheet name for .xlsx input (default first sheet)")
	batchCmd.Flags().StringVar(&batchOut, "out", "-", "output: .xlsx summary, a JSON lines file, or - for stdout")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of companies to process")
	rootCmd.AddCommand(batchCmd)
}

// readBatchInput loads entries from a JSON list or a spreadsheet, chosen by
// file extension.
func readBatchInput(path, sheet string) ([]directory.Entry, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return directory.ReadEntriesXLSX(path, sheet)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open input")
	}
	defer f.Close() //nolint:errcheck

	return directory.ReadEntries(f)
}

// crawlFunc is the callback signature for crawling one company.
type crawlFunc func(ctx context.Context, id model.CompanyIdentifier) (*orchestrator.Outcome, error)

// batchItem is one company's batch result, in input order.
type batchItem struct {
	Entry   directory.Entry
	ID      model.CompanyIdentifier
	Outcome *orchestrator.Outcome
	Err     error
}

// processBatch applies limit, then crawls entries concurrently. Individual
// failures are recorded on their item and never abort the batch.
func processBatch(ctx context.Context, entries []directory.Entry, limit, concurrency int, crawl crawlFunc) ([]batchItem, error) {
	if len(entries) == 0 {
		zap.L().Info("no companies to process")
		return nil, nil
	}

	// Apply limit
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("companies", len(entries)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	items := make([]batchItem, len(entries))

	for i, entry := range entries {
		items[i].Entry = entry
		id, err := entry.Identifier()
		if err != nil {
			failed.Add(1)
			items[i].Err = err
			zap.L().Warn("skipping invalid company", zap.String("company", entry.CompanyName), zap.Error(err))
			continue
		}
		items[i].ID = id

		g.Go(func() error {
			log := zap.L().With(zap.String("company", id.Name()), zap.String("register_number", id.RegisterNumber()))

			out, err := crawl(gctx, id)
			if err != nil {
				failed.Add(1)
				items[i].Err = err
				log.Error("crawl failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			items[i].Outcome = out
			log.Info("crawl complete",
				zap.Int("sources_ok", out.Succeeded()),
				zap.Int("fields_found", out.Record.Len()),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return items, nil
}

// writeBatchOutput writes an XLSX summary when path ends in .xlsx, and one
// JSON response per line otherwise.
func writeBatchOutput(path string, items []batchItem) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return export.WriteXLSX(path, toRows(items))
	}

	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "batch: create output")
		}
		defer f.Close() //nolint:errcheck
		w = f
	}
	return writeJSONLines(w, items)
}

func writeJSONLines(w io.Writer, items []batchItem) error {
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(toResponse(it)); err != nil {
			return eris.Wrap(err, "batch: write output")
		}
	}
	return nil
}

func toResponse(it batchItem) api.CompanyResponse {
	if it.Err != nil || it.Outcome == nil {
		msg := "not crawled"
		if it.Err != nil {
			msg = it.Err.Error()
		}
		return api.FailureResponse(it.Entry.CompanyName, it.Entry.RegisterNumber, msg)
	}
	return api.NewCompanyResponse(it.ID, it.Outcome)
}

func toRows(items []batchItem) []export.Row {
	rows := make([]export.Row, 0, len(items))
	for _, it := range items {
		resp := toResponse(it)
		row := export.Row{
			CompanyName:    resp.CompanyName,
			RegisterNumber: resp.RegisterNumber,
			RunID:          resp.RunID,
			Record:         resp.Record,
			Sources:        resp.Sources,
		}
		if resp.Error != nil {
			row.Error = *resp.Error
		}
		rows = append(rows, row)
	}
	return rows
}
