// Package export writes batch crawl results as a spreadsheet summary.
package export

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/registry-crawler/internal/model"
)

// Sheet names.
const (
	CompaniesSheet = "companies"
	SourcesSheet   = "sources"
)

// Row is the outcome of one company in a batch.
type Row struct {
	CompanyName    string
	RegisterNumber string
	RunID          string
	Error          string
	Record         *model.MergedRecord
	Sources        []model.SourceOutcome
}

// Success reports whether the crawl produced a record.
func (r Row) Success() bool { return r.Error == "" && r.Record != nil }

var fixedColumns = []string{"company_name", "register_number", "run_id", "success", "error"}

// WriteXLSX saves rows to path. The companies sheet has one row per company
// and one column per record field; the sources sheet has one row per source
// outcome.
func WriteXLSX(path string, rows []Row) error {
	f := xlsx.NewFile()

	companies, err := f.AddSheet(CompaniesSheet)
	if err != nil {
		return eris.Wrap(err, "export: add companies sheet")
	}
	fields := columns()

	header := companies.AddRow()
	for _, col := range fixedColumns {
		header.AddCell().SetString(col)
	}
	for _, fld := range fields {
		header.AddCell().SetString(string(fld))
	}
	header.AddCell().SetString("data_sources")
	header.AddCell().SetString("scraped_at")

	for _, r := range rows {
		row := companies.AddRow()
		row.AddCell().SetString(r.CompanyName)
		row.AddCell().SetString(r.RegisterNumber)
		row.AddCell().SetString(r.RunID)
		row.AddCell().SetBool(r.Success())
		row.AddCell().SetString(r.Error)

		for _, fld := range fields {
			cell := row.AddCell()
			if r.Record == nil {
				continue
			}
			if v, ok := r.Record.Get(fld); ok {
				setValue(cell, v.Value)
			}
		}

		sources := row.AddCell()
		scraped := row.AddCell()
		if r.Record != nil {
			names := make([]string, 0, len(r.Record.DataSources()))
			for _, s := range r.Record.DataSources() {
				names = append(names, string(s))
			}
			sources.SetString(strings.Join(names, ", "))
			scraped.SetString(r.Record.ScrapedAt().UTC().Format(time.RFC3339))
		}
	}

	if err := writeSources(f, rows); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save xlsx")
	}
	return nil
}

func writeSources(f *xlsx.File, rows []Row) error {
	sheet, err := f.AddSheet(SourcesSheet)
	if err != nil {
		return eris.Wrap(err, "export: add sources sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{"register_number", "source", "status", "kind", "fields", "duration_ms", "error"} {
		header.AddCell().SetString(col)
	}

	for _, r := range rows {
		for _, o := range r.Sources {
			row := sheet.AddRow()
			row.AddCell().SetString(r.RegisterNumber)
			row.AddCell().SetString(string(o.Source))
			row.AddCell().SetString(string(o.Status))
			row.AddCell().SetString(o.Kind)
			row.AddCell().SetInt(o.Fields)
			row.AddCell().SetInt64(o.DurationMs)
			row.AddCell().SetString(o.Error)
		}
	}
	return nil
}

// columns lists the record fields that fit a cell. Raw HTML fragments are
// left out.
func columns() []model.Field {
	var out []model.Field
	for _, spec := range model.Schema() {
		if spec.Only != "" {
			continue
		}
		out = append(out, spec.Field)
	}
	return out
}

func setValue(cell *xlsx.Cell, v any) {
	switch val := v.(type) {
	case string:
		cell.SetString(val)
	case int64:
		cell.SetInt64(val)
	case float64:
		cell.SetFloat(val)
	case bool:
		cell.SetBool(val)
	case time.Time:
		cell.SetString(val.Format("2006-01-02"))
	case []string:
		cell.SetString(strings.Join(val, "; "))
	case nil:
	default:
		cell.SetValue(val)
	}
}
