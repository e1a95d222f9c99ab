package directory

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// headerAliases maps accepted spreadsheet headers to entry columns.
var headerAliases = map[string]string{
	"company_name":    "company_name",
	"firmenname":      "company_name",
	"name":            "company_name",
	"register_number": "register_number",
	"registernummer":  "register_number",
	"tax_id":          "tax_id",
	"ust_idnr":        "tax_id",
}

// ReadEntriesXLSX reads companies from a spreadsheet. The first row is the
// header; sheetName selects a sheet and defaults to the first one. Rows
// without a company name or register number are skipped.
func ReadEntriesXLSX(path, sheetName string) ([]Entry, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "directory: open xlsx")
	}

	sheet, err := pickSheet(f, sheetName)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		key := strings.ToLower(strings.TrimSpace(cell.String()))
		if col, ok := headerAliases[key]; ok {
			if _, dup := cols[col]; !dup {
				cols[col] = i
			}
		}
	}
	if _, ok := cols["company_name"]; !ok {
		return nil, eris.New("directory: xlsx header has no company_name column")
	}
	if _, ok := cols["register_number"]; !ok {
		return nil, eris.New("directory: xlsx header has no register_number column")
	}

	var entries []Entry
	for _, row := range sheet.Rows[1:] {
		cell := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(row.Cells) {
				return ""
			}
			return strings.TrimSpace(row.Cells[i].String())
		}
		e := Entry{
			CompanyName:    cell("company_name"),
			RegisterNumber: cell("register_number"),
			TaxID:          cell("tax_id"),
		}
		if e.CompanyName == "" || e.RegisterNumber == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("directory: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("directory: xlsx file has no sheets")
	}
	return f.Sheets[0], nil
}
