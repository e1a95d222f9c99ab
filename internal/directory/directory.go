// Package directory reads the local company list (companies.json) used to
// seed tax ids and batch crawls.
package directory

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/model"
)

// Entry is one company in the list. The legacy keys registernummer and
// ust_idnr are accepted alongside register_number and tax_id.
type Entry struct {
	CompanyName    string `json:"company_name"`
	RegisterNumber string `json:"register_number"`
	TaxID          string `json:"tax_id,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		CompanyName    string `json:"company_name"`
		RegisterNumber string `json:"register_number"`
		Registernummer string `json:"registernummer"`
		TaxID          string `json:"tax_id"`
		UstIdNr        string `json:"ust_idnr"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.CompanyName = strings.TrimSpace(raw.CompanyName)
	e.RegisterNumber = strings.TrimSpace(firstNonEmpty(raw.RegisterNumber, raw.Registernummer))
	e.TaxID = strings.TrimSpace(firstNonEmpty(raw.TaxID, raw.UstIdNr))
	return nil
}

// Identifier validates the entry.
func (e Entry) Identifier() (model.CompanyIdentifier, error) {
	return model.NewIdentifier(e.CompanyName, e.RegisterNumber, e.TaxID)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ReadEntries decodes a JSON array of entries.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, eris.Wrap(err, "directory: decode")
	}
	return entries, nil
}

// Directory looks up tax ids in a companies.json file. The file is re-read
// when its modification time changes. A missing file is an empty directory.
type Directory struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	entries []Entry
}

// New returns a Directory backed by path.
func New(path string) *Directory {
	return &Directory{path: path}
}

// LookupTaxID returns the tax id listed for id. Names match
// case-insensitively; register numbers match ignoring spaces and the HRB
// prefix.
func (d *Directory) LookupTaxID(id model.CompanyIdentifier) (string, bool) {
	entries, err := d.load()
	if err != nil {
		zap.L().Warn("directory: could not load company list", zap.String("path", d.path), zap.Error(err))
		return "", false
	}

	want := normalizeRegister(id.RegisterNumber())
	for _, e := range entries {
		if !strings.EqualFold(e.CompanyName, id.Name()) || normalizeRegister(e.RegisterNumber) != want {
			continue
		}
		if e.TaxID == "" {
			continue
		}
		zap.L().Debug("directory: found tax id", zap.String("company", id.Name()), zap.String("tax_id", e.TaxID))
		return e.TaxID, true
	}
	return "", false
}

func (d *Directory) load() ([]Entry, error) {
	if d.path == "" {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := os.Stat(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		d.entries, d.modTime = nil, time.Time{}
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "directory: stat %s", d.path)
	}
	if d.entries != nil && info.ModTime().Equal(d.modTime) {
		return d.entries, nil
	}

	f, err := os.Open(d.path)
	if err != nil {
		return nil, eris.Wrapf(err, "directory: open %s", d.path)
	}
	defer f.Close() //nolint:errcheck

	entries, err := ReadEntries(f)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	d.entries, d.modTime = entries, info.ModTime()
	zap.L().Info("directory: loaded company list", zap.String("path", d.path), zap.Int("companies", len(entries)))
	return entries, nil
}

func normalizeRegister(s string) string {
	return strings.ReplaceAll(model.StripSpaces(s), "HRB", "")
}
