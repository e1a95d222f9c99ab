// Package store persists crawl run history.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status         model.RunStatus `json:"status,omitempty"`
	RegisterNumber string          `json:"register_number,omitempty"`
	Limit          int             `json:"limit,omitempty"`
	Offset         int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for crawl runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, id model.CompanyIdentifier) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, record json.RawMessage) error
	FailRun(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Per-source outcomes
	RecordSourceOutcome(ctx context.Context, runID string, o model.SourceOutcome) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured database driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

const defaultListLimit = 100
