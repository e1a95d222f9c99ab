package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/registry-crawler/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	company_name    TEXT NOT NULL,
	register_number TEXT NOT NULL,
	tax_id          TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'running',
	record          TEXT,
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_sources (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	fields      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, source)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_register_number ON runs(register_number);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, id model.CompanyIdentifier) (*model.Run, error) {
	runID := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, company_name, register_number, tax_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, id.Name(), id.RegisterNumber(), id.TaxID(), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:             runID,
		CompanyName:    id.Name(),
		RegisterNumber: id.RegisterNumber(),
		TaxID:          id.TaxID(),
		Status:         model.RunStatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, record json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET record = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(record), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET error = ?, status = ?, updated_at = ? WHERE id = ?`,
		msg, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) RecordSourceOutcome(ctx context.Context, runID string, o model.SourceOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_sources (run_id, source, status, kind, duration_ms, fields, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, source) DO UPDATE SET
		   status = excluded.status, kind = excluded.kind, duration_ms = excluded.duration_ms,
		   fields = excluded.fields, error = excluded.error`,
		runID, string(o.Source), string(o.Status), o.Kind, o.DurationMs, o.Fields, o.Error,
	)
	return eris.Wrapf(err, "sqlite: record source %s for run %s", o.Source, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_name, register_number, tax_id, status, record, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, status, kind, duration_ms, fields, error FROM run_sources WHERE run_id = ? ORDER BY source`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list sources for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var o model.SourceOutcome
		if err := rows.Scan(&o.Source, &o.Status, &o.Kind, &o.DurationMs, &o.Fields, &o.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source outcome")
		}
		r.Sources = append(r.Sources, o)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, company_name, register_number, tax_id, status, record, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RegisterNumber != "" {
		query += ` AND register_number = ?`
		args = append(args, model.StripSpaces(filter.RegisterNumber))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var record sql.NullString

	err := row.Scan(&r.ID, &r.CompanyName, &r.RegisterNumber, &r.TaxID, &r.Status, &record, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: get run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if record.Valid && record.String != "" {
		r.Record = json.RawMessage(record.String)
	}
	return &r, nil
}
