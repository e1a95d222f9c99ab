package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_name    TEXT NOT NULL,
	register_number TEXT NOT NULL,
	tax_id          TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'running',
	record          JSONB,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_sources (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	fields      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, source)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_register_number ON runs(register_number);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, id model.CompanyIdentifier) (*model.Run, error) {
	runID := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, company_name, register_number, tax_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, id.Name(), id.RegisterNumber(), id.TaxID(), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, record json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET record = $1, status = $2, updated_at = $3 WHERE id = $4`,
		[]byte(record), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		msg, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) RecordSourceOutcome(ctx context.Context, runID string, o model.SourceOutcome) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_sources (run_id, source, status, kind, duration_ms, fields, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id, source) DO UPDATE SET
		   status = EXCLUDED.status, kind = EXCLUDED.kind, duration_ms = EXCLUDED.duration_ms,
		   fields = EXCLUDED.fields, error = EXCLUDED.error`,
		runID, string(o.Source), string(o.Status), o.Kind, o.DurationMs, o.Fields, o.Error,
	)
	return eris.Wrapf(err, "postgres: record source %s for run %s", o.Source, runID)
}

const runColumns = `id, company_name, register_number, tax_id, status, record, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, status, kind, duration_ms, fields, error FROM run_sources WHERE run_id = $1 ORDER BY source`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list sources for run %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var o model.SourceOutcome
		if err := rows.Scan(&o.Source, &o.Status, &o.Kind, &o.DurationMs, &o.Fields, &o.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source outcome")
		}
		r.Sources = append(r.Sources, o)
	}
	return r, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.RegisterNumber != "" {
		query += fmt.Sprintf(` AND register_number = $%d`, argIdx)
		args = append(args, model.StripSpaces(filter.RegisterNumber))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var record []byte
	if err := row.Scan(&r.ID, &r.CompanyName, &r.RegisterNumber, &r.TaxID, &r.Status, &record, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if len(record) > 0 {
		r.Record = json.RawMessage(record)
	}
	return &r, nil
}
