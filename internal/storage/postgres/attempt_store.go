// Package postgres persists capture runs and attempts in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/shotbatch/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultAttemptsTable = "capture_attempts"
	defaultRunsTable     = "capture_runs"
)

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string
	Table           string
	RunsTable       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// AttemptStore implements store.AttemptRepository.
type AttemptStore struct {
	pool      execCloser
	table     string
	runsTable string
}

var _ store.AttemptRepository = (*AttemptStore)(nil)

// NewAttemptStore connects to Postgres using cfg.
func NewAttemptStore(ctx context.Context, cfg Config) (*AttemptStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, runsTable, err := tableNames(cfg.Table, cfg.RunsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AttemptStore{pool: pool, table: table, runsTable: runsTable}, nil
}

// NewAttemptStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewAttemptStoreWithPool(pool execCloser, table, runsTable string) (*AttemptStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, runsTable, err := tableNames(table, runsTable)
	if err != nil {
		return nil, err
	}
	return &AttemptStore{pool: pool, table: table, runsTable: runsTable}, nil
}

func tableNames(table, runsTable string) (string, string, error) {
	if table == "" {
		table = defaultAttemptsTable
	}
	if runsTable == "" {
		runsTable = defaultRunsTable
	}
	for _, name := range []string{table, runsTable} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return table, runsTable, nil
}

// Close releases the underlying pool resources.
func (s *AttemptStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts the run row, leaving an existing row untouched.
func (s *AttemptStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordAttempts inserts one row per attempt.
func (s *AttemptStore) RecordAttempts(ctx context.Context, attempts []store.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	site,
	attempt,
	pass,
	worker,
	succeeded,
	error_kind,
	status_code,
	image_bytes,
	image_sha256,
	duration_ms,
	error_message,
	captured_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, s.table)
	for _, a := range attempts {
		args := []any{
			a.RunID,
			a.URL,
			a.Site,
			a.Attempt,
			a.Pass,
			a.Worker,
			a.Succeeded,
			a.Kind,
			a.StatusCode,
			a.Bytes,
			a.Digest,
			a.Duration.Milliseconds(),
			a.Error,
			a.At,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert attempt for %s: %w", a.URL, err)
		}
	}
	return nil
}

// FinishRun stamps the run with its final status and totals.
func (s *AttemptStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	successes int,
	failures int,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, successes = $3, failures = $4
WHERE id = $5`, s.runsTable)
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, successes, failures, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: no run row", runID)
	}
	return nil
}
