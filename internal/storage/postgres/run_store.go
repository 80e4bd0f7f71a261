// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore persists runs and per-link results in Postgres. Result rows are
// keyed by (run_id, original_link); recording a duplicate link upserts.
type RunStore struct {
	pool dbPool
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool dbPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run check.Run) error {
	query := `
INSERT INTO runs (
	id,
	status,
	links,
	submitted_at,
	error_text,
	valid_count,
	invalid_count,
	error_count
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, query,
		run.ID,
		string(run.Status),
		run.Links,
		run.Submitted,
		run.ErrorText,
		run.Counters.Valid,
		run.Counters.Invalid,
		run.Counters.Errors,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus moves a run between lifecycle states. The first transition
// to running stamps started_at; any terminal transition stamps finished_at.
func (s *RunStore) UpdateRunStatus(
	ctx context.Context,
	runID uuid.UUID,
	status check.RunStatus,
	errText string,
	counters check.RunCounters,
) error {
	now := time.Now().UTC()
	var startedAt, finishedAt *time.Time
	if status == check.RunStatusRunning {
		startedAt = &now
	}
	if status.Terminal() {
		finishedAt = &now
	}
	query := `
UPDATE runs SET
	status = $2,
	error_text = $3,
	valid_count = $4,
	invalid_count = $5,
	error_count = $6,
	started_at = COALESCE(started_at, $7),
	finished_at = COALESCE(finished_at, $8)
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		runID,
		string(status),
		errText,
		counters.Valid,
		counters.Invalid,
		counters.Errors,
		startedAt,
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return check.ErrRunNotFound
	}
	return nil
}

// RecordResult upserts the result row for rec's original link.
func (s *RunStore) RecordResult(ctx context.Context, runID uuid.UUID, rec check.Record) error {
	query := `
INSERT INTO run_results (
	run_id,
	original_link,
	canonical_url,
	status,
	message,
	display_name,
	member_info,
	redirected_to,
	checked_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (run_id, original_link) DO UPDATE SET
	canonical_url = EXCLUDED.canonical_url,
	status = EXCLUDED.status,
	message = EXCLUDED.message,
	display_name = EXCLUDED.display_name,
	member_info = EXCLUDED.member_info,
	redirected_to = EXCLUDED.redirected_to,
	checked_at = EXCLUDED.checked_at`
	_, err := s.pool.Exec(ctx, query,
		runID,
		rec.Original,
		rec.Canonical,
		string(rec.Status),
		rec.Message,
		rec.DisplayName,
		rec.MemberInfo,
		rec.RedirectedTo,
		rec.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run result: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (check.Run, error) {
	query := `
SELECT id, status, links, submitted_at, started_at, finished_at, error_text,
	valid_count, invalid_count, error_count
FROM runs
WHERE id = $1`
	var (
		run    check.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&status,
		&run.Links,
		&run.Submitted,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
		&run.Counters.Valid,
		&run.Counters.Invalid,
		&run.Counters.Errors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return check.Run{}, check.ErrRunNotFound
		}
		return check.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = check.RunStatus(status)
	return run, nil
}

// ListResults retrieves all result rows for a run in check order.
func (s *RunStore) ListResults(ctx context.Context, runID uuid.UUID) ([]check.Record, error) {
	query := `
SELECT original_link, canonical_url, status, message, display_name,
	member_info, redirected_to, checked_at
FROM run_results
WHERE run_id = $1
ORDER BY checked_at ASC`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	defer rows.Close()

	var records []check.Record
	for rows.Next() {
		var (
			rec    check.Record
			status string
		)
		err := rows.Scan(
			&rec.Original,
			&rec.Canonical,
			&status,
			&rec.Message,
			&rec.DisplayName,
			&rec.MemberInfo,
			&rec.RedirectedTo,
			&rec.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		rec.Status = check.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}
	return records, nil
}
