package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/crawl-orchestrator/internal/entity"
)

const createRunStateTable = `
	CREATE TABLE IF NOT EXISTS run_state (
		url           TEXT PRIMARY KEY,
		last_run_at   TIMESTAMPTZ,
		last_status   TEXT NOT NULL,
		in_progress   BOOLEAN NOT NULL DEFAULT FALSE,
		run_id        TEXT NOT NULL DEFAULT '',
		last_error    TEXT NOT NULL DEFAULT '',
		last_duration_ms BIGINT NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// RunStateRepoImpl provides a concrete implementation for the RunStateRepository interface using PostgreSQL.
type RunStateRepoImpl struct {
	db *pgxpool.Pool
}

// NewRunStateRepo creates a new instance of RunStateRepoImpl.
func NewRunStateRepo(db *pgxpool.Pool) *RunStateRepoImpl {
	return &RunStateRepoImpl{db: db}
}

// Migrate creates the run_state table if it does not exist.
func (r *RunStateRepoImpl) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createRunStateTable); err != nil {
		return fmt.Errorf("create run_state table: %w", err)
	}
	return nil
}

// Load retrieves every run record.
func (r *RunStateRepoImpl) Load(ctx context.Context) (map[string]entity.RunRecord, error) {
	query := `
		SELECT url, last_run_at, last_status, in_progress, run_id, last_error, last_duration_ms
		FROM run_state;
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[string]entity.RunRecord)
	for rows.Next() {
		var (
			rec        entity.RunRecord
			status     string
			durationMS int64
		)
		if err := rows.Scan(
			&rec.URL,
			&rec.LastRunAt,
			&status,
			&rec.InProgress,
			&rec.RunID,
			&rec.LastError,
			&durationMS,
		); err != nil {
			return nil, err
		}
		rec.LastStatus = entity.RunStatus(status)
		rec.LastDuration = time.Duration(durationMS) * time.Millisecond
		records[rec.URL] = rec
	}

	return records, rows.Err()
}

// Save creates or updates the record for record.URL.
func (r *RunStateRepoImpl) Save(ctx context.Context, record entity.RunRecord) error {
	query := `
		INSERT INTO run_state (url, last_run_at, last_status, in_progress, run_id, last_error, last_duration_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (url) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			last_status = EXCLUDED.last_status,
			in_progress = EXCLUDED.in_progress,
			run_id = EXCLUDED.run_id,
			last_error = EXCLUDED.last_error,
			last_duration_ms = EXCLUDED.last_duration_ms,
			updated_at = NOW();
	`
	_, err := r.db.Exec(ctx, query,
		record.URL,
		record.LastRunAt,
		string(record.LastStatus),
		record.InProgress,
		record.RunID,
		record.LastError,
		record.LastDuration.Milliseconds(),
	)
	return err
}
