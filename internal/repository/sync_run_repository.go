package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SyncRunRepo persists the history of sync pipeline executions
type SyncRunRepo struct {
	db *sqlx.DB
}

// NewSyncRunRepo creates a new SyncRunRepo instance
func NewSyncRunRepo(db *sqlx.DB) *SyncRunRepo {
	return &SyncRunRepo{db: db}
}

// Create inserts a started run record
func (r *SyncRunRepo) Create(ctx context.Context, run *SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, trigger, window_hours, started_at, status)
		VALUES (:id, :trigger, :window_hours, :started_at, :status)
	`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// Finish updates a run record with its final counters and status
func (r *SyncRunRepo) Finish(ctx context.Context, run *SyncRun) error {
	query := `
		UPDATE sync_runs
		SET finished_at = :finished_at,
			pages_fetched = :pages_fetched,
			messages_seen = :messages_seen,
			messages_new = :messages_new,
			messages_updated = :messages_updated,
			error_count = :error_count,
			last_error = :last_error,
			status = :status
		WHERE id = :id
	`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	return nil
}

// ListRecent returns the most recent runs, newest first
func (r *SyncRunRepo) ListRecent(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT id, trigger, window_hours, started_at, finished_at, pages_fetched,
			messages_seen, messages_new, messages_updated, error_count, last_error, status
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	var runs []SyncRun
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	return runs, nil
}
