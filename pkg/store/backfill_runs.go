package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recaphq/recap/pkg/models"
)

// BackfillRunStore records each backfill sweep and its outcome stats.
type BackfillRunStore struct {
	db *sqlx.DB
}

// NewBackfillRunStore creates a backfill run repository.
func NewBackfillRunStore(db *sqlx.DB) *BackfillRunStore {
	return &BackfillRunStore{db: db}
}

// Create opens a run row when a sweep starts.
func (s *BackfillRunStore) Create(ctx context.Context, run *models.BackfillRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO backfill_runs (
			id, source, lookback_hours, cutoff, records_found, records_processed,
			records_skipped, jobs_created, errors, started_at, completed_at, duration_ms
		) VALUES (
			:id, :source, :lookback_hours, :cutoff, :records_found, :records_processed,
			:records_skipped, :jobs_created, :errors, :started_at, :completed_at, :duration_ms
		)`, run)
	if err != nil {
		return fmt.Errorf("create backfill run: %w", err)
	}
	return nil
}

// Finish closes a run row with final stats and duration.
func (s *BackfillRunStore) Finish(ctx context.Context, run *models.BackfillRun) error {
	now := time.Now().UTC()
	run.CompletedAt = &now
	ms := now.Sub(run.StartedAt).Milliseconds()
	run.DurationMS = &ms

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE backfill_runs SET
			records_found = :records_found,
			records_processed = :records_processed,
			records_skipped = :records_skipped,
			jobs_created = :jobs_created,
			errors = :errors,
			completed_at = :completed_at,
			duration_ms = :duration_ms
		WHERE id = :id`, run)
	if err != nil {
		return fmt.Errorf("finish backfill run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish backfill run rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent lists the newest runs, most recent first.
func (s *BackfillRunStore) Recent(ctx context.Context, limit int) ([]*models.BackfillRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*models.BackfillRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT * FROM backfill_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent backfill runs: %w", err)
	}
	return runs, nil
}
