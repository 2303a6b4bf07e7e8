package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recaphq/recap/pkg/models"
)

// SummaryStore persists versioned meeting summaries.
type SummaryStore struct {
	db *sqlx.DB
}

// NewSummaryStore creates a summary repository.
func NewSummaryStore(db *sqlx.DB) *SummaryStore {
	return &SummaryStore{db: db}
}

// Create inserts a new summary version for a meeting and marks the previous
// current version as superseded. Version assignment is serialized by locking
// the meeting row, so concurrent regenerations cannot mint the same version.
func (s *SummaryStore) Create(ctx context.Context, summary *models.Summary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.GeneratedAt.IsZero() {
		summary.GeneratedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summary tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lockedID string
	err = tx.GetContext(ctx, &lockedID,
		`SELECT id FROM meetings WHERE meeting_id = $1 FOR UPDATE`, summary.MeetingID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock meeting for summary: %w", err)
	}

	var next int
	if err := tx.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM summaries WHERE meeting_id = $1`,
		summary.MeetingID); err != nil {
		return fmt.Errorf("next summary version: %w", err)
	}
	summary.Version = next

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO summaries (
			id, meeting_id, version, superseded_by, summary_text, summary_html,
			action_items_json, decisions_json, topics_json, highlights_json,
			mentions_json, key_numbers_json, meeting_type, sentiment, model,
			input_tokens, output_tokens, cost_usd, custom_instructions, generated_at
		) VALUES (
			:id, :meeting_id, :version, :superseded_by, :summary_text, :summary_html,
			:action_items_json, :decisions_json, :topics_json, :highlights_json,
			:mentions_json, :key_numbers_json, :meeting_type, :sentiment, :model,
			:input_tokens, :output_tokens, :cost_usd, :custom_instructions, :generated_at
		)`, summary); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE summaries SET superseded_by = $1
		WHERE meeting_id = $2 AND id <> $1 AND superseded_by IS NULL`,
		summary.ID, summary.MeetingID); err != nil {
		return fmt.Errorf("supersede previous summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit summary tx: %w", err)
	}
	return nil
}

// GetCurrent fetches the latest non-superseded summary for a meeting.
func (s *SummaryStore) GetCurrent(ctx context.Context, meetingID string) (*models.Summary, error) {
	var sum models.Summary
	err := s.db.GetContext(ctx, &sum, `
		SELECT * FROM summaries
		WHERE meeting_id = $1 AND superseded_by IS NULL
		ORDER BY version DESC
		LIMIT 1`, meetingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get current summary: %w", err)
	}
	return &sum, nil
}

// ListByMeeting returns all summary versions for a meeting, newest first.
func (s *SummaryStore) ListByMeeting(ctx context.Context, meetingID string) ([]*models.Summary, error) {
	var sums []*models.Summary
	err := s.db.SelectContext(ctx, &sums, `
		SELECT * FROM summaries
		WHERE meeting_id = $1
		ORDER BY version DESC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return sums, nil
}
