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

// TranscriptStore persists transcripts, one row per meeting.
type TranscriptStore struct {
	db *sqlx.DB
}

// NewTranscriptStore creates a transcript repository.
func NewTranscriptStore(db *sqlx.DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// Upsert writes the transcript for a meeting. Recurring meetings reuse their
// meeting key, so a newer transcript replaces the stored one in place.
func (s *TranscriptStore) Upsert(ctx context.Context, t *models.Transcript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO transcripts (
			id, meeting_id, transcript_id, vtt_content, vtt_url, parsed_content,
			word_count, speaker_count, transcript_sharepoint_url, created_at
		) VALUES (
			:id, :meeting_id, :transcript_id, :vtt_content, :vtt_url, :parsed_content,
			:word_count, :speaker_count, :transcript_sharepoint_url, :created_at
		)
		ON CONFLICT (meeting_id) DO UPDATE SET
			transcript_id = EXCLUDED.transcript_id,
			vtt_content = EXCLUDED.vtt_content,
			vtt_url = EXCLUDED.vtt_url,
			parsed_content = EXCLUDED.parsed_content,
			word_count = EXCLUDED.word_count,
			speaker_count = EXCLUDED.speaker_count,
			transcript_sharepoint_url = EXCLUDED.transcript_sharepoint_url`, t)
	if err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	return nil
}

// GetByMeetingID fetches the transcript for a meeting.
func (s *TranscriptStore) GetByMeetingID(ctx context.Context, meetingID string) (*models.Transcript, error) {
	var t models.Transcript
	err := s.db.GetContext(ctx, &t, `SELECT * FROM transcripts WHERE meeting_id = $1`, meetingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return &t, nil
}
