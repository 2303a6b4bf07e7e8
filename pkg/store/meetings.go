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

// MeetingStore persists meetings.
type MeetingStore struct {
	db *sqlx.DB
}

// NewMeetingStore creates a meeting repository.
func NewMeetingStore(db *sqlx.DB) *MeetingStore {
	return &MeetingStore{db: db}
}

// Create inserts a new meeting. The provider meeting key must be unique;
// a duplicate returns ErrAlreadyExists.
func (s *MeetingStore) Create(ctx context.Context, m *models.Meeting) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.DiscoveredAt.IsZero() {
		m.DiscoveredAt = now
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = models.MeetingStatusDiscovered
	}
	if m.DiscoverySource == "" {
		m.DiscoverySource = models.DiscoverySourceWebhook
	}
	// Distribution starts enabled; disabling is an explicit audited act
	// after creation.
	m.DistributionEnabled = true

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO meetings (
			id, meeting_id, subject, organizer_email, organizer_name, organizer_user_id,
			start_time, end_time, duration_minutes, participant_count, join_url, chat_id,
			recording_url, status, has_transcript, has_summary, has_distribution,
			distribution_enabled, distribution_disabled_by, distribution_disabled_at,
			call_type, allow_transcription, allow_recording, discovery_source,
			discovered_at, error_message, last_chat_check, created_at, updated_at
		) VALUES (
			:id, :meeting_id, :subject, :organizer_email, :organizer_name, :organizer_user_id,
			:start_time, :end_time, :duration_minutes, :participant_count, :join_url, :chat_id,
			:recording_url, :status, :has_transcript, :has_summary, :has_distribution,
			:distribution_enabled, :distribution_disabled_by, :distribution_disabled_at,
			:call_type, :allow_transcription, :allow_recording, :discovery_source,
			:discovered_at, :error_message, :last_chat_check, :created_at, :updated_at
		)`, m)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("meeting %s: %w", m.MeetingID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

// GetByMeetingID fetches a meeting by the provider's meeting key.
func (s *MeetingStore) GetByMeetingID(ctx context.Context, meetingID string) (*models.Meeting, error) {
	var m models.Meeting
	err := s.db.GetContext(ctx, &m, `SELECT * FROM meetings WHERE meeting_id = $1`, meetingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return &m, nil
}

// GetByID fetches a meeting by its internal id.
func (s *MeetingStore) GetByID(ctx context.Context, id string) (*models.Meeting, error) {
	var m models.Meeting
	err := s.db.GetContext(ctx, &m, `SELECT * FROM meetings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return &m, nil
}

// List returns meetings newest-first, optionally filtered by status.
func (s *MeetingStore) List(ctx context.Context, status models.MeetingStatus, limit, offset int) ([]models.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	meetings := []models.Meeting{}
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &meetings,
			`SELECT * FROM meetings ORDER BY COALESCE(start_time, discovered_at) DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &meetings,
			`SELECT * FROM meetings WHERE status = $1 ORDER BY COALESCE(start_time, discovered_at) DESC LIMIT $2 OFFSET $3`,
			status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return meetings, nil
}

// CountByStatus returns meeting counts grouped by status.
func (s *MeetingStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}{}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM meetings GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count meetings: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// SetStatus updates a meeting's lifecycle status.
func (s *MeetingStore) SetStatus(ctx context.Context, meetingID string, status models.MeetingStatus) error {
	return s.exec(ctx,
		`UPDATE meetings SET status = $2, updated_at = now() WHERE meeting_id = $1`,
		meetingID, status)
}

// SetFailure marks a meeting permanently failed with an error message.
func (s *MeetingStore) SetFailure(ctx context.Context, meetingID, message string) error {
	return s.exec(ctx,
		`UPDATE meetings SET status = 'failed', error_message = $2, updated_at = now() WHERE meeting_id = $1`,
		meetingID, message)
}

// MarkTranscriptFetched records transcript arrival and moves the meeting to processing.
func (s *MeetingStore) MarkTranscriptFetched(ctx context.Context, meetingID string) error {
	return s.exec(ctx,
		`UPDATE meetings SET has_transcript = TRUE, status = 'processing', updated_at = now() WHERE meeting_id = $1`,
		meetingID)
}

// MarkSummaryGenerated records that a summary version exists.
func (s *MeetingStore) MarkSummaryGenerated(ctx context.Context, meetingID string) error {
	return s.exec(ctx,
		`UPDATE meetings SET has_summary = TRUE, updated_at = now() WHERE meeting_id = $1`,
		meetingID)
}

// MarkDistributed records distribution and completes the meeting.
func (s *MeetingStore) MarkDistributed(ctx context.Context, meetingID string) error {
	return s.exec(ctx,
		`UPDATE meetings SET has_distribution = TRUE, status = 'completed', error_message = NULL, updated_at = now() WHERE meeting_id = $1`,
		meetingID)
}

// BackfillOrganizer fills organizer fields that are still missing. Existing
// values win: a later notification never overwrites an earlier resolution.
func (s *MeetingStore) BackfillOrganizer(ctx context.Context, meetingID string, email, name, userID *string) error {
	return s.exec(ctx, `
		UPDATE meetings SET
			organizer_email = COALESCE(organizer_email, $2),
			organizer_name = COALESCE(organizer_name, $3),
			organizer_user_id = COALESCE(organizer_user_id, $4),
			updated_at = now()
		WHERE meeting_id = $1`,
		meetingID, email, name, userID)
}

// SetChatID records the meeting's chat thread once discovered.
func (s *MeetingStore) SetChatID(ctx context.Context, meetingID, chatID string) error {
	return s.exec(ctx,
		`UPDATE meetings SET chat_id = $2, last_chat_check = now(), updated_at = now() WHERE meeting_id = $1`,
		meetingID, chatID)
}

// TouchChatCheck records a chat lookup attempt that found nothing.
func (s *MeetingStore) TouchChatCheck(ctx context.Context, meetingID string) error {
	return s.exec(ctx,
		`UPDATE meetings SET last_chat_check = now(), updated_at = now() WHERE meeting_id = $1`,
		meetingID)
}

// SetParticipantCount updates the cached participant count.
func (s *MeetingStore) SetParticipantCount(ctx context.Context, meetingID string, count int) error {
	return s.exec(ctx,
		`UPDATE meetings SET participant_count = $2, updated_at = now() WHERE meeting_id = $1`,
		meetingID, count)
}

// SetDistributionEnabled toggles distribution with an audit trail of who
// disabled it and when. Enabling clears the audit fields.
func (s *MeetingStore) SetDistributionEnabled(ctx context.Context, meetingID string, enabled bool, by string) error {
	if enabled {
		return s.exec(ctx, `
			UPDATE meetings SET distribution_enabled = TRUE,
				distribution_disabled_by = NULL, distribution_disabled_at = NULL,
				updated_at = now()
			WHERE meeting_id = $1`, meetingID)
	}
	return s.exec(ctx, `
		UPDATE meetings SET distribution_enabled = FALSE,
			distribution_disabled_by = $2, distribution_disabled_at = now(),
			updated_at = now()
		WHERE meeting_id = $1`, meetingID, by)
}

func (s *MeetingStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
