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

// PreferenceStore persists per-user and per-meeting delivery preferences.
type PreferenceStore struct {
	db *sqlx.DB
}

// NewPreferenceStore creates a preference repository.
func NewPreferenceStore(db *sqlx.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// GetUserPreference looks a user up by Graph user id first and falls back to
// the alias-tolerant email key, so preferences written before the user id was
// known still apply.
func (s *PreferenceStore) GetUserPreference(ctx context.Context, userID, emailKey string) (*models.UserPreference, error) {
	var pref models.UserPreference
	if userID != "" {
		err := s.db.GetContext(ctx, &pref,
			`SELECT * FROM user_preferences WHERE user_id = $1`, userID)
		if err == nil {
			return &pref, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get user preference by id: %w", err)
		}
	}
	if emailKey != "" {
		err := s.db.GetContext(ctx, &pref,
			`SELECT * FROM user_preferences WHERE email_key = $1`, emailKey)
		if err == nil {
			return &pref, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get user preference by email key: %w", err)
		}
	}
	return nil, ErrNotFound
}

// UpsertUserPreference writes a user preference keyed by the email key. The
// user id is kept if already known; a newly learned id fills it in.
func (s *PreferenceStore) UpsertUserPreference(ctx context.Context, pref *models.UserPreference) error {
	if pref.ID == "" {
		pref.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO user_preferences (
			id, user_id, user_email, email_key, receive_emails, email_preference,
			updated_by, created_at, updated_at
		) VALUES (
			:id, :user_id, :user_email, :email_key, :receive_emails, :email_preference,
			:updated_by, :created_at, :updated_at
		)
		ON CONFLICT (email_key) DO UPDATE SET
			user_id = COALESCE(EXCLUDED.user_id, user_preferences.user_id),
			user_email = EXCLUDED.user_email,
			receive_emails = EXCLUDED.receive_emails,
			email_preference = EXCLUDED.email_preference,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`, pref)
	if err != nil {
		return fmt.Errorf("upsert user preference: %w", err)
	}
	return nil
}

// SetReceiveEmails flips the opt-in flag for one user, creating the row when
// the user has never expressed a preference before.
func (s *PreferenceStore) SetReceiveEmails(ctx context.Context, userID *string, email, emailKey string, receive bool, updatedBy string) error {
	pref := &models.UserPreference{
		UserID:          userID,
		UserEmail:       email,
		EmailKey:        emailKey,
		ReceiveEmails:   receive,
		EmailPreference: models.EmailPreferenceAll,
	}
	if !receive {
		pref.EmailPreference = models.EmailPreferenceDisabled
	}
	if updatedBy != "" {
		pref.UpdatedBy = &updatedBy
	}
	return s.UpsertUserPreference(ctx, pref)
}

// GetMeetingPreference fetches the per-meeting override for one recipient.
func (s *PreferenceStore) GetMeetingPreference(ctx context.Context, meetingID, emailKey string) (*models.MeetingPreference, error) {
	var pref models.MeetingPreference
	err := s.db.GetContext(ctx, &pref, `
		SELECT * FROM meeting_preferences
		WHERE meeting_id = $1 AND email_key = $2`, meetingID, emailKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting preference: %w", err)
	}
	return &pref, nil
}

// UpsertMeetingPreference writes a per-meeting override for one recipient.
func (s *PreferenceStore) UpsertMeetingPreference(ctx context.Context, pref *models.MeetingPreference) error {
	if pref.ID == "" {
		pref.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO meeting_preferences (
			id, meeting_id, user_id, email_key, user_email, receive_emails,
			updated_by, created_at, updated_at
		) VALUES (
			:id, :meeting_id, :user_id, :email_key, :user_email, :receive_emails,
			:updated_by, :created_at, :updated_at
		)
		ON CONFLICT (meeting_id, email_key) DO UPDATE SET
			user_id = COALESCE(EXCLUDED.user_id, meeting_preferences.user_id),
			user_email = EXCLUDED.user_email,
			receive_emails = EXCLUDED.receive_emails,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`, pref)
	if err != nil {
		return fmt.Errorf("upsert meeting preference: %w", err)
	}
	return nil
}
