package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recaphq/recap/pkg/models"
)

// ParticipantStore persists meeting participants.
type ParticipantStore struct {
	db *sqlx.DB
}

// NewParticipantStore creates a participant repository.
func NewParticipantStore(db *sqlx.DB) *ParticipantStore {
	return &ParticipantStore{db: db}
}

// AddMissing inserts participants that are not yet on the meeting. Identity
// is matched by user GUID, then phone, then email; duplicates are skipped so
// re-ingesting a call record never multiplies rows. Returns how many rows
// were inserted.
func (s *ParticipantStore) AddMissing(ctx context.Context, meetingID string, parts []models.MeetingParticipant) (int, error) {
	if len(parts) == 0 {
		return 0, nil
	}

	existing, err := s.ListByMeeting(ctx, meetingID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for i := range existing {
		for _, k := range participantKeys(&existing[i]) {
			seen[k] = true
		}
	}

	inserted := 0
	for i := range parts {
		p := &parts[i]
		keys := participantKeys(p)
		dup := false
		for _, k := range keys {
			if seen[k] {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, k := range keys {
			seen[k] = true
		}

		p.MeetingID = meetingID
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Role == "" {
			p.Role = models.RoleAttendee
		}
		if p.IdentityKind == "" {
			p.IdentityKind = models.IdentityInternal
		}
		p.CreatedAt = time.Now().UTC()

		if _, err := s.db.NamedExecContext(ctx, `
			INSERT INTO meeting_participants (
				id, meeting_id, email, display_name, role, attended, is_pilot_user,
				user_id, phone, identity_kind, job_title, department, office_location,
				company_name, created_at
			) VALUES (
				:id, :meeting_id, :email, :display_name, :role, :attended, :is_pilot_user,
				:user_id, :phone, :identity_kind, :job_title, :department, :office_location,
				:company_name, :created_at
			)`, p); err != nil {
			return inserted, fmt.Errorf("insert participant: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

// ListByMeeting returns every participant of a meeting.
func (s *ParticipantStore) ListByMeeting(ctx context.Context, meetingID string) ([]models.MeetingParticipant, error) {
	parts := []models.MeetingParticipant{}
	if err := s.db.SelectContext(ctx, &parts,
		`SELECT * FROM meeting_participants WHERE meeting_id = $1 ORDER BY created_at ASC`,
		meetingID); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return parts, nil
}

// ListAttendedWithEmail returns candidate recipients: attendees that joined
// and have a resolvable address.
func (s *ParticipantStore) ListAttendedWithEmail(ctx context.Context, meetingID string) ([]models.MeetingParticipant, error) {
	parts := []models.MeetingParticipant{}
	if err := s.db.SelectContext(ctx, &parts, `
		SELECT * FROM meeting_participants
		WHERE meeting_id = $1 AND attended = TRUE AND email IS NOT NULL AND email <> ''
		ORDER BY created_at ASC`, meetingID); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return parts, nil
}

// participantKeys returns the dedup keys for a participant, strongest first.
func participantKeys(p *models.MeetingParticipant) []string {
	keys := make([]string, 0, 3)
	if p.UserID != nil && *p.UserID != "" {
		keys = append(keys, "user:"+*p.UserID)
	}
	if p.Phone != nil && *p.Phone != "" {
		keys = append(keys, "phone:"+*p.Phone)
	}
	if p.Email != nil && *p.Email != "" {
		keys = append(keys, "email:"+*p.Email)
	}
	return keys
}
