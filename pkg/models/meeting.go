package models

import "time"

// MeetingStatus is the lifecycle state of a meeting.
type MeetingStatus string

// Meeting lifecycle states.
const (
	MeetingStatusDiscovered     MeetingStatus = "discovered"
	MeetingStatusQueued         MeetingStatus = "queued"
	MeetingStatusProcessing     MeetingStatus = "processing"
	MeetingStatusCompleted      MeetingStatus = "completed"
	MeetingStatusFailed         MeetingStatus = "failed"
	MeetingStatusSkipped        MeetingStatus = "skipped"
	MeetingStatusTranscriptOnly MeetingStatus = "transcript_only"
)

// Discovery sources for a meeting row.
const (
	DiscoverySourceWebhook   = "webhook"
	DiscoverySourceBackfill  = "backfill"
	DiscoverySourceSafetyNet = "safety_net"
	DiscoverySourcePoller    = "poller"
)

// Meeting is a Teams meeting known to the pipeline. The provider's meeting
// key (MeetingID) is unique; rows are created by the notification handler,
// backfill, or poller and mutated only by processors of that meeting.
type Meeting struct {
	ID                     string        `db:"id" json:"id"`
	MeetingID              string        `db:"meeting_id" json:"meeting_id"`
	Subject                string        `db:"subject" json:"subject"`
	OrganizerEmail         *string       `db:"organizer_email" json:"organizer_email,omitempty"`
	OrganizerName          *string       `db:"organizer_name" json:"organizer_name,omitempty"`
	OrganizerUserID        *string       `db:"organizer_user_id" json:"organizer_user_id,omitempty"`
	StartTime              *time.Time    `db:"start_time" json:"start_time,omitempty"`
	EndTime                *time.Time    `db:"end_time" json:"end_time,omitempty"`
	DurationMinutes        *int          `db:"duration_minutes" json:"duration_minutes,omitempty"`
	ParticipantCount       int           `db:"participant_count" json:"participant_count"`
	JoinURL                *string       `db:"join_url" json:"join_url,omitempty"`
	ChatID                 *string       `db:"chat_id" json:"chat_id,omitempty"`
	RecordingURL           *string       `db:"recording_url" json:"recording_url,omitempty"`
	Status                 MeetingStatus `db:"status" json:"status"`
	HasTranscript          bool          `db:"has_transcript" json:"has_transcript"`
	HasSummary             bool          `db:"has_summary" json:"has_summary"`
	HasDistribution        bool          `db:"has_distribution" json:"has_distribution"`
	DistributionEnabled    bool          `db:"distribution_enabled" json:"distribution_enabled"`
	DistributionDisabledBy *string       `db:"distribution_disabled_by" json:"distribution_disabled_by,omitempty"`
	DistributionDisabledAt *time.Time    `db:"distribution_disabled_at" json:"distribution_disabled_at,omitempty"`
	CallType               *string       `db:"call_type" json:"call_type,omitempty"`
	AllowTranscription     *bool         `db:"allow_transcription" json:"allow_transcription,omitempty"`
	AllowRecording         *bool         `db:"allow_recording" json:"allow_recording,omitempty"`
	DiscoverySource        string        `db:"discovery_source" json:"discovery_source"`
	DiscoveredAt           time.Time     `db:"discovered_at" json:"discovered_at"`
	ErrorMessage           *string       `db:"error_message" json:"error_message,omitempty"`
	LastChatCheck          *time.Time    `db:"last_chat_check" json:"last_chat_check,omitempty"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// ParticipantRole distinguishes the organizer from plain attendees.
type ParticipantRole string

// Participant roles.
const (
	RoleOrganizer ParticipantRole = "organizer"
	RoleAttendee  ParticipantRole = "attendee"
)

// IdentityKind classifies how a participant joined the call.
type IdentityKind string

// Participant identity kinds, derived from call-record session endpoints.
const (
	IdentityInternal IdentityKind = "internal"
	IdentityPSTN     IdentityKind = "pstn"
	IdentityGuest    IdentityKind = "guest"
	IdentityACS      IdentityKind = "acs"
)

// MeetingParticipant is one person on a meeting. Email is nil for PSTN and
// ACS identities. An attendee with Attended=true and a non-nil email is a
// candidate summary recipient.
type MeetingParticipant struct {
	ID             string          `db:"id" json:"id"`
	MeetingID      string          `db:"meeting_id" json:"meeting_id"`
	Email          *string         `db:"email" json:"email,omitempty"`
	DisplayName    string          `db:"display_name" json:"display_name"`
	Role           ParticipantRole `db:"role" json:"role"`
	Attended       bool            `db:"attended" json:"attended"`
	IsPilotUser    bool            `db:"is_pilot_user" json:"is_pilot_user"`
	UserID         *string         `db:"user_id" json:"user_id,omitempty"`
	Phone          *string         `db:"phone" json:"phone,omitempty"`
	IdentityKind   IdentityKind    `db:"identity_kind" json:"identity_kind"`
	JobTitle       *string         `db:"job_title" json:"job_title,omitempty"`
	Department     *string         `db:"department" json:"department,omitempty"`
	OfficeLocation *string         `db:"office_location" json:"office_location,omitempty"`
	CompanyName    *string         `db:"company_name" json:"company_name,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
