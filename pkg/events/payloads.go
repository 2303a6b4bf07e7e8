package events

import "github.com/recaphq/recap/pkg/models"

// MeetingStatusPayload is the payload for meeting.status events.
// Published when a meeting transitions between lifecycle states.
type MeetingStatusPayload struct {
	Type      string               `json:"type"`       // always EventTypeMeetingStatus
	MeetingID string               `json:"meeting_id"` // provider meeting key
	Status    models.MeetingStatus `json:"status"`     // discovered, queued, processing, completed, failed, skipped, transcript_only
	Timestamp string               `json:"timestamp"`  // RFC3339Nano
}

// JobStatusPayload is the payload for job.status events.
// Published when a job transitions between queue states.
type JobStatusPayload struct {
	Type      string           `json:"type"`                 // always EventTypeJobStatus
	JobID     string           `json:"job_id"`               // job UUID
	MeetingID string           `json:"meeting_id,omitempty"` // empty for meeting-less jobs
	JobType   models.JobType   `json:"job_type"`             // fetch_transcript, generate_summary, distribute, process_chat_command
	Status    models.JobStatus `json:"status"`               // pending, running, retrying, completed, failed
	Timestamp string           `json:"timestamp"`            // RFC3339Nano
}
