package models

import "time"

// JobType identifies the processor a job is dispatched to.
type JobType string

// Job types.
const (
	JobTypeFetchTranscript    JobType = "fetch_transcript"
	JobTypeGenerateSummary    JobType = "generate_summary"
	JobTypeDistribute         JobType = "distribute"
	JobTypeProcessChatCommand JobType = "process_chat_command"
)

// JobStatus is the queue state of a job.
type JobStatus string

// Job states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one row of the persistent work queue. A job is runnable iff its
// status is pending or retrying, next_retry_at is unset or past, and its
// dependency (if any) has completed.
type Job struct {
	ID             string     `db:"id" json:"id"`
	JobType        JobType    `db:"job_type" json:"job_type"`
	MeetingID      *string    `db:"meeting_id" json:"meeting_id,omitempty"`
	InputData      JSONMap    `db:"input_data" json:"input_data"`
	OutputData     JSONMap    `db:"output_data" json:"output_data,omitempty"`
	Status         JobStatus  `db:"status" json:"status"`
	Priority       int        `db:"priority" json:"priority"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time `db:"heartbeat_at" json:"heartbeat_at,omitempty"`
	WorkerID       *string    `db:"worker_id" json:"worker_id,omitempty"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	MaxRetries     int        `db:"max_retries" json:"max_retries"`
	NextRetryAt    *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	DependsOnJobID *string    `db:"depends_on_job_id" json:"depends_on_job_id,omitempty"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
}

// MeetingKey returns the meeting id or "" for meeting-less jobs.
func (j *Job) MeetingKey() string {
	if j.MeetingID == nil {
		return ""
	}
	return *j.MeetingID
}
