package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/recaphq/recap/pkg/models"
)

// notifyLimit leaves headroom under PostgreSQL's 8000-byte NOTIFY payload
// cap. Status payloads are tiny; this only guards against pathological IDs.
const notifyLimit = 7900

// Publisher broadcasts transient events via pg_notify. Events are not
// persisted: any process LISTENing on the channel (every API pod's
// NotifyListener) receives them, so WebSocket clients get updates regardless
// of which pod produced the transition.
type Publisher struct {
	db *sqlx.DB
}

// NewPublisher creates a publisher on the shared database pool.
func NewPublisher(db *sqlx.DB) *Publisher {
	return &Publisher{db: db}
}

// PublishMeetingStatus broadcasts a meeting lifecycle transition to the
// global meetings channel and the per-meeting channel. Best-effort: both
// sends are attempted, the first error is returned.
func (p *Publisher) PublishMeetingStatus(ctx context.Context, meetingID string, status models.MeetingStatus) error {
	payload := MeetingStatusPayload{
		Type:      EventTypeMeetingStatus,
		MeetingID: meetingID,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal meeting status payload: %w", err)
	}

	var firstErr error
	if err := p.notify(ctx, GlobalMeetingsChannel, data); err != nil {
		slog.Warn("Failed to publish meeting status to global channel",
			"meeting_id", meetingID, "status", status, "error", err)
		firstErr = err
	}
	if err := p.notify(ctx, MeetingChannel(meetingID), data); err != nil {
		slog.Warn("Failed to publish meeting status to meeting channel",
			"meeting_id", meetingID, "status", status, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishJobStatus broadcasts a job queue transition to the global jobs
// channel, plus the meeting channel when the job belongs to a meeting.
func (p *Publisher) PublishJobStatus(ctx context.Context, job *models.Job, status models.JobStatus) error {
	payload := JobStatusPayload{
		Type:      EventTypeJobStatus,
		JobID:     job.ID,
		MeetingID: job.MeetingKey(),
		JobType:   job.JobType,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job status payload: %w", err)
	}

	var firstErr error
	if err := p.notify(ctx, GlobalJobsChannel, data); err != nil {
		slog.Warn("Failed to publish job status to global channel",
			"job_id", job.ID, "status", status, "error", err)
		firstErr = err
	}
	if payload.MeetingID != "" {
		if err := p.notify(ctx, MeetingChannel(payload.MeetingID), data); err != nil {
			slog.Warn("Failed to publish job status to meeting channel",
				"job_id", job.ID, "meeting_id", payload.MeetingID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// notify broadcasts a pre-marshaled payload on a channel via pg_notify.
func (p *Publisher) notify(ctx context.Context, channel string, payload []byte) error {
	if len(payload) > notifyLimit {
		return fmt.Errorf("notify payload exceeds %d bytes (%d)", notifyLimit, len(payload))
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}
