package models

import "time"

// ProcessedCallRecord marks a call-record notification as ingested. The
// unique call_record_id gives downstream job creation at-most-once semantics
// per raw event.
type ProcessedCallRecord struct {
	ID           string    `db:"id" json:"id"`
	CallRecordID string    `db:"call_record_id" json:"call_record_id"`
	Source       string    `db:"source" json:"source"`
	ProcessedAt  time.Time `db:"processed_at" json:"processed_at"`
}

// SubscriptionEventType classifies a subscription audit row.
type SubscriptionEventType string

// Subscription audit event types.
const (
	SubscriptionEventDown    SubscriptionEventType = "down"
	SubscriptionEventUp      SubscriptionEventType = "up"
	SubscriptionEventCreated SubscriptionEventType = "created"
	SubscriptionEventRenewed SubscriptionEventType = "renewed"
	SubscriptionEventFailed  SubscriptionEventType = "failed"
)

// SubscriptionEvent is one append-only audit row for the subscription
// manager. An "up" row references its paired "down" row via DownEventID and
// carries the computed downtime.
type SubscriptionEvent struct {
	ID              string                `db:"id" json:"id"`
	EventType       SubscriptionEventType `db:"event_type" json:"event_type"`
	Source          string                `db:"source" json:"source"`
	SubscriptionID  *string               `db:"subscription_id" json:"subscription_id,omitempty"`
	Resource        *string               `db:"resource" json:"resource,omitempty"`
	ErrorMessage    *string               `db:"error_message" json:"error_message,omitempty"`
	DownEventID     *string               `db:"down_event_id" json:"down_event_id,omitempty"`
	DowntimeSeconds *int64                `db:"downtime_seconds" json:"downtime_seconds,omitempty"`
	CreatedAt       time.Time             `db:"created_at" json:"created_at"`
}

// BackfillRun summarises one backfill invocation.
type BackfillRun struct {
	ID               string     `db:"id" json:"id"`
	Source           string     `db:"source" json:"source"`
	LookbackHours    int        `db:"lookback_hours" json:"lookback_hours"`
	Cutoff           time.Time  `db:"cutoff" json:"cutoff"`
	RecordsFound     int        `db:"records_found" json:"records_found"`
	RecordsProcessed int        `db:"records_processed" json:"records_processed"`
	RecordsSkipped   int        `db:"records_skipped" json:"records_skipped"`
	JobsCreated      int        `db:"jobs_created" json:"jobs_created"`
	Errors           int        `db:"errors" json:"errors"`
	StartedAt        time.Time  `db:"started_at" json:"started_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS       *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
}
