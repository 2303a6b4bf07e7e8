// Package queue provides the persistent job queue and processing infrastructure.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/recaphq/recap/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no runnable jobs are in the queue.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the global concurrent job limit has been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrChainExists indicates a meeting already has non-terminal jobs, so a
	// new chain must not be enqueued.
	ErrChainExists = errors.New("meeting already has active jobs")

	// ErrTranscriptNotReady is returned by the transcript processor when the
	// provider has no transcript yet. It is retried on a fixed ladder
	// (15/30/60 min) instead of the job type's normal backoff.
	ErrTranscriptNotReady = errors.New("transcript not ready")
)

// NonRetryableError marks a failure that must not be retried regardless of
// the remaining retry budget (malformed input, permission denied, ...).
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable wraps err so the worker fails the job permanently.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries a NonRetryableError.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Processor handles one job type.
//
// Process does the entire unit of work for a claimed job and returns the
// output to store on the queue row. The worker owns claiming, heartbeat,
// terminal status updates, and retry scheduling; a processor only signals
// how it failed:
//   - return ErrTranscriptNotReady (wrapped or bare) for the bounded
//     transcript wait ladder,
//   - return a NonRetryableError for permanent failures,
//   - return any other error for the job type's normal backoff.
type Processor interface {
	Process(ctx context.Context, job *models.Job) (models.JSONMap, error)
}

// EventPublisher broadcasts job status transitions for real-time delivery.
// May be nil (publishing disabled); errors are logged, never fatal.
type EventPublisher interface {
	PublishJobStatus(ctx context.Context, job *models.Job, status models.JobStatus) error
}

// InboxRunner is the external inbox command reader the pool invokes
// periodically. May be nil (inbox processing disabled).
type InboxRunner interface {
	Run(ctx context.Context) error
}

// CleanupFunc is an extra retention task run by the hourly cleanup chore.
// It returns how many rows it deleted.
type CleanupFunc func(ctx context.Context) (int64, error)

// Stats summarises queue state for dashboards and the CLI.
type Stats struct {
	ByStatus             map[string]int `json:"by_status"`
	ByType               map[string]int `json:"by_type"`
	OldestPendingSeconds *float64       `json:"oldest_pending_seconds,omitempty"`
	AvgProcessingSeconds *float64       `json:"avg_processing_seconds,omitempty"`
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	RunningJobs      int            `json:"running_jobs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
