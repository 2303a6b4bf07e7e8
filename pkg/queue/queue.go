package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/store"
)

// Queue is the persistent dependency-aware job queue. All cross-worker
// serialisation happens in Postgres; the queue holds no in-memory state.
type Queue struct {
	db  *sqlx.DB
	pub EventPublisher
}

// New creates a queue over the shared database handle.
// pub may be nil (event publishing disabled).
func New(db *sqlx.DB, pub EventPublisher) *Queue {
	return &Queue{db: db, pub: pub}
}

// chainJobTypes are the job types that form a meeting's processing chain,
// in dependency order.
var chainJobTypes = []models.JobType{
	models.JobTypeFetchTranscript,
	models.JobTypeGenerateSummary,
	models.JobTypeDistribute,
}

// EnqueueMeetingChain creates the fetch_transcript → generate_summary →
// distribute chain for a meeting and moves the meeting to queued. The
// meeting row is locked for the duration so concurrent enqueues serialise;
// if a non-terminal chain job already exists for the meeting, no jobs are
// created and ErrChainExists is returned. Only chain job types count: the
// running process_chat_command job that requested a reprocess must not
// block the chain it is creating.
func (q *Queue) EnqueueMeetingChain(ctx context.Context, meetingID string, priority int, fetchInput models.JSONMap) ([]*models.Job, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lockedID string
	err = tx.GetContext(ctx, &lockedID,
		`SELECT id FROM meetings WHERE meeting_id = $1 FOR UPDATE`, meetingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock meeting for enqueue: %w", err)
	}

	var active bool
	err = tx.GetContext(ctx, &active, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE meeting_id = $1
			  AND job_type IN ('fetch_transcript', 'generate_summary', 'distribute')
			  AND status IN ('pending', 'running', 'retrying')
		)`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("check active jobs: %w", err)
	}
	if active {
		return nil, ErrChainExists
	}

	now := time.Now().UTC()
	jobs := make([]*models.Job, 0, len(chainJobTypes))
	var prevID *string
	for _, jt := range chainJobTypes {
		input := models.JSONMap{}
		if jt == models.JobTypeFetchTranscript && fetchInput != nil {
			input = fetchInput
		}
		// Operator instructions from a reprocess ride the chain to the
		// summary job.
		if jt == models.JobTypeGenerateSummary && fetchInput != nil {
			if ci, ok := fetchInput["custom_instructions"]; ok {
				input["custom_instructions"] = ci
			}
		}
		job := &models.Job{
			ID:             uuid.NewString(),
			JobType:        jt,
			MeetingID:      &meetingID,
			InputData:      input,
			Status:         models.JobStatusPending,
			Priority:       priority,
			CreatedAt:      now,
			MaxRetries:     MaxRetriesFor(jt),
			DependsOnJobID: prevID,
		}
		if err := insertJob(ctx, tx, job); err != nil {
			return nil, err
		}
		prevID = &job.ID
		jobs = append(jobs, job)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE meetings SET status = $1, updated_at = now()
		WHERE meeting_id = $2`, models.MeetingStatusQueued, meetingID); err != nil {
		return nil, fmt.Errorf("mark meeting queued: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue tx: %w", err)
	}

	for _, job := range jobs {
		q.publishStatus(ctx, job)
	}
	return jobs, nil
}

// EnqueueJob inserts a single job outside any chain (chat commands, manual
// regeneration). Missing defaults are filled in.
func (q *Queue) EnqueueJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = MaxRetriesFor(job.JobType)
	}
	if job.InputData == nil {
		job.InputData = models.JSONMap{}
	}
	if err := insertJob(ctx, q.db, job); err != nil {
		return err
	}
	q.publishStatus(ctx, job)
	return nil
}

func insertJob(ctx context.Context, e sqlx.ExtContext, job *models.Job) error {
	_, err := sqlx.NamedExecContext(ctx, e, `
		INSERT INTO jobs (
			id, job_type, meeting_id, input_data, output_data, status, priority,
			created_at, started_at, completed_at, heartbeat_at, worker_id,
			retry_count, max_retries, next_retry_at, depends_on_job_id, error_message
		) VALUES (
			:id, :job_type, :meeting_id, :input_data, :output_data, :status, :priority,
			:created_at, :started_at, :completed_at, :heartbeat_at, :worker_id,
			:retry_count, :max_retries, :next_retry_at, :depends_on_job_id, :error_message
		)`, job)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Claim atomically hands the next runnable job to a worker. A job is
// runnable when its status is pending or retrying, its next_retry_at is
// unset or past, and its dependency (if any) has completed. Selection is
// (priority DESC, created_at ASC) with SKIP LOCKED, so concurrent claimers
// never receive the same row and never block. Returns ErrNoJobsAvailable
// when nothing qualifies.
func (q *Queue) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	var job models.Job
	err := q.db.GetContext(ctx, &job, `
		UPDATE jobs SET
			status = 'running',
			worker_id = $1,
			started_at = now(),
			heartbeat_at = now()
		WHERE id = (
			SELECT j.id FROM jobs j
			LEFT JOIN jobs dep ON dep.id = j.depends_on_job_id
			WHERE j.status IN ('pending', 'retrying')
			  AND (j.next_retry_at IS NULL OR j.next_retry_at <= now())
			  AND (j.depends_on_job_id IS NULL OR dep.status = 'completed')
			ORDER BY j.priority DESC, j.created_at ASC
			LIMIT 1
			FOR UPDATE OF j SKIP LOCKED
		)
		RETURNING *`, workerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	q.publishStatus(ctx, &job)
	return &job, nil
}

// Complete marks a running job done and stores its output. Returns
// store.ErrNotFound if the job is no longer running (reclaimed by orphan
// recovery while the worker was finishing).
func (q *Queue) Complete(ctx context.Context, jobID string, output models.JSONMap) error {
	var job models.Job
	err := q.db.GetContext(ctx, &job, `
		UPDATE jobs SET
			status = 'completed',
			completed_at = now(),
			output_data = $2,
			error_message = NULL
		WHERE id = $1 AND status = 'running'
		RETURNING *`, jobID, output)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	q.publishStatus(ctx, &job)
	return nil
}

// ScheduleRetry demotes a running job to retrying with an incremented
// retry_count and the given delay before it becomes runnable again.
func (q *Queue) ScheduleRetry(ctx context.Context, jobID string, delay time.Duration, errMsg string) error {
	nextRetryAt := time.Now().UTC().Add(delay)
	var job models.Job
	err := q.db.GetContext(ctx, &job, `
		UPDATE jobs SET
			status = 'retrying',
			retry_count = retry_count + 1,
			next_retry_at = $2,
			error_message = $3,
			worker_id = NULL,
			heartbeat_at = NULL
		WHERE id = $1 AND status = 'running'
		RETURNING *`, jobID, nextRetryAt, errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	q.publishStatus(ctx, &job)
	return nil
}

// MarkFailed terminally fails a job. Jobs downstream in the chain can never
// become runnable once their dependency failed, so they are cascaded to
// failed in the same transaction; for chain job types the owning meeting is
// marked failed with the error message.
func (q *Queue) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var job models.Job
	err = tx.GetContext(ctx, &job, `
		UPDATE jobs SET
			status = 'failed',
			completed_at = now(),
			error_message = $2
		WHERE id = $1 AND status <> 'completed'
		RETURNING *`, jobID, errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}

	var dependents []*models.Job
	err = tx.SelectContext(ctx, &dependents, `
		WITH RECURSIVE deps AS (
			SELECT id FROM jobs
			WHERE depends_on_job_id = $1 AND status IN ('pending', 'retrying')
			UNION
			SELECT j.id FROM jobs j
			JOIN deps d ON j.depends_on_job_id = d.id
			WHERE j.status IN ('pending', 'retrying')
		)
		UPDATE jobs SET
			status = 'failed',
			completed_at = now(),
			error_message = 'Dependency job failed'
		WHERE id IN (SELECT id FROM deps)
		RETURNING *`, jobID)
	if err != nil {
		return fmt.Errorf("fail dependent jobs: %w", err)
	}

	if job.MeetingID != nil && isChainJobType(job.JobType) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE meetings SET status = $1, error_message = $2, updated_at = now()
			WHERE meeting_id = $3`,
			models.MeetingStatusFailed, errMsg, *job.MeetingID); err != nil {
			return fmt.Errorf("mark meeting failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail tx: %w", err)
	}

	q.publishStatus(ctx, &job)
	for _, dep := range dependents {
		q.publishStatus(ctx, dep)
	}
	return nil
}

func isChainJobType(jt models.JobType) bool {
	for _, t := range chainJobTypes {
		if t == jt {
			return true
		}
	}
	return false
}

// Heartbeat stamps heartbeat_at on a running job owned by the given worker.
// It never changes status. Returns false when the job is no longer running
// under that worker, which tells the caller its job has been reclaimed.
func (q *Queue) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = now()
		WHERE id = $1 AND worker_id = $2 AND status = 'running'`, jobID, workerID)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// CancelMeetingJobs marks all queued-but-unstarted jobs for a meeting as
// failed with reason "cancelled". Running jobs are untouched.
func (q *Queue) CancelMeetingJobs(ctx context.Context, meetingID string) (int, error) {
	var cancelled []*models.Job
	err := q.db.SelectContext(ctx, &cancelled, `
		UPDATE jobs SET
			status = 'failed',
			completed_at = now(),
			error_message = 'cancelled'
		WHERE meeting_id = $1 AND status IN ('pending', 'retrying')
		RETURNING *`, meetingID)
	if err != nil {
		return 0, fmt.Errorf("cancel meeting jobs: %w", err)
	}
	for _, job := range cancelled {
		q.publishStatus(ctx, job)
	}
	return len(cancelled), nil
}

// CleanupTerminalJobs deletes completed and failed jobs older than the given
// age and returns how many were removed.
func (q *Queue) CleanupTerminalJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup terminal jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return n, nil
}

// Get fetches one job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := q.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListByMeeting returns all jobs for a meeting, oldest first.
func (q *Queue) ListByMeeting(ctx context.Context, meetingID string) ([]*models.Job, error) {
	var jobs []*models.Job
	err := q.db.SelectContext(ctx, &jobs, `
		SELECT * FROM jobs WHERE meeting_id = $1 ORDER BY created_at ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list meeting jobs: %w", err)
	}
	return jobs, nil
}

// HasActiveJobs reports whether any non-terminal chain job exists for a
// meeting. Command jobs are ignored for the same reason as in
// EnqueueMeetingChain: they reference a meeting without processing it.
func (q *Queue) HasActiveJobs(ctx context.Context, meetingID string) (bool, error) {
	var active bool
	err := q.db.GetContext(ctx, &active, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE meeting_id = $1
			  AND job_type IN ('fetch_transcript', 'generate_summary', 'distribute')
			  AND status IN ('pending', 'running', 'retrying')
		)`, meetingID)
	if err != nil {
		return false, fmt.Errorf("check active jobs: %w", err)
	}
	return active, nil
}

// HasJobForTranscript reports whether a fetch_transcript job already exists
// for the (meeting, transcript) pair. Recurring meetings reuse a meeting id
// across instances, so dedup must be per-transcript, not per-meeting.
func (q *Queue) HasJobForTranscript(ctx context.Context, meetingID, transcriptID string) (bool, error) {
	var exists bool
	err := q.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE job_type = 'fetch_transcript'
			  AND meeting_id = $1
			  AND input_data->>'transcript_id' = $2
		)`, meetingID, transcriptID)
	if err != nil {
		return false, fmt.Errorf("check transcript job: %w", err)
	}
	return exists, nil
}

// RunningCount returns how many jobs are currently running across all
// processes.
func (q *Queue) RunningCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM jobs WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("count running jobs: %w", err)
	}
	return n, nil
}

// Depth returns how many jobs are waiting to run.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'retrying')`)
	if err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return n, nil
}

// Stats summarises the queue: counts by status and type, age of the oldest
// waiting job, and mean end-to-end duration of completed jobs.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}

	rows, err := q.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats by status rows: %w", err)
	}

	typeRows, err := q.db.QueryxContext(ctx,
		`SELECT job_type, COUNT(*) FROM jobs GROUP BY job_type`)
	if err != nil {
		return nil, fmt.Errorf("stats by type: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var jobType string
		var count int
		if err := typeRows.Scan(&jobType, &count); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		stats.ByType[jobType] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("stats by type rows: %w", err)
	}

	err = q.db.GetContext(ctx, &stats.OldestPendingSeconds, `
		SELECT EXTRACT(EPOCH FROM now() - MIN(created_at))
		FROM jobs WHERE status IN ('pending', 'retrying')`)
	if err != nil {
		return nil, fmt.Errorf("stats oldest pending: %w", err)
	}

	err = q.db.GetContext(ctx, &stats.AvgProcessingSeconds, `
		SELECT EXTRACT(EPOCH FROM AVG(completed_at - started_at))
		FROM jobs
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("stats avg processing: %w", err)
	}

	return stats, nil
}

// publishStatus broadcasts a job transition. Non-blocking: errors are logged.
func (q *Queue) publishStatus(ctx context.Context, job *models.Job) {
	if q.pub == nil {
		return
	}
	if err := q.pub.PublishJobStatus(ctx, job, job.Status); err != nil {
		slog.Warn("Failed to publish job status",
			"job_id", job.ID, "status", job.Status, "error", err)
	}
}
