package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
)

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id        string
	podID     string
	queue     *Queue
	config    *config.QueueConfig
	registry  *Registry
	pool      JobRegistry
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        string
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// Worker status values.
const (
	WorkerStatusIdle    = "idle"
	WorkerStatusWorking = "working"
)

// JobRegistry is the subset of WorkerPool used by Worker: job registration
// plus the live limits that settings hot reload can change at runtime.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
	MaxConcurrentJobs() int
	JobTimeout() time.Duration
	HeartbeatInterval() time.Duration
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, q *Queue, cfg *config.QueueConfig, registry *Registry, pool JobRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		queue:        q,
		config:       cfg,
		registry:     registry,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a job, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check global capacity (best-effort; racy with concurrent workers but
	//    bounded by WorkerCount and mitigated by poll jitter).
	running, err := w.queue.RunningCount(ctx)
	if err != nil {
		return fmt.Errorf("checking running jobs: %w", err)
	}
	if running >= w.pool.MaxConcurrentJobs() {
		return ErrAtCapacity
	}

	// 2. Claim next runnable job
	job, err := w.queue.Claim(ctx, w.id)
	if err != nil {
		return err
	}
	metricJobsClaimed.WithLabelValues(string(job.JobType)).Inc()

	log := slog.With("job_id", job.ID, "job_type", job.JobType, "worker_id", w.id)
	log.Info("Job claimed", "meeting_id", job.MeetingKey(), "retry_count", job.RetryCount)

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	processor, ok := w.registry.Get(job.JobType)
	if !ok {
		// No processor registered for the type: permanent failure, not the
		// processor's fault, so no retry.
		msg := fmt.Sprintf("no processor registered for job type %q", job.JobType)
		log.Error("Unknown job type")
		return w.finish(job, nil, msg, false)
	}

	// 3. Create job context with timeout
	jobTimeout := w.pool.JobTimeout()
	jobCtx, cancelJob := context.WithTimeout(ctx, jobTimeout)
	defer cancelJob()

	// 4. Register cancel function so the pool can track in-flight jobs
	w.pool.RegisterJob(job.ID, cancelJob)
	defer w.pool.UnregisterJob(job.ID)

	// 5. Start heartbeat sidecar. It only stamps heartbeat_at; when the stamp
	//    reports the job is no longer ours (reclaimed by orphan recovery), it
	//    cancels the job context.
	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, job.ID, cancelJob)

	// 6. Execute the processor
	start := time.Now()
	output, procErr := processor.Process(jobCtx, job)
	cancelHeartbeat()
	metricJobDuration.WithLabelValues(string(job.JobType)).Observe(time.Since(start).Seconds())

	// 7. Map timeout onto the error when the processor surfaced ctx.Err
	//    (or returned nil despite the deadline firing).
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		procErr = fmt.Errorf("job timed out after %v", jobTimeout)
	}

	// 8. Record the terminal outcome with a background context; the job
	//    context may already be cancelled.
	if err := w.recordOutcome(job, output, procErr); err != nil {
		log.Error("Failed to record job outcome", "error", err)
		return err
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	if procErr != nil {
		log.Warn("Job finished with error", "error", procErr)
	} else {
		log.Info("Job completed", "duration", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// recordOutcome maps a processor result onto complete / retry / fail.
func (w *Worker) recordOutcome(job *models.Job, output models.JSONMap, procErr error) error {
	if procErr == nil {
		if err := w.queue.Complete(context.Background(), job.ID, output); err != nil {
			return fmt.Errorf("completing job: %w", err)
		}
		metricJobsCompleted.WithLabelValues(string(job.JobType)).Inc()
		return nil
	}

	switch {
	case IsNonRetryable(procErr):
		return w.finish(job, nil, procErr.Error(), false)

	case errors.Is(procErr, ErrTranscriptNotReady):
		// Bounded ladder: 15/30/60 min, then the meeting is permanently
		// transcript-unavailable.
		if job.RetryCount >= MaxTranscriptRetries {
			return w.finish(job, nil, TranscriptUnavailableMessage(), false)
		}
		return w.finish(job, procErr, procErr.Error(), true)

	default:
		if job.RetryCount >= job.MaxRetries {
			return w.finish(job, nil, procErr.Error(), false)
		}
		return w.finish(job, procErr, procErr.Error(), true)
	}
}

// finish schedules a retry or terminally fails the job.
func (w *Worker) finish(job *models.Job, procErr error, msg string, retry bool) error {
	ctx := context.Background()
	if retry {
		var delay time.Duration
		if errors.Is(procErr, ErrTranscriptNotReady) {
			delay = TranscriptRetryDelay(job.RetryCount)
		} else {
			delay = PolicyFor(job.JobType).Delay(job.RetryCount)
		}
		// A rate-limited Graph call carries the server's own schedule;
		// never retry sooner than it asked.
		if ra := graph.RetryAfter(procErr); ra > delay {
			delay = ra
		}
		if err := w.queue.ScheduleRetry(ctx, job.ID, delay, msg); err != nil {
			return fmt.Errorf("scheduling retry: %w", err)
		}
		metricJobsRetried.WithLabelValues(string(job.JobType)).Inc()
		slog.Info("Job retry scheduled",
			"job_id", job.ID, "retry_count", job.RetryCount+1, "delay", delay.Round(time.Second))
		return nil
	}
	if err := w.queue.MarkFailed(ctx, job.ID, msg); err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	metricJobsFailed.WithLabelValues(string(job.JobType)).Inc()
	return nil
}

// runHeartbeat periodically stamps heartbeat_at for orphan detection. It
// never changes job status. When the stamp reports the job was reclaimed,
// the job context is cancelled so the processor stops doing wasted work.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string, cancelJob context.CancelFunc) {
	ticker := time.NewTicker(w.pool.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive, err := w.queue.Heartbeat(ctx, jobID, w.id)
			if err != nil {
				slog.Warn("Heartbeat update failed", "job_id", jobID, "error", err)
				continue
			}
			if !alive {
				slog.Warn("Job no longer owned by this worker, cancelling",
					"job_id", jobID, "worker_id", w.id)
				cancelJob()
				return
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
