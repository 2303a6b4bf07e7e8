package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/models"
)

// Registry maps job types to their processors.
type Registry struct {
	mu         sync.RWMutex
	processors map[models.JobType]Processor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[models.JobType]Processor)}
}

// Register binds a processor to a job type, replacing any previous binding.
func (r *Registry) Register(jobType models.JobType, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[jobType] = p
}

// Get returns the processor for a job type.
func (r *Registry) Get(jobType models.JobType) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[jobType]
	return p, ok
}

// WorkerPool manages a pool of queue workers plus the periodic chores:
// orphan recovery, the inbox command reader, and terminal-job cleanup.
type WorkerPool struct {
	podID    string
	queue    *Queue
	config   *config.QueueConfig
	registry *Registry
	inbox    InboxRunner
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Extra retention tasks run by the hourly cleanup chore, keyed by name
	// for logging. Registered before Start.
	cleanups map[string]CleanupFunc

	// Job cancel registry: job_id → cancel function
	activeJobs map[string]context.CancelFunc
	mu         sync.RWMutex
	started    bool

	// Live limits, swappable by settings hot reload. Workers read these on
	// every claim instead of the startup QueueConfig values.
	maxConcurrent atomic.Int64
	jobTimeout    atomic.Int64 // nanoseconds
	heartbeat     atomic.Int64 // nanoseconds

	// Orphan recovery state
	orphans orphanState
}

// NewWorkerPool creates a new worker pool. inbox may be nil (inbox command
// processing disabled).
func NewWorkerPool(podID string, q *Queue, cfg *config.QueueConfig, registry *Registry, inbox InboxRunner) *WorkerPool {
	p := &WorkerPool{
		podID:      podID,
		queue:      q,
		config:     cfg,
		registry:   registry,
		inbox:      inbox,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
		cleanups:   make(map[string]CleanupFunc),
	}
	p.maxConcurrent.Store(int64(cfg.MaxConcurrentJobs))
	p.jobTimeout.Store(int64(cfg.JobTimeout))
	p.heartbeat.Store(int64(cfg.HeartbeatInterval))
	return p
}

// ApplySettings updates the live limits from a settings hot reload. Takes
// effect on the next claim; running jobs keep their original timeout.
func (p *WorkerPool) ApplySettings(s *config.Settings) {
	p.maxConcurrent.Store(int64(s.MaxConcurrentJobs))
	p.jobTimeout.Store(int64(s.JobTimeout()))
	p.heartbeat.Store(int64(s.HeartbeatInterval()))
	slog.Info("Worker pool limits updated",
		"max_concurrent_jobs", s.MaxConcurrentJobs,
		"job_timeout", s.JobTimeout(),
		"heartbeat_interval", s.HeartbeatInterval())
}

// MaxConcurrentJobs returns the live global concurrency limit.
func (p *WorkerPool) MaxConcurrentJobs() int {
	return int(p.maxConcurrent.Load())
}

// JobTimeout returns the live per-job timeout.
func (p *WorkerPool) JobTimeout() time.Duration {
	return time.Duration(p.jobTimeout.Load())
}

// HeartbeatInterval returns the live heartbeat cadence.
func (p *WorkerPool) HeartbeatInterval() time.Duration {
	return time.Duration(p.heartbeat.Load())
}

// Start spawns worker goroutines and the periodic chores.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool",
		"pod_id", p.podID,
		"worker_count", p.config.WorkerCount,
		"max_concurrent_jobs", p.config.MaxConcurrentJobs)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.queue, p.config, p.registry, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runChores(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits up to the graceful shutdown
// timeout for in-flight jobs. Jobs still running afterwards keep their
// database rows in running state; orphan recovery reclaims them later.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeJobIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active jobs to complete",
			"count", len(active), "job_ids", active)
	}

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.GracefulShutdownTimeout):
		slog.Warn("Graceful shutdown timeout reached, abandoning in-flight jobs",
			"timeout", p.config.GracefulShutdownTimeout,
			"job_ids", p.activeJobIDs())
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped")
}

// RegisterJob stores a cancel function for an in-flight job.
func (p *WorkerPool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// runChores drives the periodic maintenance tasks on their own tickers.
func (p *WorkerPool) runChores(ctx context.Context) {
	orphanTicker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer orphanTicker.Stop()

	inboxTicker := time.NewTicker(p.config.InboxCheckInterval)
	defer inboxTicker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-orphanTicker.C:
			p.scanOrphans(ctx)
		case <-inboxTicker.C:
			p.runInbox(ctx)
		case <-cleanupTicker.C:
			p.runCleanup(ctx)
		}
	}
}

// scanOrphans demotes running jobs with stale heartbeats and updates the
// queue depth gauge while it is at it.
func (p *WorkerPool) scanOrphans(ctx context.Context) {
	recovered, failed, err := p.queue.RecoverOrphans(ctx, p.config.OrphanThreshold())
	if err != nil {
		slog.Error("Orphan recovery failed", "error", err)
		return
	}
	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered + failed
	p.orphans.mu.Unlock()
	metricOrphansRecovered.Add(float64(recovered + failed))

	if depth, err := p.queue.Depth(ctx); err == nil {
		metricQueueDepth.Set(float64(depth))
	}
}

// runInbox invokes the external inbox command reader.
func (p *WorkerPool) runInbox(ctx context.Context) {
	if p.inbox == nil {
		return
	}
	if err := p.inbox.Run(ctx); err != nil {
		slog.Error("Inbox command reader failed", "error", err)
	}
}

// RegisterCleanup adds a retention task to the hourly cleanup chore. Must
// be called before Start.
func (p *WorkerPool) RegisterCleanup(name string, fn CleanupFunc) {
	p.cleanups[name] = fn
}

// runCleanup deletes old terminal jobs, then runs the registered retention
// tasks. One failing task does not stop the others.
func (p *WorkerPool) runCleanup(ctx context.Context) {
	if p.config.CleanupAge > 0 {
		n, err := p.queue.CleanupTerminalJobs(ctx, p.config.CleanupAge)
		if err != nil {
			slog.Error("Terminal job cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("Cleaned up terminal jobs", "deleted", n, "older_than", p.config.CleanupAge)
		}
	}

	for name, fn := range p.cleanups {
		n, err := fn(ctx)
		if err != nil {
			slog.Error("Retention task failed", "task", name, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("Retention task ran", "task", name, "deleted", n)
		}
	}
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.queue.Depth(ctx)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID, "error", errQ)
	}

	runningJobs, errR := p.queue.RunningCount(ctx)
	if errR != nil {
		slog.Error("Failed to query running jobs for health check",
			"pod_id", p.podID, "error", errR)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errR == nil
	isHealthy := len(p.workers) > 0 && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else {
			dbError = fmt.Sprintf("running jobs query failed: %v", errR)
		}
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		RunningJobs:      runningJobs,
		MaxConcurrent:    p.config.MaxConcurrentJobs,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}

// activeJobIDs returns IDs of currently processing jobs (for logging).
func (p *WorkerPool) activeJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	jobs := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		jobs = append(jobs, id)
	}
	return jobs
}
