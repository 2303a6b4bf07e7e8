package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per process.
	// Each worker independently polls and processes jobs.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the global limit of concurrently running jobs
	// across ALL processes. Enforced by database COUNT(*) check.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// PollInterval is the base interval for checking runnable jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum time a single job can run.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// HeartbeatInterval is how often a worker stamps heartbeat_at on its
	// running job. Orphan detection treats a job as dead after missing
	// two intervals.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// GracefulShutdownTimeout is the max time to wait for in-flight jobs
	// during shutdown. Jobs still running afterwards are left for orphan
	// recovery to reclaim.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned jobs.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// InboxCheckInterval is how often the pool invokes the inbox command
	// reader.
	InboxCheckInterval time.Duration `yaml:"inbox_check_interval"`

	// CleanupAge is how old a terminal job must be before the cleanup
	// chore deletes it. Zero disables cleanup.
	CleanupAge time.Duration `yaml:"cleanup_age"`
}

// OrphanThreshold is how long a job can go without a heartbeat before it is
// considered orphaned.
func (c *QueueConfig) OrphanThreshold() time.Duration {
	return 2 * c.HeartbeatInterval
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentJobs:       5,
		PollInterval:            2 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              10 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
		OrphanDetectionInterval: 60 * time.Second,
		InboxCheckInterval:      5 * time.Minute,
		CleanupAge:              30 * 24 * time.Hour,
	}
}
