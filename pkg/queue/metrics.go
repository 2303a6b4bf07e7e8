package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics, exposed on the API server's /metrics endpoint.
var (
	metricJobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recap",
		Subsystem: "queue",
		Name:      "jobs_claimed_total",
		Help:      "Jobs claimed by workers, by job type.",
	}, []string{"job_type"})

	metricJobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recap",
		Subsystem: "queue",
		Name:      "jobs_completed_total",
		Help:      "Jobs completed successfully, by job type.",
	}, []string{"job_type"})

	metricJobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recap",
		Subsystem: "queue",
		Name:      "jobs_failed_total",
		Help:      "Jobs terminally failed, by job type.",
	}, []string{"job_type"})

	metricJobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recap",
		Subsystem: "queue",
		Name:      "jobs_retried_total",
		Help:      "Retry schedules, by job type.",
	}, []string{"job_type"})

	metricJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recap",
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Processor execution time, by job type.",
		Buckets:   []float64{1, 5, 15, 60, 180, 600},
	}, []string{"job_type"})

	metricOrphansRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recap",
		Subsystem: "queue",
		Name:      "orphans_recovered_total",
		Help:      "Running jobs reclaimed after a missed heartbeat.",
	})

	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "recap",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Jobs waiting to run (pending or retrying).",
	})
)
