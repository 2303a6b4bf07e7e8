package queue

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/recaphq/recap/pkg/models"
)

// RetryPolicy is the exponential backoff schedule for one job type.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Per-type backoff schedules. Transcript fetches back off slowly because the
// provider takes minutes to publish; distribution backs off slowest because
// mail throttling lasts longest.
var retryPolicies = map[models.JobType]RetryPolicy{
	models.JobTypeFetchTranscript:    {Base: 60 * time.Second, Max: 600 * time.Second},
	models.JobTypeGenerateSummary:    {Base: 30 * time.Second, Max: 300 * time.Second},
	models.JobTypeDistribute:         {Base: 120 * time.Second, Max: 1800 * time.Second},
	models.JobTypeProcessChatCommand: {Base: 30 * time.Second, Max: 300 * time.Second},
}

var defaultRetryPolicy = RetryPolicy{Base: 60 * time.Second, Max: 600 * time.Second}

// Default retry budgets per job type. Distribution gets more attempts
// because partial mail failures are worth retrying longer.
var defaultMaxRetries = map[models.JobType]int{
	models.JobTypeFetchTranscript:    3,
	models.JobTypeGenerateSummary:    3,
	models.JobTypeDistribute:         5,
	models.JobTypeProcessChatCommand: 3,
}

// PolicyFor returns the backoff policy for a job type.
func PolicyFor(jobType models.JobType) RetryPolicy {
	if p, ok := retryPolicies[jobType]; ok {
		return p
	}
	return defaultRetryPolicy
}

// MaxRetriesFor returns the default retry budget for a job type.
func MaxRetriesFor(jobType models.JobType) int {
	if n, ok := defaultMaxRetries[jobType]; ok {
		return n
	}
	return 3
}

// Delay computes the backoff before the (retryCount+1)th attempt:
// min(base·2^retryCount, max) scaled by a jitter factor in [0.75, 1.25).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	d := p.Base
	for i := 0; i < retryCount && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}

// Transcript-not-ready retries follow a fixed ladder instead of the normal
// backoff: the provider usually publishes a transcript within the hour, and
// past that it never will.
var transcriptRetryDelays = []time.Duration{
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

// MaxTranscriptRetries bounds transcript-not-ready retries. Exceeding it
// marks the meeting permanently transcript-unavailable.
const MaxTranscriptRetries = 3

// TranscriptRetryDelay returns the wait before the next transcript attempt.
// retryCount is the job's current count (0 → 15 min, 1 → 30 min, 2 → 60 min).
func TranscriptRetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(transcriptRetryDelays) {
		return transcriptRetryDelays[len(transcriptRetryDelays)-1]
	}
	return transcriptRetryDelays[retryCount]
}

// TranscriptUnavailableMessage is the meeting error text recorded when the
// transcript ladder is exhausted.
func TranscriptUnavailableMessage() string {
	var total time.Duration
	for _, d := range transcriptRetryDelays {
		total += d
	}
	return fmt.Sprintf("Transcript not available after %d retries (%v hours)",
		MaxTranscriptRetries, total.Hours())
}
