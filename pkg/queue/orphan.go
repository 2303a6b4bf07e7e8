package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/recaphq/recap/pkg/store"
)

// orphanState tracks orphan recovery metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// RecoverOrphans finds running jobs whose heartbeat is older than the
// threshold and recovers them: jobs with retry budget left are demoted to
// retrying with an incremented retry_count and an immediate next_retry_at;
// jobs out of retries go through MarkFailed so chain dependents cascade to
// failed and the meeting is marked failed. Otherwise the dependents would
// sit pending forever behind a dependency that can never complete, and the
// stuck chain would block every future reprocess of that meeting. All pods
// run this independently; every step is idempotent. Returns
// (requeued, failed) counts.
func (q *Queue) RecoverOrphans(ctx context.Context, threshold time.Duration) (int, int, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = 'retrying',
			retry_count = retry_count + 1,
			next_retry_at = now(),
			worker_id = NULL,
			heartbeat_at = NULL,
			error_message = 'Orphaned: worker ' || COALESCE(worker_id, 'unknown') || ' stopped heartbeating'
		WHERE status = 'running'
		  AND heartbeat_at < $1
		  AND retry_count < max_retries`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue orphaned jobs: %w", err)
	}
	requeued, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("requeue rows affected: %w", err)
	}

	var expired []struct {
		ID       string  `db:"id"`
		WorkerID *string `db:"worker_id"`
	}
	err = q.db.SelectContext(ctx, &expired, `
		SELECT id, worker_id FROM jobs
		WHERE status = 'running'
		  AND heartbeat_at < $1
		  AND retry_count >= max_retries`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("select expired orphans: %w", err)
	}

	failed := 0
	for _, row := range expired {
		worker := "unknown"
		if row.WorkerID != nil {
			worker = *row.WorkerID
		}
		msg := fmt.Sprintf("Orphaned: worker %s stopped heartbeating, no retries left", worker)
		if err := q.MarkFailed(ctx, row.ID, msg); err != nil {
			// Another pod's scan (or the returning worker) got there first.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return int(requeued), failed, fmt.Errorf("fail orphaned job %s: %w", row.ID, err)
		}
		failed++
	}

	if requeued > 0 || failed > 0 {
		slog.Warn("Recovered orphaned jobs", "requeued", requeued, "failed", failed)
	}
	return int(requeued), failed, nil
}
