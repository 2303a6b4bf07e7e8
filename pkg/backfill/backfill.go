// Package backfill catches up on call records missed while the
// change-notification subscription was down. It pages the provider's call
// record listing from a cutoff and feeds each unseen record through the same
// ingestion path as the notification handler.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/webhook"
)

// gapMargin widens the gap-detection cutoff past the last processed webhook
// so records racing that notification are not missed.
const gapMargin = 5 * time.Minute

// CallRecordLister pages call records. Satisfied by *graph.Client.
type CallRecordLister interface {
	ListCallRecords(ctx context.Context, cutoff time.Time) (*graph.CallRecordPage, error)
	ListCallRecordsPage(ctx context.Context, pageURL string) (*graph.CallRecordPage, error)
}

// Ingestor runs the shared call-record ingestion path. Satisfied by
// *webhook.Handler.
type Ingestor interface {
	IngestCallRecord(ctx context.Context, record *graph.CallRecord, source string) webhook.NotificationStatus
}

// Runner executes backfill passes.
type Runner struct {
	graph     CallRecordLister
	ingestor  Ingestor
	processed *store.ProcessedStore
	runs      *store.BackfillRunStore
	log       *slog.Logger
}

// NewRunner wires a backfill runner.
func NewRunner(g CallRecordLister, ingestor Ingestor, processed *store.ProcessedStore, runs *store.BackfillRunStore) *Runner {
	return &Runner{
		graph:     g,
		ingestor:  ingestor,
		processed: processed,
		runs:      runs,
		log:       slog.With("component", "backfill"),
	}
}

// Cutoff picks the backfill window start: the earlier of now−lookback and
// the last processed webhook minus a safety margin, so a manually requested
// deep backfill is never narrowed by gap detection.
func (r *Runner) Cutoff(ctx context.Context, now time.Time, lookback time.Duration) (time.Time, error) {
	cutoff := now.Add(-lookback)

	last, err := r.processed.LastProcessedAt(ctx, models.DiscoverySourceWebhook)
	if errors.Is(err, store.ErrNotFound) {
		return cutoff, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("finding last processed webhook: %w", err)
	}

	if gap := last.Add(-gapMargin); gap.Before(cutoff) {
		return gap, nil
	}
	return cutoff, nil
}

// Run executes one manually requested backfill pass over the lookback
// window and persists a BackfillRun row summarising it. Individual record
// failures are counted, not fatal.
func (r *Runner) Run(ctx context.Context, lookbackHours int) (*models.BackfillRun, error) {
	return r.pass(ctx, lookbackHours, models.DiscoverySourceBackfill)
}

// RunLoop is the safety net: a periodic pass that catches records whose
// notifications were lost, using the live lookback setting on each tick.
// Returns when ctx is cancelled.
func (r *Runner) RunLoop(ctx context.Context, interval time.Duration, lookbackHours func() int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.pass(ctx, lookbackHours(), models.DiscoverySourceSafetyNet); err != nil && ctx.Err() == nil {
				r.log.Error("Safety-net pass failed", "error", err)
			}
		}
	}
}

func (r *Runner) pass(ctx context.Context, lookbackHours int, source string) (*models.BackfillRun, error) {
	now := time.Now().UTC()
	cutoff, err := r.Cutoff(ctx, now, time.Duration(lookbackHours)*time.Hour)
	if err != nil {
		return nil, err
	}

	run := &models.BackfillRun{
		Source:        source,
		LookbackHours: lookbackHours,
		Cutoff:        cutoff,
		StartedAt:     now,
	}
	if err := r.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	r.log.Info("Backfill started", "source", source, "lookback_hours", lookbackHours, "cutoff", cutoff)

	page, err := r.graph.ListCallRecords(ctx, cutoff)
	for pages := 1; ; pages++ {
		if err != nil {
			run.Errors++
			r.log.Error("Backfill page fetch failed", "page", pages, "error", err)
			break
		}
		run.RecordsFound += len(page.Records)

		for i := range page.Records {
			if ctx.Err() != nil {
				break
			}
			st := r.ingestor.IngestCallRecord(ctx, &page.Records[i], source)
			switch st.Status {
			case webhook.StatusQueued:
				run.RecordsProcessed++
				run.JobsCreated++
			case webhook.StatusJobExists:
				run.RecordsProcessed++
			case webhook.StatusDuplicate, webhook.StatusNoOptIn:
				run.RecordsSkipped++
			case webhook.StatusError:
				run.Errors++
			}
		}

		if page.NextLink == "" || ctx.Err() != nil {
			r.log.Info("Backfill paging finished", "pages", pages)
			break
		}
		page, err = r.graph.ListCallRecordsPage(ctx, page.NextLink)
	}

	if err := r.runs.Finish(ctx, run); err != nil {
		r.log.Error("Backfill run row update failed", "run_id", run.ID, "error", err)
	}
	r.log.Info("Backfill finished",
		"found", run.RecordsFound, "processed", run.RecordsProcessed,
		"skipped", run.RecordsSkipped, "jobs_created", run.JobsCreated, "errors", run.Errors)
	return run, nil
}
