package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recaphq/recap/pkg/backfill"
	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/database"
	"github.com/recaphq/recap/pkg/events"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/webhook"
)

// backfillCmd runs one manual catch-up pass. The enqueued jobs are picked
// up by a running serve instance; this command only ingests.
func backfillCmd(configDir *string) *cobra.Command {
	var lookbackHours int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ingest call records missed while notifications were down",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Initialize(*configDir)
			if err != nil {
				return err
			}
			if lookbackHours <= 0 {
				lookbackHours = cfg.Settings().LookbackHours
			}

			dbCfg, err := database.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			dbClient, err := database.NewClient(ctx, dbCfg)
			if err != nil {
				return err
			}
			defer dbClient.Close()
			db := dbClient.DB()

			graphClient := graph.NewClient(cfg.Graph)
			handler := webhook.NewHandler(
				store.NewMeetingStore(db),
				store.NewParticipantStore(db),
				store.NewProcessedStore(db),
				store.NewPreferenceStore(db),
				queue.New(db, events.NewPublisher(db)),
				graphClient,
				cfg,
				nil,
			)
			runner := backfill.NewRunner(graphClient, handler,
				store.NewProcessedStore(db), store.NewBackfillRunStore(db))

			run, err := runner.Run(ctx, lookbackHours)
			if err != nil {
				return err
			}
			fmt.Printf("✓ backfill complete: %d found, %d processed, %d skipped, %d jobs created, %d errors\n",
				run.RecordsFound, run.RecordsProcessed, run.RecordsSkipped, run.JobsCreated, run.Errors)
			if run.Errors > 0 {
				return fmt.Errorf("%d records failed", run.Errors)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&lookbackHours, "lookback-hours", 0,
		"how far back to scan (default: the lookback_hours setting)")
	return cmd
}
