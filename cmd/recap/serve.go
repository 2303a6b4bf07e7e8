package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/recaphq/recap/pkg/alerting"
	"github.com/recaphq/recap/pkg/api"
	"github.com/recaphq/recap/pkg/backfill"
	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/database"
	"github.com/recaphq/recap/pkg/discovery"
	"github.com/recaphq/recap/pkg/distribution"
	"github.com/recaphq/recap/pkg/events"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/inbox"
	"github.com/recaphq/recap/pkg/processors"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/relay"
	"github.com/recaphq/recap/pkg/slack"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/subscription"
	"github.com/recaphq/recap/pkg/summarize"
	"github.com/recaphq/recap/pkg/version"
	"github.com/recaphq/recap/pkg/webhook"
)

// safetyNetInterval is how often the periodic backfill pass runs to catch
// records whose notifications were lost.
const safetyNetInterval = 6 * time.Hour

func serveCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full pipeline: listener, workers, poller, and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configDir)
		},
	}
}

func runServe(configDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	podID := resolvePodID()
	slog.Info("Starting recap", "version", version.Full(), "pod_id", podID, "config_dir", configDir)

	cfg, err := config.Initialize(configDir)
	if err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Closing database failed", "error", err)
		}
	}()
	db := dbClient.DB()

	// Stores
	meetings := store.NewMeetingStore(db)
	parts := store.NewParticipantStore(db)
	transcripts := store.NewTranscriptStore(db)
	summaries := store.NewSummaryStore(db)
	prefs := store.NewPreferenceStore(db)
	aliases := store.NewAliasStore(db)
	processed := store.NewProcessedStore(db)
	subEvents := store.NewSubscriptionEventStore(db)
	runs := store.NewBackfillRunStore(db)

	// Live event stream: transactional publisher, dedicated LISTEN
	// connection, WebSocket fanout.
	connMgr := events.NewConnectionManager(10 * time.Second)
	notifyListener := events.NewNotifyListener(dbCfg.DSN(), connMgr)
	if err := notifyListener.Start(ctx); err != nil {
		return fmt.Errorf("starting notify listener: %w", err)
	}
	defer notifyListener.Stop(context.Background())
	connMgr.SetListener(notifyListener)
	publisher := events.NewPublisher(db)

	q := queue.New(db, publisher)
	graphClient := graph.NewClient(cfg.Graph)
	summarizer := summarize.NewAnthropicSummarizer(cfg.Summarizer)
	resolver := distribution.NewResolver(prefs, aliases, graphClient, cfg)

	registry := queue.NewRegistry()
	processors.RegisterAll(registry,
		processors.NewFetchTranscript(graphClient, meetings, parts, transcripts),
		processors.NewGenerateSummary(meetings, parts, transcripts, summaries, summarizer),
		processors.NewDistribute(graphClient, meetings, parts, summaries, resolver, cfg),
		processors.NewChatCommand(meetings, prefs, q),
	)

	reader := inbox.NewReader(graphClient, q, cfg)
	pool := queue.NewWorkerPool(podID, q, cfg.Queue, registry, reader)
	pool.RegisterCleanup("email_aliases", aliases.DeleteExpired)

	alerter := alerting.New(graphClient, newSlackService(cfg), cfg, cfg.Subscription.AlertCooldown)

	handler := webhook.NewHandler(meetings, parts, processed, prefs, q, graphClient, cfg, publisher)
	listener := relay.NewListener(cfg.Relay, webhook.NewRelayHandler(handler))

	subMgr, err := subscription.NewManager(graphClient, subEvents, alerter, cfg)
	if err != nil {
		return fmt.Errorf("initializing subscription manager: %w", err)
	}

	poller := discovery.NewPoller(graphClient, meetings, parts, q, cfg, publisher)
	safetyNet := backfill.NewRunner(graphClient, handler, processed, runs)

	apiServer := api.NewServer(api.Deps{
		DB:        db,
		Meetings:  meetings,
		Parts:     parts,
		Summaries: summaries,
		Queue:     q,
		Pool:      pool,
		Subs:      subMgr,
		SubEvents: subEvents,
		Events:    connMgr,
	}, cfg)

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return subMgr.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		return safetyNet.RunLoop(gctx, safetyNetInterval, func() int {
			return cfg.Settings().LookbackHours
		})
	})
	g.Go(func() error { return apiServer.Run(gctx) })
	g.Go(func() error {
		return cfg.Watch(gctx, func(s *config.Settings) { pool.ApplySettings(s) })
	})

	slog.Info("Recap started", "workers", cfg.Queue.WorkerCount)

	err = g.Wait()
	slog.Info("Shutting down")

	// Workers drain within the graceful window; anything still running is
	// reclaimed by orphan recovery on the next start.
	pool.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Runtime error forced shutdown", "error", err)
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

// newSlackService builds the optional secondary alert channel. Returns a
// nil-safe disabled service when not configured.
func newSlackService(cfg *config.Config) *slack.Service {
	if cfg.Slack == nil || !cfg.Slack.Enabled {
		return nil
	}
	token := os.Getenv(cfg.Slack.TokenEnv)
	if token == "" {
		slog.Warn("Slack alerts enabled but token env is empty", "env", cfg.Slack.TokenEnv)
		return nil
	}
	return slack.NewService(slack.ServiceConfig{Token: token, Channel: cfg.Slack.Channel})
}
