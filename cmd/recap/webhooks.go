package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/database"
	"github.com/recaphq/recap/pkg/events"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/relay"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/subscription"
	"github.com/recaphq/recap/pkg/webhook"
)

// transcriptsResource is the org-wide transcript-ready notification feed.
const transcriptsResource = "/communications/onlineMeetings/getAllTranscripts"

func webhooksCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Manage Graph change-notification subscriptions",
	}
	cmd.AddCommand(
		webhooksListenCmd(configDir),
		webhooksSubscribeCmd(configDir, "subscribe",
			"Create the call-records subscription", subscription.CallRecordsResource),
		webhooksSubscribeCmd(configDir, "subscribe-transcripts",
			"Create the transcript-ready subscription", transcriptsResource),
		webhooksRenewAllCmd(configDir),
		webhooksListCmd(configDir),
		webhooksDeleteCmd(configDir),
		webhooksTestCmd(configDir),
	)
	return cmd
}

// webhooksListenCmd runs only the relay listener and ingestion path: no
// worker pool, no subscription manager. Useful when debugging delivery.
func webhooksListenCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Run the relay listener and ingest notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Initialize(*configDir)
			if err != nil {
				return err
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
			listener := relay.NewListener(cfg.Relay, webhook.NewRelayHandler(handler))

			fmt.Printf("✓ listening on %s\n", cfg.Relay.NotificationURL())
			return listener.Run(ctx)
		},
	}
}

func webhooksSubscribeCmd(configDir *string, use, short, resource string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Initialize(*configDir)
			if err != nil {
				return err
			}
			g := graph.NewClient(cfg.Graph)

			created, err := g.CreateSubscription(cmd.Context(), graph.Subscription{
				Resource:           resource,
				ChangeType:         "created",
				NotificationURL:    cfg.Relay.NotificationURL(),
				ExpirationDateTime: time.Now().Add(cfg.Subscription.CallRecordExpiration).UTC(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("✓ subscription %s for %s expires %s\n",
				created.ID, created.Resource, created.ExpirationDateTime.Format(time.RFC3339))
			return nil
		},
	}
}

func webhooksRenewAllCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "renew-all",
		Short: "Renew every subscription of this application",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Initialize(*configDir)
			if err != nil {
				return err
			}
			g := graph.NewClient(cfg.Graph)

			subs, err := g.ListSubscriptions(ctx)
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				fmt.Println("✓ no subscriptions to renew")
				return nil
			}

			expiration := time.Now().Add(cfg.Subscription.CallRecordExpiration).UTC()
			failed := 0
			for _, s := range subs {
				renewed, err := g.RenewSubscription(ctx, s.ID, expiration)
				if err != nil {
					failed++
					fmt.Printf("✗ %s (%s): %v\n", s.ID, s.Resource, err)
					continue
				}
				fmt.Printf("✓ %s (%s) now expires %s\n",
					renewed.ID, renewed.Resource, renewed.ExpirationDateTime.Format(time.RFC3339))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d renewals failed", failed, len(subs))
			}
			return nil
		},
	}
}

func webhooksListCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Initialize(*configDir)
			if err != nil {
				return err
			}
			subs, err := graph.NewClient(cfg.Graph).ListSubscriptions(cmd.Context())
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				fmt.Println("no active subscriptions")
				return nil
			}
			for _, s := range subs {
				fmt.Printf("%s  %-50s  expires %s\n",
					s.ID, s.Resource, s.ExpirationDateTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func webhooksDeleteCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <subscription-id>",
		Short: "Delete a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Initialize(*configDir)
			if err != nil {
				return err
			}
			if err := graph.NewClient(cfg.Graph).DeleteSubscription(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ deleted %s\n", args[0])
			return nil
		},
	}
}

// webhooksTestCmd performs the Graph validation handshake against the relay
// endpoint: post a validation token and require it echoed back. Proves the
// listener is connected end to end.
func webhooksTestCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Verify the relay endpoint answers a validation handshake",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Initialize(*configDir)
			if err != nil {
				return err
			}

			token := uuid.NewString()
			target := cfg.Relay.NotificationURL() + "?validationToken=" + url.QueryEscape(token)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("relay endpoint unreachable: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK || string(body) != token {
				return fmt.Errorf("validation not echoed (status %d)", resp.StatusCode)
			}
			fmt.Printf("✓ %s answered the validation handshake\n", cfg.Relay.NotificationURL())
			return nil
		},
	}
}
