package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// OutageInput describes a subscription that stopped delivering.
type OutageInput struct {
	Resource       string
	SubscriptionID string
	Reason         string
	Since          time.Time
}

// RecoveryInput describes a subscription coming back after an outage.
type RecoveryInput struct {
	Resource    string
	DownSince   time.Time
	RecoveredAt time.Time
}

// Service posts outage and recovery notices to the ops channel.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NotifyOutage posts a subscription-down notice.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyOutage(ctx context.Context, input OutageInput) {
	if s == nil {
		return
	}

	blocks := BuildOutageMessage(input)
	if err := s.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		s.logger.Error("Failed to send Slack outage notice",
			"resource", input.Resource,
			"error", err)
	}
}

// NotifyRecovery posts a recovery notice. The outage message is located by
// fingerprint in recent channel history so the recovery threads under it;
// restarts lose the in-memory thread timestamp but not the channel history.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyRecovery(ctx context.Context, input RecoveryInput) {
	if s == nil {
		return
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, outageFingerprint(input.Resource))
	if err != nil {
		s.logger.Warn("Failed to find outage message for threading",
			"resource", input.Resource,
			"error", err)
	}

	blocks := BuildRecoveryMessage(input)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack recovery notice",
			"resource", input.Resource,
			"error", err)
	}
}
