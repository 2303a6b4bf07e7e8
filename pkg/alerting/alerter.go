// Package alerting delivers subscription outage and recovery notices.
// Email through the shared mailbox is the primary channel; a Slack ops
// channel is an optional copy. Outage alerts for the same resource are
// suppressed for a cooldown window so a flapping subscription does not
// page on every check cycle.
package alerting

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/slack"
)

const defaultCooldown = 6 * time.Hour

// Mailer sends HTML email. Satisfied by *graph.Client.
type Mailer interface {
	SendMail(ctx context.Context, from string, to []string, subject, htmlBody string) error
}

// Outage describes a subscription that stopped delivering notifications.
type Outage struct {
	Resource       string
	SubscriptionID string
	Reason         string
	Since          time.Time
}

// Recovery describes a subscription coming back after an outage.
type Recovery struct {
	Resource       string
	SubscriptionID string
	DownSince      time.Time
	RecoveredAt    time.Time
}

// Downtime is the outage length.
func (r Recovery) Downtime() time.Duration {
	d := r.RecoveredAt.Sub(r.DownSince)
	if d < 0 {
		return 0
	}
	return d
}

// Alerter fans outage and recovery notices out to the configured channels.
// Nil-safe: all methods are no-ops on a nil receiver.
type Alerter struct {
	mailer   Mailer
	slack    *slack.Service
	cfg      *config.Config
	cooldown time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu         sync.Mutex
	lastOutage map[string]time.Time
}

// New wires an alerter. A zero cooldown falls back to the 6-hour default.
// The slack service may be nil; email recipients come from settings.
func New(mailer Mailer, slackSvc *slack.Service, cfg *config.Config, cooldown time.Duration) *Alerter {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Alerter{
		mailer:     mailer,
		slack:      slackSvc,
		cfg:        cfg,
		cooldown:   cooldown,
		now:        time.Now,
		log:        slog.With("component", "alerting"),
		lastOutage: map[string]time.Time{},
	}
}

// SubscriptionDown sends an outage alert unless one for the same resource
// went out within the cooldown window. Returns whether the alert was sent.
// Delivery failures are logged, not returned: alerting never takes the
// subscription manager down with it.
func (a *Alerter) SubscriptionDown(ctx context.Context, o Outage) bool {
	if a == nil {
		return false
	}
	settings := a.cfg.Settings()
	if !settings.AlertsEnabled() {
		a.log.Debug("Outage alert skipped, alerting disabled", "resource", o.Resource)
		return false
	}

	a.mu.Lock()
	if last, ok := a.lastOutage[o.Resource]; ok && a.now().Sub(last) < a.cooldown {
		a.mu.Unlock()
		a.log.Info("Outage alert suppressed by cooldown",
			"resource", o.Resource, "last_alert", last)
		return false
	}
	a.lastOutage[o.Resource] = a.now()
	a.mu.Unlock()

	a.log.Warn("Subscription down",
		"resource", o.Resource, "subscription_id", o.SubscriptionID,
		"since", o.Since, "reason", o.Reason)

	a.sendMail(ctx, settings,
		fmt.Sprintf("[recap] Subscription down: %s", o.Resource),
		outageBody(o))
	a.slack.NotifyOutage(ctx, slack.OutageInput{
		Resource:       o.Resource,
		SubscriptionID: o.SubscriptionID,
		Reason:         o.Reason,
		Since:          o.Since,
	})
	return true
}

// SubscriptionRecovered sends a recovery notice and clears the outage
// cooldown so a relapse alerts immediately. Recovery is never suppressed;
// the caller's down/up pairing already guarantees exactly one per outage.
func (a *Alerter) SubscriptionRecovered(ctx context.Context, r Recovery) {
	if a == nil {
		return
	}

	a.mu.Lock()
	delete(a.lastOutage, r.Resource)
	a.mu.Unlock()

	settings := a.cfg.Settings()
	if !settings.AlertsEnabled() {
		return
	}

	a.log.Info("Subscription recovered",
		"resource", r.Resource, "subscription_id", r.SubscriptionID,
		"downtime", r.Downtime())

	a.sendMail(ctx, settings,
		fmt.Sprintf("[recap] Subscription recovered: %s", r.Resource),
		recoveryBody(r))
	a.slack.NotifyRecovery(ctx, slack.RecoveryInput{
		Resource:    r.Resource,
		DownSince:   r.DownSince,
		RecoveredAt: r.RecoveredAt,
	})
}

func (a *Alerter) sendMail(ctx context.Context, settings *config.Settings, subject, body string) {
	if a.mailer == nil || settings.AlertSender == "" || len(settings.AlertRecipients) == 0 {
		return
	}
	if err := a.mailer.SendMail(ctx, settings.AlertSender, settings.AlertRecipients, subject, body); err != nil {
		a.log.Error("Alert email failed", "subject", subject, "error", err)
	}
}

const alertTimeLayout = "2006-01-02 15:04:05 MST"

func outageBody(o Outage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Change notifications for <b>%s</b> stopped at %s.</p>",
		html.EscapeString(o.Resource), o.Since.UTC().Format(alertTimeLayout))
	if o.SubscriptionID != "" {
		fmt.Fprintf(&b, "<p>Subscription: <code>%s</code></p>", html.EscapeString(o.SubscriptionID))
	}
	if o.Reason != "" {
		fmt.Fprintf(&b, "<p>Reason: %s</p>", html.EscapeString(o.Reason))
	}
	b.WriteString("<p>Meetings ending while the subscription is down are caught up by the next backfill run.</p>")
	return b.String()
}

func recoveryBody(r Recovery) string {
	return fmt.Sprintf(
		"<p>Change notifications for <b>%s</b> are flowing again.</p><p>Down since %s, recovered at %s (downtime %s).</p>",
		html.EscapeString(r.Resource),
		r.DownSince.UTC().Format(alertTimeLayout),
		r.RecoveredAt.UTC().Format(alertTimeLayout),
		r.Downtime().Round(time.Second))
}
