// Package subscription keeps the Graph change-notification subscription for
// call records alive: ensure on startup, periodic health checks with renew
// inside a 12-hour window, delete-and-recreate when renewal fails, and a
// once-daily full refresh. Lifecycle transitions are recorded as audit rows
// and outages are alerted through pkg/alerting.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/recaphq/recap/pkg/alerting"
	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/store"
)

// CallRecordsResource is the resource path watched for finished calls.
const CallRecordsResource = "/communications/callRecords"

const changeType = "created"

// API is the subscription slice of the Graph client.
type API interface {
	ListSubscriptions(ctx context.Context) ([]graph.Subscription, error)
	CreateSubscription(ctx context.Context, sub graph.Subscription) (*graph.Subscription, error)
	RenewSubscription(ctx context.Context, id string, expiration time.Time) (*graph.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Manager owns the call-record subscription lifecycle. All Graph calls run
// in the manager's goroutine, never on the relay listener's frame loop.
type Manager struct {
	graph   API
	events  *store.SubscriptionEventStore
	alerter *alerting.Alerter
	cfg     *config.Config
	now     func() time.Time
	log     *slog.Logger

	mu          sync.Mutex
	state       *downState
	lastRefresh string // date of last daily refresh, "2006-01-02"
}

// Status is the manager snapshot served by the ops API.
type Status struct {
	Subscriptions []graph.Subscription `json:"subscriptions"`
	Down          bool                 `json:"down"`
	DownSince     *time.Time           `json:"down_since,omitempty"`
}

// NewManager loads persisted down state and wires a manager.
func NewManager(api API, events *store.SubscriptionEventStore, alerter *alerting.Alerter, cfg *config.Config) (*Manager, error) {
	state, err := loadDownState(cfg.Subscription.DownStateFile)
	if err != nil {
		return nil, err
	}
	return &Manager{
		graph:   api,
		events:  events,
		alerter: alerter,
		cfg:     cfg,
		now:     time.Now,
		log:     slog.With("component", "subscription"),
		state:   state,
	}, nil
}

// Run drives the manager until ctx is cancelled: startup delay, ensure with
// retries, then a periodic health check.
func (m *Manager) Run(ctx context.Context) error {
	sub := m.cfg.Subscription

	select {
	case <-time.After(sub.StartupDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	m.ensureWithRetries(ctx)

	ticker := time.NewTicker(sub.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ensureWithRetries runs the startup ensure loop: a fixed number of attempts
// with a fixed delay, marking the subscription down when all fail.
func (m *Manager) ensureWithRetries(ctx context.Context) {
	sub := m.cfg.Subscription
	var lastErr error
	for attempt := 1; attempt <= sub.EnsureRetries; attempt++ {
		err := m.ensure(ctx, "startup")
		if err == nil {
			return
		}
		lastErr = err
		m.log.Warn("Startup subscription ensure failed",
			"attempt", attempt, "max_attempts", sub.EnsureRetries, "error", err)
		if attempt == sub.EnsureRetries {
			break
		}
		select {
		case <-time.After(sub.EnsureRetryDelay):
		case <-ctx.Done():
			return
		}
	}
	m.markDown(ctx, "startup", "", fmt.Sprintf("startup ensure failed after %d attempts: %v", sub.EnsureRetries, lastErr))
}

// check is one periodic pass: the daily refresh when its hour arrives,
// otherwise a plain ensure.
func (m *Manager) check(ctx context.Context) {
	now := m.now()
	today := now.Format("2006-01-02")

	m.mu.Lock()
	refreshDue := now.Hour() == m.cfg.Subscription.DailyRefreshHour && m.lastRefresh != today
	if refreshDue {
		m.lastRefresh = today
	}
	m.mu.Unlock()

	var err error
	if refreshDue {
		err = m.refresh(ctx)
	} else {
		err = m.ensure(ctx, "check")
	}
	if err != nil {
		m.markDown(ctx, "check", "", err.Error())
	}
}

// ensure lists subscriptions, prunes stale ones pointed at old notification
// URLs, creates one when none is valid, and renews any inside the renew
// window. Renew failure falls back to delete and recreate.
func (m *Manager) ensure(ctx context.Context, source string) error {
	subs, err := m.graph.ListSubscriptions(ctx)
	if err != nil {
		m.recordFailed(ctx, source, "", fmt.Sprintf("list: %v", err))
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	notificationURL := m.cfg.Relay.NotificationURL()
	var valid []graph.Subscription
	for _, s := range subs {
		if !strings.EqualFold(s.Resource, CallRecordsResource) {
			continue
		}
		if s.NotificationURL != notificationURL {
			// Left over from a previous relay endpoint.
			m.log.Info("Deleting stale subscription",
				"subscription_id", s.ID, "notification_url", s.NotificationURL)
			if err := m.graph.DeleteSubscription(ctx, s.ID); err != nil {
				m.log.Warn("Stale subscription delete failed", "subscription_id", s.ID, "error", err)
			}
			continue
		}
		valid = append(valid, s)
	}

	if len(valid) == 0 {
		created, err := m.create(ctx, source)
		if err != nil {
			return err
		}
		m.markHealthy(ctx, created.ID)
		return nil
	}

	healthyID := valid[0].ID
	for _, s := range valid {
		if m.now().Add(m.cfg.Subscription.RenewWindow).Before(s.ExpirationDateTime) {
			continue
		}
		renewed, err := m.renewOrRecreate(ctx, source, s)
		if err != nil {
			return err
		}
		healthyID = renewed.ID
	}

	m.markHealthy(ctx, healthyID)
	return nil
}

// refresh is the once-daily delete-and-recreate pass.
func (m *Manager) refresh(ctx context.Context) error {
	subs, err := m.graph.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions for refresh: %w", err)
	}
	for _, s := range subs {
		if !strings.EqualFold(s.Resource, CallRecordsResource) {
			continue
		}
		if err := m.graph.DeleteSubscription(ctx, s.ID); err != nil {
			m.log.Warn("Daily refresh delete failed", "subscription_id", s.ID, "error", err)
		}
	}
	created, err := m.create(ctx, "daily_refresh")
	if err != nil {
		return err
	}
	m.log.Info("Daily subscription refresh complete", "subscription_id", created.ID)
	m.markHealthy(ctx, created.ID)
	return nil
}

func (m *Manager) create(ctx context.Context, source string) (*graph.Subscription, error) {
	created, err := m.graph.CreateSubscription(ctx, graph.Subscription{
		Resource:           CallRecordsResource,
		ChangeType:         changeType,
		NotificationURL:    m.cfg.Relay.NotificationURL(),
		ExpirationDateTime: m.now().Add(m.cfg.Subscription.CallRecordExpiration).UTC(),
	})
	if err != nil {
		m.recordFailed(ctx, source, "", fmt.Sprintf("create: %v", err))
		return nil, fmt.Errorf("creating subscription: %w", err)
	}

	m.log.Info("Subscription created",
		"subscription_id", created.ID, "expires", created.ExpirationDateTime)
	m.record(ctx, &models.SubscriptionEvent{
		EventType:      models.SubscriptionEventCreated,
		Source:         source,
		SubscriptionID: &created.ID,
	})
	return created, nil
}

func (m *Manager) renewOrRecreate(ctx context.Context, source string, s graph.Subscription) (*graph.Subscription, error) {
	expiration := m.now().Add(m.cfg.Subscription.CallRecordExpiration).UTC()
	renewed, err := m.graph.RenewSubscription(ctx, s.ID, expiration)
	if err == nil {
		m.log.Info("Subscription renewed", "subscription_id", s.ID, "expires", renewed.ExpirationDateTime)
		m.record(ctx, &models.SubscriptionEvent{
			EventType:      models.SubscriptionEventRenewed,
			Source:         source,
			SubscriptionID: &s.ID,
		})
		return renewed, nil
	}

	m.log.Warn("Subscription renew failed, recreating", "subscription_id", s.ID, "error", err)
	m.recordFailed(ctx, source, s.ID, fmt.Sprintf("renew: %v", err))
	if err := m.graph.DeleteSubscription(ctx, s.ID); err != nil {
		m.log.Warn("Delete of unrenewable subscription failed", "subscription_id", s.ID, "error", err)
	}
	return m.create(ctx, source)
}

// markDown records the transition into an outage (once) and alerts; the
// alerter's cooldown keeps repeated failures quiet.
func (m *Manager) markDown(ctx context.Context, source, subscriptionID, reason string) {
	m.mu.Lock()
	rec, alreadyDown := m.state.get(CallRecordsResource)
	if !alreadyDown {
		resource := CallRecordsResource
		ev := &models.SubscriptionEvent{
			EventType:    models.SubscriptionEventDown,
			Source:       source,
			Resource:     &resource,
			ErrorMessage: &reason,
		}
		if subscriptionID != "" {
			ev.SubscriptionID = &subscriptionID
		}
		if err := m.events.Insert(ctx, ev); err != nil {
			m.log.Error("Down event insert failed", "error", err)
		}
		rec = downRecord{
			Resource:       CallRecordsResource,
			SubscriptionID: subscriptionID,
			DownEventID:    ev.ID,
			Since:          m.now().UTC(),
		}
		if err := m.state.set(rec); err != nil {
			m.log.Error("Down-state persist failed", "error", err)
		}
	}
	m.mu.Unlock()

	m.alerter.SubscriptionDown(ctx, alerting.Outage{
		Resource:       CallRecordsResource,
		SubscriptionID: rec.SubscriptionID,
		Reason:         reason,
		Since:          rec.Since,
	})
}

// markHealthy closes an open outage: pairs the up event with the recorded
// down event, computes downtime, and sends exactly one recovery alert.
func (m *Manager) markHealthy(ctx context.Context, subscriptionID string) {
	m.mu.Lock()
	rec, wasDown := m.state.get(CallRecordsResource)
	if wasDown {
		if err := m.state.clear(CallRecordsResource); err != nil {
			m.log.Error("Down-state clear failed", "error", err)
		}
	}
	m.mu.Unlock()
	if !wasDown {
		return
	}

	recoveredAt := m.now().UTC()
	downEventID := rec.DownEventID
	if downEventID == "" {
		if down, err := m.events.LatestUnpairedDown(ctx, CallRecordsResource); err == nil {
			downEventID = down.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			m.log.Error("Unpaired down event lookup failed", "error", err)
		}
	}

	resource := CallRecordsResource
	downtime := int64(recoveredAt.Sub(rec.Since).Seconds())
	ev := &models.SubscriptionEvent{
		EventType:       models.SubscriptionEventUp,
		Source:          "check",
		Resource:        &resource,
		SubscriptionID:  &subscriptionID,
		DowntimeSeconds: &downtime,
	}
	if downEventID != "" {
		ev.DownEventID = &downEventID
	}
	if err := m.events.Insert(ctx, ev); err != nil {
		m.log.Error("Up event insert failed", "error", err)
	}

	m.log.Info("Subscription recovered",
		"subscription_id", subscriptionID, "downtime_seconds", downtime)
	m.alerter.SubscriptionRecovered(ctx, alerting.Recovery{
		Resource:       CallRecordsResource,
		SubscriptionID: subscriptionID,
		DownSince:      rec.Since,
		RecoveredAt:    recoveredAt,
	})
}

func (m *Manager) recordFailed(ctx context.Context, source, subscriptionID, reason string) {
	resource := CallRecordsResource
	ev := &models.SubscriptionEvent{
		EventType:    models.SubscriptionEventFailed,
		Source:       source,
		Resource:     &resource,
		ErrorMessage: &reason,
	}
	if subscriptionID != "" {
		ev.SubscriptionID = &subscriptionID
	}
	m.record(ctx, ev)
}

func (m *Manager) record(ctx context.Context, ev *models.SubscriptionEvent) {
	if ev.Resource == nil {
		resource := CallRecordsResource
		ev.Resource = &resource
	}
	if err := m.events.Insert(ctx, ev); err != nil {
		m.log.Error("Subscription event insert failed", "event_type", ev.EventType, "error", err)
	}
}

// Status reports current subscriptions and outage state for the ops API.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	subs, err := m.graph.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	matching := make([]graph.Subscription, 0, len(subs))
	for _, s := range subs {
		if strings.EqualFold(s.Resource, CallRecordsResource) {
			matching = append(matching, s)
		}
	}

	st := &Status{Subscriptions: matching}
	m.mu.Lock()
	if rec, ok := m.state.get(CallRecordsResource); ok {
		st.Down = true
		since := rec.Since
		st.DownSince = &since
	}
	m.mu.Unlock()
	return st, nil
}
