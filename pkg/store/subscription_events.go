package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recaphq/recap/pkg/models"
)

// SubscriptionEventStore is the audit trail for subscription lifecycle
// transitions, including down/up pairs used to compute downtime.
type SubscriptionEventStore struct {
	db *sqlx.DB
}

// NewSubscriptionEventStore creates a subscription event repository.
func NewSubscriptionEventStore(db *sqlx.DB) *SubscriptionEventStore {
	return &SubscriptionEventStore{db: db}
}

// Insert appends an event to the audit trail.
func (s *SubscriptionEventStore) Insert(ctx context.Context, ev *models.SubscriptionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO subscription_events (
			id, event_type, source, subscription_id, resource, error_message,
			down_event_id, downtime_seconds, created_at
		) VALUES (
			:id, :event_type, :source, :subscription_id, :resource, :error_message,
			:down_event_id, :downtime_seconds, :created_at
		)`, ev)
	if err != nil {
		return fmt.Errorf("insert subscription event: %w", err)
	}
	return nil
}

// Get fetches one event by id.
func (s *SubscriptionEventStore) Get(ctx context.Context, id string) (*models.SubscriptionEvent, error) {
	var ev models.SubscriptionEvent
	err := s.db.GetContext(ctx, &ev,
		`SELECT * FROM subscription_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription event: %w", err)
	}
	return &ev, nil
}

// LatestUnpairedDown returns the most recent down event for a resource that
// no up event references yet, so recovery can compute the outage length.
func (s *SubscriptionEventStore) LatestUnpairedDown(ctx context.Context, resource string) (*models.SubscriptionEvent, error) {
	var ev models.SubscriptionEvent
	err := s.db.GetContext(ctx, &ev, `
		SELECT * FROM subscription_events
		WHERE event_type = $1 AND resource = $2
		  AND id NOT IN (
			SELECT down_event_id FROM subscription_events
			WHERE down_event_id IS NOT NULL
		  )
		ORDER BY created_at DESC
		LIMIT 1`, models.SubscriptionEventDown, resource)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest unpaired down event: %w", err)
	}
	return &ev, nil
}

// Recent lists the newest events, most recent first.
func (s *SubscriptionEventStore) Recent(ctx context.Context, limit int) ([]*models.SubscriptionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var evs []*models.SubscriptionEvent
	err := s.db.SelectContext(ctx, &evs, `
		SELECT * FROM subscription_events
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent subscription events: %w", err)
	}
	return evs, nil
}
