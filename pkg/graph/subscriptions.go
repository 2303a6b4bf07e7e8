package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Subscription is a Graph change-notification subscription.
type Subscription struct {
	ID                 string    `json:"id,omitempty"`
	Resource           string    `json:"resource"`
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}

// ListSubscriptions returns all active subscriptions of the application.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var out struct {
		Value []Subscription `json:"value"`
	}
	if err := c.get(ctx, c.url("/subscriptions"), &out); err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return out.Value, nil
}

// CreateSubscription registers a new change-notification subscription.
func (c *Client) CreateSubscription(ctx context.Context, sub Subscription) (*Subscription, error) {
	var created Subscription
	if err := c.post(ctx, c.url("/subscriptions"), sub, &created); err != nil {
		return nil, fmt.Errorf("creating subscription for %s: %w", sub.Resource, err)
	}
	return &created, nil
}

// RenewSubscription extends a subscription's expiration.
func (c *Client) RenewSubscription(ctx context.Context, id string, expiration time.Time) (*Subscription, error) {
	payload := map[string]string{
		"expirationDateTime": expiration.UTC().Format(time.RFC3339),
	}
	var renewed Subscription
	u := c.url("/subscriptions/%s", url.PathEscape(id))
	if err := c.patch(ctx, u, payload, &renewed); err != nil {
		return nil, fmt.Errorf("renewing subscription %s: %w", id, err)
	}
	return &renewed, nil
}

// DeleteSubscription removes a subscription.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	if err := c.delete(ctx, c.url("/subscriptions/%s", url.PathEscape(id))); err != nil {
		return fmt.Errorf("deleting subscription %s: %w", id, err)
	}
	return nil
}
