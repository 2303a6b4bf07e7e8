package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Identity is one leg of a Graph identitySet.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// IdentitySet carries the possible identity kinds of a call participant.
// Exactly which field is set determines the participant classification.
type IdentitySet struct {
	User    *Identity `json:"user,omitempty"`
	Phone   *Identity `json:"phone,omitempty"`
	Guest   *Identity `json:"guest,omitempty"`
	AcsUser *Identity `json:"acsUser,omitempty"`
}

// Endpoint is one side of a call record session.
type Endpoint struct {
	Identity IdentitySet `json:"identity"`
}

// Session is one media session within a call record.
type Session struct {
	ID     string    `json:"id"`
	Caller *Endpoint `json:"caller"`
	Callee *Endpoint `json:"callee"`
}

// CallRecord describes a completed call, with sessions expanded.
type CallRecord struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"` // "peerToPeer" or "groupCall"
	StartDateTime time.Time    `json:"startDateTime"`
	EndDateTime   time.Time    `json:"endDateTime"`
	JoinWebURL    string       `json:"joinWebUrl"`
	Organizer     *IdentitySet `json:"organizer"`
	Sessions      []Session    `json:"sessions"`
}

// CallRecordPage is one page of a call record listing.
type CallRecordPage struct {
	Records  []CallRecord `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

// GetCallRecord fetches a call record by id with its sessions expanded.
func (c *Client) GetCallRecord(ctx context.Context, id string) (*CallRecord, error) {
	var record CallRecord
	u := c.url("/communications/callRecords/%s?$expand=sessions", url.PathEscape(id))
	if err := c.get(ctx, u, &record); err != nil {
		return nil, fmt.Errorf("fetching call record %s: %w", id, err)
	}
	return &record, nil
}

// ListCallRecords returns the first page of call records starting at or
// after cutoff. Follow Page.NextLink via ListCallRecordsPage until empty.
func (c *Client) ListCallRecords(ctx context.Context, cutoff time.Time) (*CallRecordPage, error) {
	filter := url.QueryEscape(fmt.Sprintf("startDateTime ge %s", cutoff.UTC().Format(time.RFC3339)))
	u := c.url("/communications/callRecords?$filter=%s", filter)
	return c.ListCallRecordsPage(ctx, u)
}

// ListCallRecordsPage fetches one page by absolute URL (first page or an
// @odata.nextLink).
func (c *Client) ListCallRecordsPage(ctx context.Context, pageURL string) (*CallRecordPage, error) {
	var page CallRecordPage
	if err := c.get(ctx, pageURL, &page); err != nil {
		return nil, fmt.Errorf("listing call records: %w", err)
	}
	return &page, nil
}
