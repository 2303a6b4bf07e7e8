package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// History scan bounds for fingerprint lookup. Subscription outages can span
// days and process restarts, so the recovery notice searches a week of
// channel history to find the outage message it should thread under.
const (
	historyWindow   = 7 * 24 * time.Hour
	historyPageSize = 100
	historyMaxPages = 3
)

// Client wraps the slack-go SDK for the single ops channel the pipeline
// posts to.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewClient creates a client for the given bot token and channel.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack"),
	}
}

// NewClientWithAPIURL targets a custom API base URL. Tests point this at an
// httptest server.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return &Client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack"),
	}
}

// PostMessage sends Block Kit blocks to the ops channel, threaded under
// threadTS when non-empty.
func (c *Client) PostMessage(ctx context.Context, blocks []goslack.Block, threadTS string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	if _, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...); err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

// FindMessageByFingerprint scans recent ops-channel history for the message
// carrying the given fingerprint (the stable line embedded in every outage
// notice) and returns its timestamp for threading. Returns "" when the
// outage message has rotated out of the search window.
func (c *Client) FindMessageByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	oldest := fmt.Sprintf("%d", time.Now().Add(-historyWindow).Unix())
	normalized := normalizeText(fingerprint)

	cursor := ""
	for page := 0; page < historyMaxPages; page++ {
		history, err := c.api.GetConversationHistoryContext(ctx, &goslack.GetConversationHistoryParameters{
			ChannelID: c.channelID,
			Oldest:    oldest,
			Limit:     historyPageSize,
			Cursor:    cursor,
		})
		if err != nil {
			return "", fmt.Errorf("conversations.history failed: %w", err)
		}

		for _, msg := range history.Messages {
			if matchesFingerprint(msg, normalized) {
				return msg.Timestamp, nil
			}
		}

		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			return "", nil
		}
		cursor = history.ResponseMetaData.NextCursor
	}
	return "", nil
}
