package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// SendMail sends an HTML email from the given mailbox (typically the shared
// mailbox) to the recipients.
func (c *Client) SendMail(ctx context.Context, from string, to []string, subject, htmlBody string) error {
	recipients := make([]map[string]any, 0, len(to))
	for _, addr := range to {
		recipients = append(recipients, map[string]any{
			"emailAddress": map[string]string{"address": addr},
		})
	}

	payload := map[string]any{
		"message": map[string]any{
			"subject": subject,
			"body": map[string]string{
				"contentType": "HTML",
				"content":     htmlBody,
			},
			"toRecipients": recipients,
		},
		"saveToSentItems": false,
	}

	u := c.url("/users/%s/sendMail", url.PathEscape(from))
	if err := c.post(ctx, u, payload, nil); err != nil {
		return fmt.Errorf("sending mail from %s: %w", from, err)
	}
	return nil
}

// MailMessage is one inbox message, used by the inbox command reader.
type MailMessage struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	BodyPreview      string    `json:"bodyPreview"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	From             struct {
		EmailAddress EmailAddress `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// ListUnreadMessages returns unread inbox messages of a mailbox, oldest
// first, capped at top.
func (c *Client) ListUnreadMessages(ctx context.Context, mailbox string, top int) ([]MailMessage, error) {
	u := c.url("/users/%s/mailFolders/inbox/messages?$filter=isRead%%20eq%%20false&$orderby=receivedDateTime&$top=%d",
		url.PathEscape(mailbox), top)

	var out struct {
		Value []MailMessage `json:"value"`
	}
	if err := c.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("listing unread messages for %s: %w", mailbox, err)
	}
	return out.Value, nil
}

// MarkMessageRead flags an inbox message as read so it is not reprocessed.
func (c *Client) MarkMessageRead(ctx context.Context, mailbox, messageID string) error {
	u := c.url("/users/%s/messages/%s", url.PathEscape(mailbox), url.PathEscape(messageID))
	if err := c.patch(ctx, u, map[string]bool{"isRead": true}, nil); err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	return nil
}
