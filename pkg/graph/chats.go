package graph

import (
	"context"
	"fmt"
	"net/url"
)

// PostChatMessage posts an HTML message to a chat thread.
func (c *Client) PostChatMessage(ctx context.Context, chatID, htmlContent string) error {
	payload := map[string]any{
		"body": map[string]string{
			"contentType": "html",
			"content":     htmlContent,
		},
	}
	u := c.url("/chats/%s/messages", url.PathEscape(chatID))
	if err := c.post(ctx, u, payload, nil); err != nil {
		return fmt.Errorf("posting chat message to %s: %w", chatID, err)
	}
	return nil
}
