// Package graph is a thin Microsoft Graph REST client covering the resources
// the pipeline consumes: call records, online-meeting transcripts, users and
// calendar views, mail, chat messages, and change-notification subscriptions.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/recaphq/recap/pkg/config"
)

// Client is a Microsoft Graph API client using app-only (client credentials)
// authentication. Safe for concurrent use.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokens        *tokenProvider
	sharedMailbox string
}

// NewClient creates a Graph client from configuration.
func NewClient(cfg *config.GraphConfig) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		tokens:        newTokenProvider(cfg.TenantID, cfg.ClientID, cfg.ClientSecret),
		sharedMailbox: cfg.SharedMailbox,
	}
}

// SharedMailbox returns the configured shared mailbox address.
func (c *Client) SharedMailbox() string {
	return c.sharedMailbox
}

// get performs a GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, url string, out any) error {
	body, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding graph response: %w", err)
	}
	return nil
}

// getRaw performs a GET and returns the raw response body. Used for
// transcript content downloads.
func (c *Client) getRaw(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil, "")
}

// post sends a JSON body and optionally decodes the JSON response into out.
func (c *Client) post(ctx context.Context, url string, in, out any) error {
	return c.send(ctx, http.MethodPost, url, in, out)
}

// patch sends a JSON body and optionally decodes the JSON response into out.
func (c *Client) patch(ctx context.Context, url string, in, out any) error {
	return c.send(ctx, http.MethodPatch, url, in, out)
}

// delete performs a DELETE.
func (c *Client) delete(ctx context.Context, url string) error {
	_, err := c.do(ctx, http.MethodDelete, url, nil, "")
	return err
}

func (c *Client) send(ctx context.Context, method, url string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding graph request: %w", err)
		}
	}
	body, err := c.do(ctx, method, url, payload, "application/json")
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding graph response: %w", err)
	}
	return nil
}

// do executes one request with bearer auth. A 401 forces a single token
// refresh and one retry; any second 401 is returned as-is.
func (c *Client) do(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, error) {
	body, err := c.doOnce(ctx, method, url, payload, contentType)
	if err != nil && IsAuthError(err) {
		slog.Debug("Graph request returned 401, refreshing token", "method", method, "url", url)
		c.tokens.Invalidate()
		return c.doOnce(ctx, method, url, payload, contentType)
	}
	return body, err
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading graph response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, parseAPIError(resp, body)
}

// parseAPIError builds an APIError from a non-2xx response.
func parseAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

// url joins a path (beginning with /) onto the base URL.
func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}
