package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/recaphq/recap/pkg/relay"
)

// RelayHandler adapts the notification handler to the relay listener.
// Validation handshakes are answered by the listener itself and never reach
// this code.
type RelayHandler struct {
	handler *Handler
}

// NewRelayHandler wraps a notification handler for relay delivery.
func NewRelayHandler(h *Handler) *RelayHandler {
	return &RelayHandler{handler: h}
}

// ServeRelay decodes the notification envelope and processes the batch. The
// provider only needs a 202 to stop redelivering; per-notification statuses
// are returned in the body for operators replaying requests by hand.
func (r *RelayHandler) ServeRelay(ctx context.Context, req *relay.Request) *relay.Response {
	if req.Method != http.MethodPost {
		return &relay.Response{StatusCode: http.StatusMethodNotAllowed}
	}

	notifications, err := ParseEnvelope(req.Body)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	statuses := r.handler.HandleNotifications(ctx, notifications)
	return jsonResponse(http.StatusAccepted, map[string]any{"value": statuses})
}

func jsonResponse(status int, body any) *relay.Response {
	data, err := json.Marshal(body)
	if err != nil {
		return &relay.Response{StatusCode: http.StatusInternalServerError}
	}
	return &relay.Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       data,
	}
}
