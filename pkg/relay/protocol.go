package relay

import (
	"encoding/json"
	"fmt"
)

// controlMessage is one JSON frame on the control or rendezvous channel.
// Exactly one of the command fields is set.
type controlMessage struct {
	Accept  *acceptCommand  `json:"accept,omitempty"`
	Request *requestCommand `json:"request,omitempty"`
}

// acceptCommand tells the listener a sender is waiting on a rendezvous
// address.
type acceptCommand struct {
	Address        string            `json:"address"`
	ID             string            `json:"id"`
	ConnectHeaders map[string]string `json:"connectHeaders"`
}

// requestCommand is a relay-forwarded HTTP request. Body semantics: when
// Body is true the payload arrives as the next binary frame; otherwise the
// request has no body. Address, when set, directs the listener to answer on
// a rendezvous channel instead of the control channel.
type requestCommand struct {
	Address        string            `json:"address,omitempty"`
	ID             string            `json:"id"`
	Method         string            `json:"method"`
	RequestTarget  string            `json:"requestTarget"`
	RequestHeaders map[string]string `json:"requestHeaders"`
	Body           bool              `json:"body,omitempty"`
}

// responseCommand mirrors the request: status code as a string, headers,
// and a body sentinel announcing a following binary frame.
type responseCommand struct {
	RequestID       string            `json:"requestId,omitempty"`
	StatusCode      string            `json:"statusCode"`
	StatusText      string            `json:"statusDescription,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Body            bool              `json:"body,omitempty"`
}

// responseFrame wraps responseCommand for the wire.
type responseFrame struct {
	Response responseCommand `json:"response"`
}

// parseControlMessage decodes a JSON control frame.
func parseControlMessage(data []byte) (*controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding relay control frame: %w", err)
	}
	if msg.Accept == nil && msg.Request == nil {
		return nil, fmt.Errorf("relay control frame carries no known command")
	}
	return &msg, nil
}

// encodeResponse builds the JSON response frame. hasBody announces a binary
// body frame will follow.
func encodeResponse(requestID string, statusCode int, statusText string, headers map[string]string, hasBody bool) ([]byte, error) {
	frame := responseFrame{
		Response: responseCommand{
			RequestID:       requestID,
			StatusCode:      fmt.Sprintf("%d", statusCode),
			StatusText:      statusText,
			ResponseHeaders: headers,
			Body:            hasBody,
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding relay response frame: %w", err)
	}
	return data, nil
}
