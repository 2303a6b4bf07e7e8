// Package relay maintains the persistent listener channel to the Azure
// Relay hybrid connection that fronts the webhook endpoint. It answers
// provider validation handshakes directly and hands notification requests
// to the registered handler.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/recaphq/recap/pkg/config"
)

// bodyReadTimeout bounds the wait for the binary body frame that follows a
// body=true envelope.
const bodyReadTimeout = 10 * time.Second

// Reconnect backoff bounds.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Request is a relay-forwarded HTTP request delivered to the handler.
type Request struct {
	ID      string
	Method  string
	Target  string // path + raw query
	Headers map[string]string
	Body    []byte
}

// Response is what the handler returns for a relay request.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Handler processes relay-forwarded notification requests. Validation
// handshakes never reach the handler; the listener answers them itself.
type Handler interface {
	ServeRelay(ctx context.Context, req *Request) *Response
}

// Listener owns the single control channel to the hybrid connection and
// reconnects with backoff for as long as its context lives.
type Listener struct {
	cfg     *config.RelayConfig
	handler Handler
	log     *slog.Logger

	// Pooled client for rendezvous dials, so validation responses do not
	// pay a cold TLS handshake.
	dialClient *http.Client
}

// NewListener creates a relay listener delivering requests to handler.
func NewListener(cfg *config.RelayConfig, handler Handler) *Listener {
	return &Listener{
		cfg:     cfg,
		handler: handler,
		log:     slog.With("component", "relay-listener"),
		dialClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        8,
				IdleConnTimeout:     2 * time.Minute,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// Run connects the control channel and processes frames until ctx is
// cancelled, reconnecting on any channel error.
func (l *Listener) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, err := l.connect(ctx)
		if err != nil {
			l.log.Error("Control channel connect failed", "error", err, "backoff", backoff)
			metricRelayReconnects.Inc()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectMax)
			continue
		}

		l.log.Info("Control channel connected", "namespace", l.cfg.Namespace,
			"hybrid_connection", l.cfg.HybridConnection)
		backoff = reconnectBase

		err = l.frameLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("Control channel lost, reconnecting", "error", err)
		metricRelayReconnects.Inc()
	}
}

// connect dials the hybrid connection's listen endpoint with a fresh SAS
// token.
func (l *Listener) connect(ctx context.Context) (*websocket.Conn, error) {
	resourceURI := fmt.Sprintf("http://%s/%s", l.cfg.Namespace, l.cfg.HybridConnection)
	token := GenerateSASToken(resourceURI, l.cfg.KeyName, l.cfg.Key, sasTTL)

	listenURL := fmt.Sprintf("wss://%s/$hc/%s?sb-hc-action=listen&sb-hc-token=%s",
		l.cfg.Namespace, l.cfg.HybridConnection, url.QueryEscape(token))

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, listenURL, &websocket.DialOptions{
		HTTPClient: l.dialClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing relay listen endpoint: %w", err)
	}
	// Notification bodies can be sizeable batches.
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// frameLoop reads control frames until the channel errors.
func (l *Listener) frameLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			l.log.Warn("Unexpected binary frame on control channel, ignoring", "bytes", len(data))
			continue
		}

		msg, err := parseControlMessage(data)
		if err != nil {
			l.log.Warn("Unparseable control frame", "error", err)
			continue
		}

		switch {
		case msg.Accept != nil:
			// Rendezvous accept: answered on its own channel so the control
			// loop keeps draining frames.
			go l.handleAccept(ctx, msg.Accept)
		case msg.Request != nil:
			if err := l.handleRequest(ctx, conn, msg.Request); err != nil {
				return err
			}
		}
	}
}

// handleAccept opens the rendezvous channel for a validation handshake and
// answers with the JSON response frame followed by the bare token as a
// binary frame.
func (l *Listener) handleAccept(ctx context.Context, accept *acceptCommand) {
	start := time.Now()

	conn, err := l.dialRendezvous(ctx, accept.Address)
	if err != nil {
		l.log.Error("Rendezvous dial failed", "id", accept.ID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	token := validationToken(targetFromAccept(accept))
	if token == "" {
		l.log.Warn("Accept without validation token", "id", accept.ID)
		return
	}
	metricRelayRequests.WithLabelValues("validation").Inc()

	if err := l.writeResponse(ctx, conn, "", &Response{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       []byte(token),
	}); err != nil {
		l.log.Error("Validation response failed", "id", accept.ID, "error", err)
		return
	}
	l.log.Info("Validation handshake answered",
		"id", accept.ID, "duration", time.Since(start).Round(time.Millisecond))
}

// handleRequest answers a relay-forwarded request: validation handshakes
// directly, everything else through the handler. Responses go to the
// rendezvous address when the envelope names one, else back on the control
// channel.
func (l *Listener) handleRequest(ctx context.Context, control *websocket.Conn, req *requestCommand) error {
	var body []byte
	if req.Body {
		readCtx, cancel := context.WithTimeout(ctx, bodyReadTimeout)
		msgType, data, err := control.Read(readCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("reading request body frame: %w", err)
		}
		if msgType != websocket.MessageBinary {
			return fmt.Errorf("expected binary body frame, got text")
		}
		body = data
	}

	respConn := control
	if req.Address != "" {
		conn, err := l.dialRendezvous(ctx, req.Address)
		if err != nil {
			l.log.Error("Rendezvous dial for request failed", "id", req.ID, "error", err)
			return nil
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		respConn = conn
	}

	var resp *Response
	if token := validationToken(req.RequestTarget); token != "" {
		metricRelayRequests.WithLabelValues("validation").Inc()
		resp = &Response{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       []byte(token),
		}
	} else {
		metricRelayRequests.WithLabelValues("notification").Inc()
		resp = l.handler.ServeRelay(ctx, &Request{
			ID:      req.ID,
			Method:  req.Method,
			Target:  req.RequestTarget,
			Headers: req.RequestHeaders,
			Body:    body,
		})
	}

	if err := l.writeResponse(ctx, respConn, req.ID, resp); err != nil {
		if respConn == control {
			return fmt.Errorf("writing response on control channel: %w", err)
		}
		l.log.Error("Writing rendezvous response failed", "id", req.ID, "error", err)
	}
	return nil
}

// writeResponse sends the JSON response frame, then the body as a binary
// frame when present.
func (l *Listener) writeResponse(ctx context.Context, conn *websocket.Conn, requestID string, resp *Response) error {
	hasBody := len(resp.Body) > 0
	frame, err := encodeResponse(requestID, resp.StatusCode, http.StatusText(resp.StatusCode), resp.Headers, hasBody)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("writing response frame: %w", err)
	}
	if hasBody {
		if err := conn.Write(writeCtx, websocket.MessageBinary, resp.Body); err != nil {
			return fmt.Errorf("writing response body frame: %w", err)
		}
	}
	return nil
}

// dialRendezvous opens the ephemeral channel named by an accept or request
// address, appending a fresh SAS token.
func (l *Listener) dialRendezvous(ctx context.Context, address string) (*websocket.Conn, error) {
	resourceURI := fmt.Sprintf("http://%s/%s", l.cfg.Namespace, l.cfg.HybridConnection)
	token := GenerateSASToken(resourceURI, l.cfg.KeyName, l.cfg.Key, sasTTL)

	sep := "?"
	if strings.Contains(address, "?") {
		sep = "&"
	}
	rendezvousURL := address + sep + "sb-hc-token=" + url.QueryEscape(token)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, rendezvousURL, &websocket.DialOptions{
		HTTPClient: l.dialClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing rendezvous channel: %w", err)
	}
	return conn, nil
}

// validationToken extracts the provider validation token from a request
// target's query string, or returns "".
func validationToken(target string) string {
	idx := strings.IndexByte(target, '?')
	if idx < 0 {
		return ""
	}
	values, err := url.ParseQuery(target[idx+1:])
	if err != nil {
		return ""
	}
	return values.Get("validationToken")
}

// targetFromAccept extracts the original request target from an accept's
// connect headers (the relay forwards the query there).
func targetFromAccept(accept *acceptCommand) string {
	for _, key := range []string{"Sec-Websocket-Protocol", "X-Original-Target"} {
		if v, ok := accept.ConnectHeaders[key]; ok && strings.Contains(v, "validationToken") {
			return v
		}
	}
	// Fall back to the address itself; the relay appends the original
	// query string to the rendezvous address.
	return accept.Address
}
