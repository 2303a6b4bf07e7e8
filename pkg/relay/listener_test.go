package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/config"
)

type recordingHandler struct {
	mu       sync.Mutex
	requests []*Request
	resp     *Response
}

func (h *recordingHandler) ServeRelay(_ context.Context, req *Request) *Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
	if h.resp != nil {
		return h.resp
	}
	return &Response{StatusCode: http.StatusAccepted}
}

func (h *recordingHandler) received() []*Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Request(nil), h.requests...)
}

// startFakeRelay runs an httptest WebSocket endpoint and hands the accepted
// server-side connection to drive, while the listener's frame loop runs on
// the client side.
func startFakeRelay(t *testing.T, handler Handler, drive func(ctx context.Context, relay *websocket.Conn)) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer clientConn.Close(websocket.StatusNormalClosure, "")

	l := NewListener(&config.RelayConfig{
		Namespace:        "contoso.servicebus.windows.net",
		HybridConnection: "recap-hc",
		KeyName:          "listen-policy",
		Key:              "secret",
	}, handler)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = l.frameLoop(ctx, clientConn)
	}()

	relayConn := <-accepted
	drive(ctx, relayConn)

	relayConn.Close(websocket.StatusNormalClosure, "")
	select {
	case <-loopDone:
	case <-ctx.Done():
		t.Fatal("frame loop did not exit after relay close")
	}
}

func TestListener_ForwardsNotificationToHandler(t *testing.T) {
	handler := &recordingHandler{}

	startFakeRelay(t, handler, func(ctx context.Context, relay *websocket.Conn) {
		frame := `{"request":{"id":"req-1","method":"POST","requestTarget":"/recap-hc","requestHeaders":{"Content-Type":"application/json"},"body":true}}`
		require.NoError(t, relay.Write(ctx, websocket.MessageText, []byte(frame)))
		require.NoError(t, relay.Write(ctx, websocket.MessageBinary, []byte(`{"value":[]}`)))

		msgType, data, err := relay.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, msgType)

		msg := string(data)
		assert.Contains(t, msg, `"statusCode":"202"`)
		assert.Contains(t, msg, `"requestId":"req-1"`)
	})

	reqs := handler.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "POST", reqs[0].Method)
	assert.Equal(t, "/recap-hc", reqs[0].Target)
	assert.Equal(t, `{"value":[]}`, string(reqs[0].Body))
	assert.Equal(t, "application/json", reqs[0].Headers["Content-Type"])
}

func TestListener_AnswersValidationHandshakeDirectly(t *testing.T) {
	handler := &recordingHandler{}

	startFakeRelay(t, handler, func(ctx context.Context, relay *websocket.Conn) {
		frame := `{"request":{"id":"req-v","method":"POST","requestTarget":"/recap-hc?validationToken=tok-abc%2B123","requestHeaders":{}}}`
		require.NoError(t, relay.Write(ctx, websocket.MessageText, []byte(frame)))

		msgType, data, err := relay.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, msgType)
		assert.Contains(t, string(data), `"statusCode":"200"`)
		assert.Contains(t, string(data), `"body":true`)

		msgType, body, err := relay.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageBinary, msgType)
		assert.Equal(t, "tok-abc+123", string(body), "token is returned decoded, verbatim")
	})

	assert.Empty(t, handler.received(), "validation never reaches the handler")
}

func TestListener_ResponseWithBody(t *testing.T) {
	handler := &recordingHandler{resp: &Response{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"ok":true}`),
	}}

	startFakeRelay(t, handler, func(ctx context.Context, relay *websocket.Conn) {
		frame := `{"request":{"id":"req-2","method":"GET","requestTarget":"/recap-hc/health","requestHeaders":{}}}`
		require.NoError(t, relay.Write(ctx, websocket.MessageText, []byte(frame)))

		_, data, err := relay.Read(ctx)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"statusCode":"200"`)

		msgType, body, err := relay.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageBinary, msgType)
		assert.Equal(t, `{"ok":true}`, string(body))
	})
}

func TestListener_IgnoresMalformedControlFrames(t *testing.T) {
	handler := &recordingHandler{}

	startFakeRelay(t, handler, func(ctx context.Context, relay *websocket.Conn) {
		require.NoError(t, relay.Write(ctx, websocket.MessageText, []byte(`garbage`)))

		// Loop must survive and still process the next frame.
		frame := `{"request":{"id":"req-3","method":"POST","requestTarget":"/recap-hc","requestHeaders":{}}}`
		require.NoError(t, relay.Write(ctx, websocket.MessageText, []byte(frame)))

		_, data, err := relay.Read(ctx)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"requestId":"req-3"`)
	})

	require.Len(t, handler.received(), 1)
}

func TestValidationToken(t *testing.T) {
	assert.Equal(t, "abc", validationToken("/hc?validationToken=abc"))
	assert.Equal(t, "a b", validationToken("/hc?validationToken=a%20b"))
	assert.Equal(t, "", validationToken("/hc"))
	assert.Equal(t, "", validationToken("/hc?other=1"))
}
