package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseControlMessage_Accept(t *testing.T) {
	frame := `{"accept":{"address":"wss://g0.servicebus.windows.net/$hc/recap?sb-hc-action=accept&id=abc","id":"abc","connectHeaders":{"Host":"contoso.servicebus.windows.net"}}}`

	msg, err := parseControlMessage([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, msg.Accept)
	assert.Nil(t, msg.Request)
	assert.Equal(t, "abc", msg.Accept.ID)
	assert.Contains(t, msg.Accept.Address, "sb-hc-action=accept")
	assert.Equal(t, "contoso.servicebus.windows.net", msg.Accept.ConnectHeaders["Host"])
}

func TestParseControlMessage_Request(t *testing.T) {
	frame := `{"request":{"id":"req-1","method":"POST","requestTarget":"/recap-hc?x=1","requestHeaders":{"Content-Type":"application/json"},"body":true}}`

	msg, err := parseControlMessage([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, msg.Request)
	assert.Equal(t, "req-1", msg.Request.ID)
	assert.Equal(t, "POST", msg.Request.Method)
	assert.Equal(t, "/recap-hc?x=1", msg.Request.RequestTarget)
	assert.True(t, msg.Request.Body)
	assert.Empty(t, msg.Request.Address)
}

func TestParseControlMessage_Errors(t *testing.T) {
	_, err := parseControlMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = parseControlMessage([]byte(`{"unknown":{}}`))
	assert.Error(t, err)
}

func TestEncodeResponse(t *testing.T) {
	data, err := encodeResponse("req-1", 200, "OK", map[string]string{"Content-Type": "text/plain"}, true)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded, "response")

	var resp responseCommand
	require.NoError(t, json.Unmarshal(decoded["response"], &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "200", resp.StatusCode, "status code goes on the wire as a string")
	assert.Equal(t, "OK", resp.StatusText)
	assert.True(t, resp.Body)
	assert.Equal(t, "text/plain", resp.ResponseHeaders["Content-Type"])
}

func TestEncodeResponse_NoBody(t *testing.T) {
	data, err := encodeResponse("", 202, "Accepted", nil, false)
	require.NoError(t, err)

	assert.NotContains(t, string(data), `"body"`)
	assert.NotContains(t, string(data), `"requestId"`)
}
