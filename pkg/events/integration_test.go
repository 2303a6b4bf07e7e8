package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/test/util"
)

// eventsTestEnv wires publisher, listener, and manager against a real
// PostgreSQL database (testcontainers locally, service container in CI).
type eventsTestEnv struct {
	db        *sqlx.DB
	publisher *Publisher
	manager   *ConnectionManager
	listener  *NotifyListener
	server    *httptest.Server
	meetingID string
	channel   string
}

func setupEventsTest(t *testing.T) *eventsTestEnv {
	t.Helper()

	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	// Unique meeting key per test: NOTIFY channels are database-level, not
	// schema-level, so parallel tests must not share channel names.
	meetingID := "meeting-" + uuid.New().String()
	channel := MeetingChannel(meetingID)

	publisher := NewPublisher(db)
	manager := NewConnectionManager(5 * time.Second)

	// NotifyListener needs the base connection string (no schema search_path)
	// because NOTIFY/LISTEN is database-level.
	baseConnStr := util.GetBaseConnectionString(t)
	listener := NewNotifyListener(baseConnStr, manager)
	require.NoError(t, listener.Start(ctx))
	manager.SetListener(listener)

	t.Cleanup(func() { listener.Stop(context.Background()) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(func() { server.Close() })

	return &eventsTestEnv{
		db:        db,
		publisher: publisher,
		manager:   manager,
		listener:  listener,
		server:    server,
		meetingID: meetingID,
		channel:   channel,
	}
}

func (env *eventsTestEnv) connectWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + env.server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSONTimeout(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// subscribeTo connects a WebSocket, reads connection.established, subscribes
// to the given channel, and reads subscription.confirmed. Because LISTEN is
// synchronous in subscribe, the confirmation implies the PG LISTEN is live.
func (env *eventsTestEnv) subscribeTo(t *testing.T, channel string) *websocket.Conn {
	t.Helper()
	conn := env.connectWS(t)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: channel})
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, subMsg))

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])
	return conn
}

// --- Tests ---

func TestIntegration_MeetingStatusDelivery(t *testing.T) {
	env := setupEventsTest(t)
	ctx := context.Background()

	conn := env.subscribeTo(t, env.channel)

	err := env.publisher.PublishMeetingStatus(ctx, env.meetingID, models.MeetingStatusProcessing)
	require.NoError(t, err)

	// The event arrives via pg_notify → listener → manager
	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeMeetingStatus, msg["type"])
	assert.Equal(t, env.meetingID, msg["meeting_id"])
	assert.Equal(t, string(models.MeetingStatusProcessing), msg["status"])
	assert.NotEmpty(t, msg["timestamp"])
}

func TestIntegration_MeetingStatusFanOutToGlobalChannel(t *testing.T) {
	env := setupEventsTest(t)
	ctx := context.Background()

	// One client on the per-meeting channel, one on the global list channel
	meetingConn := env.subscribeTo(t, env.channel)
	globalConn := env.subscribeTo(t, GlobalMeetingsChannel)

	err := env.publisher.PublishMeetingStatus(ctx, env.meetingID, models.MeetingStatusCompleted)
	require.NoError(t, err)

	msg1 := readJSONTimeout(t, meetingConn, 5*time.Second)
	msg2 := readJSONTimeout(t, globalConn, 5*time.Second)

	assert.Equal(t, env.meetingID, msg1["meeting_id"])
	assert.Equal(t, env.meetingID, msg2["meeting_id"])
	assert.Equal(t, string(models.MeetingStatusCompleted), msg2["status"])
}

func TestIntegration_JobStatusDelivery(t *testing.T) {
	env := setupEventsTest(t)
	ctx := context.Background()

	jobsConn := env.subscribeTo(t, GlobalJobsChannel)
	meetingConn := env.subscribeTo(t, env.channel)

	job := &models.Job{
		ID:        uuid.New().String(),
		JobType:   models.JobTypeFetchTranscript,
		MeetingID: &env.meetingID,
	}
	err := env.publisher.PublishJobStatus(ctx, job, models.JobStatusRunning)
	require.NoError(t, err)

	// Jobs channel receives the transition
	msg := readJSONTimeout(t, jobsConn, 5*time.Second)
	assert.Equal(t, EventTypeJobStatus, msg["type"])
	assert.Equal(t, job.ID, msg["job_id"])
	assert.Equal(t, string(models.JobTypeFetchTranscript), msg["job_type"])
	assert.Equal(t, string(models.JobStatusRunning), msg["status"])

	// The meeting channel receives it too (job carries a meeting key)
	msg2 := readJSONTimeout(t, meetingConn, 5*time.Second)
	assert.Equal(t, job.ID, msg2["job_id"])
	assert.Equal(t, env.meetingID, msg2["meeting_id"])
}

func TestIntegration_EventsAreTransient(t *testing.T) {
	env := setupEventsTest(t)
	ctx := context.Background()

	// Publish with no subscriber connected
	err := env.publisher.PublishMeetingStatus(ctx, env.meetingID, models.MeetingStatusQueued)
	require.NoError(t, err)

	// A client subscribing afterwards sees nothing: events are not replayed.
	conn := env.subscribeTo(t, env.channel)

	readCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, readErr := conn.Read(readCtx)
	assert.Error(t, readErr, "late subscriber should not receive events published before subscribing")
}

func TestIntegration_ChannelIsolation(t *testing.T) {
	env := setupEventsTest(t)
	ctx := context.Background()

	otherMeetingID := "meeting-" + uuid.New().String()
	conn := env.subscribeTo(t, MeetingChannel(otherMeetingID))

	// Publish for a different meeting
	err := env.publisher.PublishMeetingStatus(ctx, env.meetingID, models.MeetingStatusFailed)
	require.NoError(t, err)

	readCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, readErr := conn.Read(readCtx)
	assert.Error(t, readErr, "subscriber on another meeting's channel should receive nothing")
}

func TestIntegration_UnlistenAfterLastSubscriber(t *testing.T) {
	env := setupEventsTest(t)
	ctx := context.Background()

	conn := env.subscribeTo(t, env.channel)

	// Unsubscribe and give the async UNLISTEN a moment
	unsubMsg, _ := json.Marshal(ClientMessage{Action: "unsubscribe", Channel: env.channel})
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, unsubMsg))

	require.Eventually(t, func() bool {
		return env.manager.subscriberCount(env.channel) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Publishing now must not reach the unsubscribed client
	require.NoError(t, env.publisher.PublishMeetingStatus(ctx, env.meetingID, models.MeetingStatusCompleted))

	readCtx, readCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer readCancel()
	_, _, readErr := conn.Read(readCtx)
	assert.Error(t, readErr)
}
