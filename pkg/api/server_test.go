package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/test/util"
)

type apiEnv struct {
	server    *Server
	router    *gin.Engine
	meetings  *store.MeetingStore
	summaries *store.SummaryStore
	queue     *queue.Queue
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	db := util.SetupTestDatabase(t)

	env := &apiEnv{
		meetings:  store.NewMeetingStore(db),
		summaries: store.NewSummaryStore(db),
		queue:     queue.New(db, nil),
	}
	env.server = NewServer(Deps{
		DB:        db,
		Meetings:  env.meetings,
		Parts:     store.NewParticipantStore(db),
		Summaries: env.summaries,
		Queue:     env.queue,
	}, config.Static(nil))
	env.router = env.server.Router()
	return env
}

func (env *apiEnv) request(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	env := setupAPI(t)

	rec, body := env.request(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	require.Contains(t, body, "database")
}

func TestQueueStats(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{MeetingID: "MTG-A", Subject: "Planning"}))
	_, err := env.queue.EnqueueMeetingChain(ctx, "MTG-A", 0, models.JSONMap{"meeting_id": "MTG-A"})
	require.NoError(t, err)

	rec, body := env.request(t, http.MethodGet, "/api/v1/queue/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	byStatus := body["by_status"].(map[string]any)
	assert.EqualValues(t, 3, byStatus["pending"])
}

func TestListMeetings(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{MeetingID: "MTG-A", Subject: "Planning"}))
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{MeetingID: "MTG-B", Subject: "Retro"}))
	require.NoError(t, env.meetings.SetStatus(ctx, "MTG-B", models.MeetingStatusCompleted))

	rec, body := env.request(t, http.MethodGet, "/api/v1/meetings", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["meetings"], 2)

	rec, body = env.request(t, http.MethodGet, "/api/v1/meetings?status=completed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	meetings := body["meetings"].([]any)
	require.Len(t, meetings, 1)
	assert.Equal(t, "MTG-B", meetings[0].(map[string]any)["meeting_id"])
}

func TestGetMeeting(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{MeetingID: "MTG-A", Subject: "Planning"}))
	require.NoError(t, env.summaries.Create(ctx, &models.Summary{
		MeetingID:   "MTG-A",
		SummaryText: "Discussed the Q3 budget.",
		SummaryHTML: "<p>Discussed the Q3 budget.</p>",
		Model:       "claude-sonnet-4-5",
	}))
	_, err := env.queue.EnqueueMeetingChain(ctx, "MTG-A", 0, models.JSONMap{"meeting_id": "MTG-A"})
	require.NoError(t, err)

	rec, body := env.request(t, http.MethodGet, "/api/v1/meetings/MTG-A", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	meeting := body["meeting"].(map[string]any)
	assert.Equal(t, "MTG-A", meeting["meeting_id"])
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 1, summary["version"])
	assert.Len(t, body["jobs"], 3)
}

func TestGetMeeting_NotFound(t *testing.T) {
	env := setupAPI(t)

	rec, body := env.request(t, http.MethodGet, "/api/v1/meetings/MTG-MISSING", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", body["error"])
}

func TestReprocess(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	organizerID := "guid-org"
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{
		MeetingID:       "MTG-A",
		Subject:         "Planning",
		OrganizerUserID: &organizerID,
	}))
	_, err := env.queue.EnqueueMeetingChain(ctx, "MTG-A", 0, models.JSONMap{"meeting_id": "MTG-A"})
	require.NoError(t, err)

	rec, body := env.request(t, http.MethodPost, "/api/v1/meetings/MTG-A/reprocess",
		`{"custom_instructions": "Focus on decisions", "requested_by": "ops@contoso.com"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 3, body["cancelled"])
	assert.Len(t, body["jobs"], 3)

	jobs, err := env.queue.ListByMeeting(ctx, "MTG-A")
	require.NoError(t, err)
	assert.Len(t, jobs, 6)
	for _, job := range jobs {
		if job.Status == models.JobStatusPending && job.JobType == models.JobTypeFetchTranscript {
			assert.Equal(t, "guid-org", job.InputData["organizer_user_id"])
			assert.Equal(t, "Focus on decisions", job.InputData["custom_instructions"])
		}
	}
}

func TestCancelJobs(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{MeetingID: "MTG-A", Subject: "Planning"}))
	_, err := env.queue.EnqueueMeetingChain(ctx, "MTG-A", 0, models.JSONMap{"meeting_id": "MTG-A"})
	require.NoError(t, err)

	rec, body := env.request(t, http.MethodDelete, "/api/v1/meetings/MTG-A/jobs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["cancelled"])

	rec, _ = env.request(t, http.MethodDelete, "/api/v1/meetings/MTG-MISSING/jobs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriptionsWithoutManager(t *testing.T) {
	env := setupAPI(t)

	rec, body := env.request(t, http.MethodGet, "/api/v1/subscriptions", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["error"], "subscription manager")
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
