package processors

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/test/util"
)

const sampleVTT = `WEBVTT

00:00:01.000 --> 00:00:03.000
<v Alice Smith>Good morning everyone, let's get started.</v>

00:00:03.500 --> 00:00:06.000
<v Bob Jones>Morning. I pushed the budget numbers yesterday.</v>
`

type fakeTranscriptAPI struct {
	transcripts map[string][]graph.TranscriptInfo // by meeting id
	content     map[string][]byte                 // by transcript id
	denied      map[string]bool                   // user ids that get 403
	identities  []string                          // user ids used, in order
}

func newFakeTranscriptAPI() *fakeTranscriptAPI {
	return &fakeTranscriptAPI{
		transcripts: map[string][]graph.TranscriptInfo{},
		content:     map[string][]byte{},
		denied:      map[string]bool{},
	}
}

func (g *fakeTranscriptAPI) ListTranscripts(_ context.Context, userID, meetingID string) ([]graph.TranscriptInfo, error) {
	g.identities = append(g.identities, userID)
	if g.denied[userID] {
		return nil, &graph.APIError{StatusCode: 403, Code: "Forbidden"}
	}
	return g.transcripts[meetingID], nil
}

func (g *fakeTranscriptAPI) GetTranscriptContent(_ context.Context, userID, _, transcriptID string) ([]byte, error) {
	g.identities = append(g.identities, userID)
	if g.denied[userID] {
		return nil, &graph.APIError{StatusCode: 403, Code: "Forbidden"}
	}
	content, ok := g.content[transcriptID]
	if !ok {
		return nil, &graph.APIError{StatusCode: 404, Code: "ResourceNotFound"}
	}
	return content, nil
}

type fetchEnv struct {
	graph       *fakeTranscriptAPI
	meetings    *store.MeetingStore
	parts       *store.ParticipantStore
	transcripts *store.TranscriptStore
	processor   *FetchTranscript
}

func setupFetch(t *testing.T) *fetchEnv {
	t.Helper()
	db := util.SetupTestDatabase(t)

	env := &fetchEnv{
		graph:       newFakeTranscriptAPI(),
		meetings:    store.NewMeetingStore(db),
		parts:       store.NewParticipantStore(db),
		transcripts: store.NewTranscriptStore(db),
	}
	env.processor = NewFetchTranscript(env.graph, env.meetings, env.parts, env.transcripts)
	return env
}

func (env *fetchEnv) createMeeting(t *testing.T, meetingID, organizerUserID string) {
	t.Helper()
	m := &models.Meeting{MeetingID: meetingID, Subject: "Budget review"}
	if organizerUserID != "" {
		m.OrganizerUserID = &organizerUserID
	}
	require.NoError(t, env.meetings.Create(context.Background(), m))
}

func fetchJob(meetingID string, input models.JSONMap) *models.Job {
	return &models.Job{
		ID:        uuid.NewString(),
		JobType:   models.JobTypeFetchTranscript,
		MeetingID: &meetingID,
		InputData: input,
	}
}

func TestFetchTranscript_StoresNewestTranscript(t *testing.T) {
	env := setupFetch(t)
	ctx := context.Background()
	env.createMeeting(t, "MTG-A", "guid-org")

	now := time.Now().UTC()
	env.graph.transcripts["MTG-A"] = []graph.TranscriptInfo{
		{ID: "T-old", CreatedDateTime: now.Add(-2 * time.Hour)},
		{ID: "T-new", CreatedDateTime: now.Add(-time.Hour)},
	}
	env.graph.content["T-old"] = []byte("WEBVTT\n\n00:00:01.000 --> 00:00:02.000\n<v A>old</v>\n")
	env.graph.content["T-new"] = []byte(sampleVTT)

	out, err := env.processor.Process(ctx, fetchJob("MTG-A", models.JSONMap{"organizer_user_id": "guid-org"}))
	require.NoError(t, err)
	assert.Equal(t, "T-new", out["transcript_id"])
	assert.Equal(t, 2, out["speaker_count"])

	tr, err := env.transcripts.GetByMeetingID(ctx, "MTG-A")
	require.NoError(t, err)
	require.NotNil(t, tr.TranscriptID)
	assert.Equal(t, "T-new", *tr.TranscriptID)
	assert.Equal(t, sampleVTT, tr.VTTContent)
	assert.Equal(t, 2, tr.SpeakerCount)
	assert.Positive(t, tr.WordCount)
	require.Len(t, tr.ParsedContent, 2)
	assert.Equal(t, "Alice Smith", tr.ParsedContent[0].Speaker)

	meeting, err := env.meetings.GetByMeetingID(ctx, "MTG-A")
	require.NoError(t, err)
	assert.True(t, meeting.HasTranscript)
	assert.Equal(t, models.MeetingStatusProcessing, meeting.Status)
}

func TestFetchTranscript_UsesNotifiedTranscriptID(t *testing.T) {
	env := setupFetch(t)
	env.createMeeting(t, "MTG-B", "guid-org")
	env.graph.content["T-9"] = []byte(sampleVTT)

	out, err := env.processor.Process(context.Background(),
		fetchJob("MTG-B", models.JSONMap{"organizer_user_id": "guid-org", "transcript_id": "T-9"}))
	require.NoError(t, err)
	assert.Equal(t, "T-9", out["transcript_id"])

	// A named transcript skips the listing entirely.
	assert.Equal(t, []string{"guid-org"}, env.graph.identities)
}

func TestFetchTranscript_NotReady(t *testing.T) {
	env := setupFetch(t)
	ctx := context.Background()

	t.Run("no transcripts listed", func(t *testing.T) {
		env.createMeeting(t, "MTG-C", "guid-org")
		_, err := env.processor.Process(ctx, fetchJob("MTG-C", models.JSONMap{"organizer_user_id": "guid-org"}))
		assert.ErrorIs(t, err, queue.ErrTranscriptNotReady)
	})

	t.Run("notified id not yet downloadable", func(t *testing.T) {
		env.createMeeting(t, "MTG-D", "guid-org")
		_, err := env.processor.Process(ctx,
			fetchJob("MTG-D", models.JSONMap{"organizer_user_id": "guid-org", "transcript_id": "T-404"}))
		assert.ErrorIs(t, err, queue.ErrTranscriptNotReady)
	})
}

func TestFetchTranscript_PermissionFallbackToPilotParticipant(t *testing.T) {
	env := setupFetch(t)
	ctx := context.Background()
	env.createMeeting(t, "MTG-E", "guid-org")

	bobID := "guid-bob"
	_, err := env.parts.AddMissing(ctx, "MTG-E", []models.MeetingParticipant{
		{DisplayName: "Bob", Email: strPtr("bob@contoso.com"), Role: models.RoleAttendee,
			Attended: true, IsPilotUser: true, UserID: &bobID, IdentityKind: models.IdentityInternal},
	})
	require.NoError(t, err)

	env.graph.denied["guid-org"] = true
	env.graph.transcripts["MTG-E"] = []graph.TranscriptInfo{{ID: "T-1", CreatedDateTime: time.Now().UTC()}}
	env.graph.content["T-1"] = []byte(sampleVTT)

	out, err := env.processor.Process(ctx, fetchJob("MTG-E", models.JSONMap{"organizer_user_id": "guid-org"}))
	require.NoError(t, err)
	assert.Equal(t, "T-1", out["transcript_id"])
	assert.Contains(t, env.graph.identities, "guid-bob")
}

func TestFetchTranscript_PermissionDeniedWithoutPilotFallback(t *testing.T) {
	env := setupFetch(t)
	env.createMeeting(t, "MTG-F", "guid-org")
	env.graph.denied["guid-org"] = true

	_, err := env.processor.Process(context.Background(),
		fetchJob("MTG-F", models.JSONMap{"organizer_user_id": "guid-org"}))
	require.Error(t, err)
	assert.True(t, queue.IsNonRetryable(err))
}

func TestFetchTranscript_MalformedVTTFailsPermanently(t *testing.T) {
	env := setupFetch(t)
	env.createMeeting(t, "MTG-G", "guid-org")
	env.graph.content["T-bad"] = []byte("this is not webvtt")

	_, err := env.processor.Process(context.Background(),
		fetchJob("MTG-G", models.JSONMap{"organizer_user_id": "guid-org", "transcript_id": "T-bad"}))
	require.Error(t, err)
	assert.True(t, queue.IsNonRetryable(err))
}

func TestFetchTranscript_MissingMeetingOrOrganizer(t *testing.T) {
	env := setupFetch(t)
	ctx := context.Background()

	_, err := env.processor.Process(ctx, fetchJob("MTG-NOPE", nil))
	require.Error(t, err)
	assert.True(t, queue.IsNonRetryable(err))

	// Meeting exists but no identity to fetch under.
	env.createMeeting(t, "MTG-H", "")
	_, err = env.processor.Process(ctx, fetchJob("MTG-H", nil))
	require.Error(t, err)
	assert.True(t, queue.IsNonRetryable(err))
}

func strPtr(s string) *string { return &s }
