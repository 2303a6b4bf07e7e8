package processors

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/distribution"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/test/util"
)

type fakeDeliveryAPI struct {
	calls    []string // "chat:<id>" and "mail:<addr>" in call order
	chatErr  error
	mailErr  map[string]error
	lastChat string
}

func (g *fakeDeliveryAPI) PostChatMessage(_ context.Context, chatID, htmlContent string) error {
	g.calls = append(g.calls, "chat:"+chatID)
	g.lastChat = htmlContent
	return g.chatErr
}

func (g *fakeDeliveryAPI) SendMail(_ context.Context, _ string, to []string, _, _ string) error {
	g.calls = append(g.calls, "mail:"+to[0])
	if err := g.mailErr[to[0]]; err != nil {
		return err
	}
	return nil
}

type nullDirectory struct{}

func (nullDirectory) GetUser(_ context.Context, _ string) (*graph.User, error) {
	return nil, &graph.APIError{StatusCode: 404, Code: "Request_ResourceNotFound"}
}

type distEnv struct {
	graph     *fakeDeliveryAPI
	meetings  *store.MeetingStore
	parts     *store.ParticipantStore
	summaries *store.SummaryStore
	prefs     *store.PreferenceStore
	processor *Distribute
}

func setupDistribute(t *testing.T) *distEnv {
	t.Helper()
	db := util.SetupTestDatabase(t)

	cfg := config.Static(nil)
	cfg.Graph = &config.GraphConfig{SharedMailbox: "recap@contoso.com"}

	env := &distEnv{
		graph:     &fakeDeliveryAPI{mailErr: map[string]error{}},
		meetings:  store.NewMeetingStore(db),
		parts:     store.NewParticipantStore(db),
		summaries: store.NewSummaryStore(db),
		prefs:     store.NewPreferenceStore(db),
	}
	resolver := distribution.NewResolver(env.prefs, store.NewAliasStore(db), nullDirectory{}, cfg)
	env.processor = NewDistribute(env.graph, env.meetings, env.parts, env.summaries, resolver, cfg)
	return env
}

// seedMeeting creates a meeting with a chat thread, a current summary, and
// two attendees: alice (opted in) and bob (no stored preference).
func (env *distEnv) seedMeeting(t *testing.T, meetingID string) {
	t.Helper()
	ctx := context.Background()
	chatID := "19:thread-" + meetingID
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{
		MeetingID: meetingID,
		Subject:   "Q3 Planning",
		ChatID:    &chatID,
	}))
	require.NoError(t, env.summaries.Create(ctx,
		summaryRow(meetingID, summaryFixture(), "<html>summary body</html>", "")))

	_, err := env.parts.AddMissing(ctx, meetingID, []models.MeetingParticipant{
		{DisplayName: "Alice", Email: strPtr("alice@contoso.com"), Role: models.RoleOrganizer,
			Attended: true, IdentityKind: models.IdentityInternal},
		{DisplayName: "Bob", Email: strPtr("bob@contoso.com"), Role: models.RoleAttendee,
			Attended: true, IdentityKind: models.IdentityInternal},
	})
	require.NoError(t, err)
	require.NoError(t, env.prefs.SetReceiveEmails(ctx, nil, "alice@contoso.com",
		distribution.EmailKey("alice@contoso.com"), true, "test"))
}

func distributeJob(meetingID string) *models.Job {
	return &models.Job{
		ID:        uuid.NewString(),
		JobType:   models.JobTypeDistribute,
		MeetingID: &meetingID,
		InputData: models.JSONMap{"meeting_id": meetingID},
	}
}

func TestDistribute_ChatBeforeEmail(t *testing.T) {
	env := setupDistribute(t)
	ctx := context.Background()
	env.seedMeeting(t, "MTG-A")

	out, err := env.processor.Process(ctx, distributeJob("MTG-A"))
	require.NoError(t, err)

	require.Equal(t, []string{"chat:19:thread-MTG-A", "mail:alice@contoso.com"}, env.graph.calls)
	assert.Contains(t, env.graph.lastChat, "Q3 budget")
	// Structured fields survive the JSONB round trip into the chat message.
	assert.Contains(t, env.graph.lastChat, "Send revised budget")
	assert.Contains(t, env.graph.lastChat, "Approve vendor contract")

	chat, ok := out["chat"].(models.JSONMap)
	require.True(t, ok)
	assert.Equal(t, true, chat["delivered"])

	statuses, ok := out["recipients"].([]models.JSONMap)
	require.True(t, ok)
	require.Len(t, statuses, 1)
	assert.Equal(t, "sent", statuses[0]["status"])

	excluded, ok := out["excluded"].([]distribution.Exclusion)
	require.True(t, ok)
	require.Len(t, excluded, 1)
	assert.Equal(t, distribution.ReasonNoPreference, excluded[0].Reason)

	meeting, err := env.meetings.GetByMeetingID(ctx, "MTG-A")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusCompleted, meeting.Status)
	assert.True(t, meeting.HasDistribution)
}

func TestDistribute_ChatFailureStillEmails(t *testing.T) {
	env := setupDistribute(t)
	env.seedMeeting(t, "MTG-B")
	env.graph.chatErr = errors.New("thread gone")

	out, err := env.processor.Process(context.Background(), distributeJob("MTG-B"))
	require.NoError(t, err, "email delivery alone is success")

	assert.Contains(t, env.graph.calls, "mail:alice@contoso.com")
	chat := out["chat"].(models.JSONMap)
	assert.Equal(t, false, chat["delivered"])
	assert.Contains(t, chat["error"], "thread gone")
}

func TestDistribute_EmailFailureIsPartialSuccess(t *testing.T) {
	env := setupDistribute(t)
	ctx := context.Background()
	env.seedMeeting(t, "MTG-C")
	env.graph.mailErr["alice@contoso.com"] = errors.New("mailbox full")

	out, err := env.processor.Process(ctx, distributeJob("MTG-C"))
	require.NoError(t, err, "chat delivery alone is success")

	statuses := out["recipients"].([]models.JSONMap)
	require.Len(t, statuses, 1)
	assert.Equal(t, "failed", statuses[0]["status"])

	meeting, err := env.meetings.GetByMeetingID(ctx, "MTG-C")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusCompleted, meeting.Status)
}

func TestDistribute_AllChannelsFailedRetries(t *testing.T) {
	env := setupDistribute(t)
	ctx := context.Background()
	env.seedMeeting(t, "MTG-D")
	env.graph.chatErr = errors.New("thread gone")
	env.graph.mailErr["alice@contoso.com"] = errors.New("mailbox full")

	_, err := env.processor.Process(ctx, distributeJob("MTG-D"))
	require.Error(t, err)
	assert.False(t, queue.IsNonRetryable(err))

	meeting, err := env.meetings.GetByMeetingID(ctx, "MTG-D")
	require.NoError(t, err)
	assert.False(t, meeting.HasDistribution)
}

func TestDistribute_DisabledMeansTranscriptOnly(t *testing.T) {
	env := setupDistribute(t)
	ctx := context.Background()
	env.seedMeeting(t, "MTG-E")
	require.NoError(t, env.meetings.SetDistributionEnabled(ctx, "MTG-E", false, "ops@contoso.com"))

	out, err := env.processor.Process(ctx, distributeJob("MTG-E"))
	require.NoError(t, err)
	assert.Equal(t, "distribution_disabled", out["skipped"])
	assert.Empty(t, env.graph.calls, "nothing is delivered")

	meeting, err := env.meetings.GetByMeetingID(ctx, "MTG-E")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusTranscriptOnly, meeting.Status)
	assert.False(t, meeting.HasDistribution)
}

func TestDistribute_MeetingOptOutStillPostsChat(t *testing.T) {
	env := setupDistribute(t)
	ctx := context.Background()
	env.seedMeeting(t, "MTG-F")

	require.NoError(t, env.prefs.UpsertMeetingPreference(ctx, &models.MeetingPreference{
		MeetingID:     "MTG-F",
		EmailKey:      distribution.EmailKey("alice@contoso.com"),
		UserEmail:     "alice@contoso.com",
		ReceiveEmails: false,
	}))

	out, err := env.processor.Process(ctx, distributeJob("MTG-F"))
	require.NoError(t, err)

	assert.Equal(t, []string{"chat:19:thread-MTG-F"}, env.graph.calls, "no email goes out")
	excluded := out["excluded"].([]distribution.Exclusion)
	reasons := map[string]string{}
	for _, e := range excluded {
		reasons[e.Email] = e.Reason
	}
	assert.Equal(t, distribution.ReasonMeetingOptOut, reasons["alice@contoso.com"])
}

func TestDistribute_NoSummaryFailsPermanently(t *testing.T) {
	env := setupDistribute(t)
	ctx := context.Background()
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{MeetingID: "MTG-G", Subject: "Bare"}))

	_, err := env.processor.Process(ctx, distributeJob("MTG-G"))
	require.Error(t, err)
	assert.True(t, queue.IsNonRetryable(err))
}
