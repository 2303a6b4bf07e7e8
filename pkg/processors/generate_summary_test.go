package processors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/summarize"
	"github.com/recaphq/recap/test/util"
)

type fakeSummarizer struct {
	lastInput *summarize.Input
	result    *summarize.Result
	err       error
}

func (s *fakeSummarizer) Summarize(_ context.Context, in *summarize.Input) (*summarize.Result, error) {
	s.lastInput = in
	return s.result, s.err
}

func summaryFixture() *summarize.Result {
	return &summarize.Result{
		SummaryText: "The team reviewed the Q3 budget and agreed on next steps.",
		ActionItems: []summarize.ActionItem{
			{Description: "Send revised budget", Owner: "Alice", DueDate: "2026-09-01"},
		},
		Decisions:    []string{"Approve vendor contract"},
		Topics:       []string{"budget"},
		MeetingType:  "planning",
		Sentiment:    "positive",
		Model:        "claude-sonnet-4-5",
		InputTokens:  1200,
		OutputTokens: 400,
		CostUSD:      0.0096,
	}
}

type genEnv struct {
	summarizer  *fakeSummarizer
	meetings    *store.MeetingStore
	parts       *store.ParticipantStore
	transcripts *store.TranscriptStore
	summaries   *store.SummaryStore
	processor   *GenerateSummary
}

func setupGenerate(t *testing.T) *genEnv {
	t.Helper()
	db := util.SetupTestDatabase(t)

	env := &genEnv{
		summarizer:  &fakeSummarizer{result: summaryFixture()},
		meetings:    store.NewMeetingStore(db),
		parts:       store.NewParticipantStore(db),
		transcripts: store.NewTranscriptStore(db),
		summaries:   store.NewSummaryStore(db),
	}
	env.processor = NewGenerateSummary(env.meetings, env.parts, env.transcripts, env.summaries, env.summarizer)
	return env
}

// seedMeeting creates a meeting with a stored transcript and one attendee.
func (env *genEnv) seedMeeting(t *testing.T, meetingID string) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{
		MeetingID: meetingID,
		Subject:   "Q3 Planning",
		StartTime: &start,
		EndTime:   &end,
	}))
	require.NoError(t, env.transcripts.Upsert(ctx, &models.Transcript{
		MeetingID: meetingID,
		ParsedContent: models.Utterances{
			{Speaker: "Alice Smith", Start: "00:00:01.000", End: "00:00:03.000", Text: "Let's review the budget."},
		},
		WordCount:    4,
		SpeakerCount: 1,
	}))
	_, err := env.parts.AddMissing(ctx, meetingID, []models.MeetingParticipant{
		{DisplayName: "Alice Smith", Email: strPtr("alice@contoso.com"), Role: models.RoleOrganizer,
			Attended: true, IdentityKind: models.IdentityInternal},
		{DisplayName: "", Email: strPtr("bob@contoso.com"), Role: models.RoleAttendee,
			Attended: true, IdentityKind: models.IdentityInternal},
	})
	require.NoError(t, err)
}

func summaryJob(meetingID string, input models.JSONMap) *models.Job {
	return &models.Job{
		ID:        uuid.NewString(),
		JobType:   models.JobTypeGenerateSummary,
		MeetingID: &meetingID,
		InputData: input,
	}
}

func TestGenerateSummary_CreatesVersionOne(t *testing.T) {
	env := setupGenerate(t)
	ctx := context.Background()
	env.seedMeeting(t, "MTG-A")

	out, err := env.processor.Process(ctx, summaryJob("MTG-A", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, out["version"])
	assert.Equal(t, "claude-sonnet-4-5", out["model"])
	assert.Equal(t, 1200, out["input_tokens"])

	// The prompt carried the speaker-attributed transcript and attendees.
	require.NotNil(t, env.summarizer.lastInput)
	assert.Equal(t, "Q3 Planning", env.summarizer.lastInput.Subject)
	assert.Contains(t, env.summarizer.lastInput.Transcript, "Alice Smith: Let's review the budget.")
	assert.ElementsMatch(t, []string{"Alice Smith", "bob@contoso.com"}, env.summarizer.lastInput.Participants)

	current, err := env.summaries.GetCurrent(ctx, "MTG-A")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
	assert.Nil(t, current.SupersededBy)
	assert.Contains(t, current.SummaryHTML, "Send revised budget")
	require.NotNil(t, current.MeetingType)
	assert.Equal(t, "planning", *current.MeetingType)

	meeting, err := env.meetings.GetByMeetingID(ctx, "MTG-A")
	require.NoError(t, err)
	assert.True(t, meeting.HasSummary)
}

func TestGenerateSummary_RegenerationSupersedes(t *testing.T) {
	env := setupGenerate(t)
	ctx := context.Background()
	env.seedMeeting(t, "MTG-B")

	_, err := env.processor.Process(ctx, summaryJob("MTG-B", nil))
	require.NoError(t, err)
	out, err := env.processor.Process(ctx, summaryJob("MTG-B", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, out["version"])

	all, err := env.summaries.ListByMeeting(ctx, "MTG-B")
	require.NoError(t, err)
	require.Len(t, all, 2)

	current, err := env.summaries.GetCurrent(ctx, "MTG-B")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	for _, s := range all {
		if s.Version == 1 {
			require.NotNil(t, s.SupersededBy)
			assert.Equal(t, current.ID, *s.SupersededBy)
		}
	}
}

func TestGenerateSummary_CustomInstructions(t *testing.T) {
	env := setupGenerate(t)
	ctx := context.Background()
	env.seedMeeting(t, "MTG-C")

	_, err := env.processor.Process(ctx,
		summaryJob("MTG-C", models.JSONMap{"custom_instructions": "Focus on the migration plan"}))
	require.NoError(t, err)

	assert.Equal(t, "Focus on the migration plan", env.summarizer.lastInput.CustomInstructions)

	current, err := env.summaries.GetCurrent(ctx, "MTG-C")
	require.NoError(t, err)
	require.NotNil(t, current.CustomInstructions)
	assert.Equal(t, "Focus on the migration plan", *current.CustomInstructions)
}

func TestGenerateSummary_MissingTranscriptFailsPermanently(t *testing.T) {
	env := setupGenerate(t)
	ctx := context.Background()
	require.NoError(t, env.meetings.Create(ctx, &models.Meeting{MeetingID: "MTG-D", Subject: "No transcript"}))

	_, err := env.processor.Process(ctx, summaryJob("MTG-D", nil))
	require.Error(t, err)
	assert.True(t, queue.IsNonRetryable(err))
}

func TestGenerateSummary_SummarizerErrorRetries(t *testing.T) {
	env := setupGenerate(t)
	env.seedMeeting(t, "MTG-E")
	env.summarizer.err = errors.New("model overloaded")
	env.summarizer.result = nil

	_, err := env.processor.Process(context.Background(), summaryJob("MTG-E", nil))
	require.Error(t, err)
	assert.False(t, queue.IsNonRetryable(err))
	assert.False(t, errors.Is(err, queue.ErrTranscriptNotReady))
}
