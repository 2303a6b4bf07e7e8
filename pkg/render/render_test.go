package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/summarize"
)

func sampleMeeting() *models.Meeting {
	start := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	minutes := 75
	return &models.Meeting{
		Subject:         "Q3 Planning",
		StartTime:       &start,
		DurationMinutes: &minutes,
	}
}

func sampleSummary() *summarize.Result {
	return &summarize.Result{
		SummaryText: "The team reviewed the Q3 budget.\n\nNext steps were agreed.",
		ActionItems: []summarize.ActionItem{
			{Description: "Send revised budget", Owner: "Alice", DueDate: "2026-09-01"},
		},
		Decisions:  []string{"Approve vendor contract"},
		Highlights: []string{"Budget approved"},
		KeyNumbers: []summarize.KeyNumber{{Value: "$120k", Context: "Q3 budget"}},
		Topics:     []string{"budget", "hiring"},
	}
}

func TestEmail(t *testing.T) {
	html, err := Email(sampleMeeting(), []string{"alice@contoso.com", "bob@contoso.com"}, sampleSummary())
	require.NoError(t, err)

	assert.Contains(t, html, "Q3 Planning")
	assert.Contains(t, html, "Thursday, 20 August 2026")
	assert.Contains(t, html, "1h 15m")
	assert.Contains(t, html, "2 participants")
	assert.Contains(t, html, "Send revised budget")
	assert.Contains(t, html, "Alice")
	assert.Contains(t, html, "due 2026-09-01")
	assert.Contains(t, html, "Approve vendor contract")
	assert.Contains(t, html, "$120k")
	assert.Contains(t, html, "budget, hiring")
}

func TestEmail_OmitsEmptySections(t *testing.T) {
	html, err := Email(sampleMeeting(), nil, &summarize.Result{SummaryText: "Short meeting."})
	require.NoError(t, err)

	assert.Contains(t, html, "Short meeting.")
	assert.NotContains(t, html, "Action items")
	assert.NotContains(t, html, "Decisions")
	assert.NotContains(t, html, "Key numbers")
}

func TestEmail_EscapesHTML(t *testing.T) {
	summary := &summarize.Result{SummaryText: `Discussed <script>alert("x")</script> payloads.`}
	html, err := Email(sampleMeeting(), nil, summary)
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestChatMessage(t *testing.T) {
	html, err := ChatMessage(sampleMeeting(), sampleSummary())
	require.NoError(t, err)

	assert.Contains(t, html, "Meeting summary: Q3 Planning")
	assert.Contains(t, html, "Send revised budget")
	assert.Contains(t, html, "sent by email")
	assert.NotContains(t, html, "$120k", "chat message stays short")
}

func TestEmailSubject(t *testing.T) {
	assert.Equal(t, "Recap: Q3 Planning (Aug 20)", EmailSubject(sampleMeeting()))

	noStart := &models.Meeting{Subject: "Standup"}
	assert.Equal(t, "Recap: Standup", EmailSubject(noStart))

	empty := &models.Meeting{}
	assert.Equal(t, "Recap: Teams meeting", EmailSubject(empty))
}
