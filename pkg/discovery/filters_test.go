package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/recaphq/recap/pkg/config"
)

func filterSettings() *config.Settings {
	return config.DefaultSettings()
}

func overCandidate() *Candidate {
	end := time.Now().Add(-time.Hour)
	return &Candidate{
		Subject:           "Weekly sync",
		OrganizerEmail:    "alice@contoso.com",
		ParticipantEmails: []string{"alice@contoso.com", "bob@contoso.com"},
		ScheduledEnd:      end,
		Duration:          30 * time.Minute,
	}
}

func TestEvaluate_CompletionCheck(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	settings := filterSettings()

	t.Run("scheduled end waits fifteen minutes", func(t *testing.T) {
		c := overCandidate()
		c.ScheduledEnd = now.Add(-10 * time.Minute)
		assert.True(t, Evaluate(now, c, settings).Deferred)

		c.ScheduledEnd = now.Add(-16 * time.Minute)
		assert.True(t, Evaluate(now, c, settings).Eligible)
	})

	t.Run("actual end waits five minutes", func(t *testing.T) {
		c := overCandidate()
		actual := now.Add(-3 * time.Minute)
		c.ActualEnd = &actual
		c.ScheduledEnd = now.Add(-2 * time.Hour) // ignored once actual end is known
		assert.True(t, Evaluate(now, c, settings).Deferred)

		actual = now.Add(-6 * time.Minute)
		c.ActualEnd = &actual
		assert.True(t, Evaluate(now, c, settings).Eligible)
	})

	t.Run("no end time defers", func(t *testing.T) {
		c := overCandidate()
		c.ScheduledEnd = time.Time{}
		assert.True(t, Evaluate(now, c, settings).Deferred)
	})
}

func TestEvaluate_DurationFilter(t *testing.T) {
	c := overCandidate()
	c.Duration = 3 * time.Minute

	d := Evaluate(time.Now(), c, filterSettings())
	assert.False(t, d.Eligible)
	assert.False(t, d.Deferred)
	assert.Contains(t, d.Reason, "below minimum")
}

func TestEvaluate_Exclusions(t *testing.T) {
	tests := []struct {
		name   string
		rule   config.ExclusionRule
		reason string
	}{
		{
			name:   "user match is case-insensitive",
			rule:   config.ExclusionRule{Type: config.ExclusionTypeUser, Value: "BOB@contoso.com", Reason: "left the pilot"},
			reason: "left the pilot",
		},
		{
			name:   "domain match",
			rule:   config.ExclusionRule{Type: config.ExclusionTypeDomain, Value: "contoso.com"},
			reason: `excluded by domain rule "contoso.com"`,
		},
		{
			name:   "organizer match",
			rule:   config.ExclusionRule{Type: config.ExclusionTypeOrganizer, Value: "Alice@Contoso.com"},
			reason: `excluded by organizer rule "Alice@Contoso.com"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := filterSettings()
			settings.Exclusions = []config.ExclusionRule{tt.rule}

			d := Evaluate(time.Now(), overCandidate(), settings)
			assert.False(t, d.Eligible)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}

	t.Run("non-matching rules pass", func(t *testing.T) {
		settings := filterSettings()
		settings.Exclusions = []config.ExclusionRule{
			{Type: config.ExclusionTypeDomain, Value: "fabrikam.com"},
			{Type: config.ExclusionTypeUser, Value: "carol@contoso.com"},
		}
		assert.True(t, Evaluate(time.Now(), overCandidate(), settings).Eligible)
	})
}

func TestEvaluate_PilotGate(t *testing.T) {
	settings := filterSettings()
	settings.PilotMode = true
	settings.PilotUsers = []string{"carol@contoso.com"}

	d := Evaluate(time.Now(), overCandidate(), settings)
	assert.False(t, d.Eligible)
	assert.Equal(t, "no pilot user on the meeting", d.Reason)

	settings.PilotUsers = []string{"BOB@contoso.com"}
	assert.True(t, Evaluate(time.Now(), overCandidate(), settings).Eligible)
}
