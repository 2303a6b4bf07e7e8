package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalYAML is the smallest recap.yaml that passes validation.
const minimalYAML = `
graph:
  tenant_id: tenant-123
  client_id: client-456
  client_secret: secret-789
relay:
  namespace: contoso.servicebus.windows.net
  hybrid_connection: recap-webhooks
  key_name: listen-policy
  key: relay-key
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))
	return dir
}

func TestInitializeMinimalConfig(t *testing.T) {
	cfg, err := Initialize(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	// Static sections resolved with defaults
	assert.Equal(t, "tenant-123", cfg.Graph.TenantID)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Graph.BaseURL)
	assert.Equal(t, "https://contoso.servicebus.windows.net/recap-webhooks", cfg.Relay.NotificationURL())
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Summarizer.Model)
	assert.Equal(t, 4096, cfg.Summarizer.MaxTokens)
	assert.False(t, cfg.Slack.Enabled)

	// Queue defaults
	assert.Equal(t, DefaultQueueConfig().WorkerCount, cfg.Queue.WorkerCount)

	// Settings defaults
	s := cfg.Settings()
	assert.Equal(t, 5, s.PollingIntervalMinutes)
	assert.Equal(t, 24, s.LookbackHours)
	assert.False(t, s.PilotMode)
	assert.False(t, s.DefaultOptIn)
	assert.True(t, s.AlertsEnabled())
}

func TestInitializeOverridesDefaults(t *testing.T) {
	yaml := minimalYAML + `
queue:
  worker_count: 3
  max_concurrent_jobs: 12
settings:
  polling_interval_minutes: 15
  lookback_hours: 48
  pilot_mode: true
  pilot_users:
    - alice@contoso.com
  max_concurrent_jobs: 8
  job_timeout_minutes: 20
  summary_type: detailed
  default_opt_in: true
  alerts_disabled: true
  exclusions:
    - type: domain
      value: external.example.com
      reason: partner tenant
api:
  listen_addr: ":9090"
summarizer:
  max_tokens: 2048
`
	cfg, err := Initialize(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Queue.WorkerCount)
	assert.Equal(t, 12, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, ":9090", cfg.API.ListenAddr)
	assert.Equal(t, 2048, cfg.Summarizer.MaxTokens)
	// Unset summarizer fields keep their defaults
	assert.Equal(t, "claude-sonnet-4-5", cfg.Summarizer.Model)

	s := cfg.Settings()
	assert.Equal(t, 15, s.PollingIntervalMinutes)
	assert.Equal(t, 48, s.LookbackHours)
	assert.True(t, s.PilotMode)
	assert.True(t, s.IsPilotUser("Alice@Contoso.com"))
	assert.False(t, s.IsPilotUser("bob@contoso.com"))
	assert.Equal(t, 8, s.MaxConcurrentJobs)
	assert.Equal(t, "detailed", s.SummaryType)
	assert.True(t, s.DefaultOptIn)
	assert.False(t, s.AlertsEnabled())
	require.Len(t, s.Exclusions, 1)
	assert.Equal(t, ExclusionTypeDomain, s.Exclusions[0].Type)

	// Unset settings fields keep their defaults
	assert.Equal(t, 30, s.HeartbeatIntervalSeconds)
	assert.Equal(t, 5, s.MinMeetingDurationMinutes)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("TEST_RECAP_SECRET", "from-environment")

	yaml := `
graph:
  tenant_id: tenant-123
  client_id: client-456
  client_secret: "{{.TEST_RECAP_SECRET}}"
relay:
  namespace: contoso.servicebus.windows.net
  hybrid_connection: recap-webhooks
  key_name: listen-policy
  key: relay-key
`
	cfg, err := Initialize(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "from-environment", cfg.Graph.ClientSecret)
}

func TestInitializeMissingFile(t *testing.T) {
	_, err := Initialize(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	_, err := Initialize(writeConfig(t, "graph: [unclosed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing graph tenant",
			yaml: `
graph:
  client_id: client-456
  client_secret: secret
relay:
  namespace: ns
  hybrid_connection: hc
  key_name: kn
  key: k
`,
		},
		{
			name: "missing relay key",
			yaml: `
graph:
  tenant_id: t
  client_id: c
  client_secret: s
relay:
  namespace: ns
  hybrid_connection: hc
  key_name: kn
`,
		},
		{
			name: "pilot mode without pilot users",
			yaml: minimalYAML + `
settings:
  pilot_mode: true
`,
		},
		{
			name: "unknown exclusion type",
			yaml: minimalYAML + `
settings:
  exclusions:
    - type: meeting
      value: standup
`,
		},
		{
			name: "exclusion without value",
			yaml: minimalYAML + `
settings:
  exclusions:
    - type: user
`,
		},
		{
			name: "daily refresh hour out of range",
			yaml: minimalYAML + `
subscription:
  daily_refresh_hour: 24
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Initialize(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("settings", "lookback_hours", ErrInvalidValue)
	assert.Contains(t, err.Error(), "settings")
	assert.Contains(t, err.Error(), "lookback_hours")
	assert.ErrorIs(t, err, ErrInvalidValue)
}
