package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadSettingsSwapsSnapshot(t *testing.T) {
	dir := writeConfig(t, minimalYAML)
	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, 24, cfg.Settings().LookbackHours)

	updated := minimalYAML + `
settings:
  lookback_hours: 72
  pilot_mode: true
  pilot_users:
    - alice@contoso.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(updated), 0o644))

	var notified *Settings
	cfg.reloadSettings(func(s *Settings) { notified = s })

	s := cfg.Settings()
	assert.Equal(t, 72, s.LookbackHours)
	assert.True(t, s.PilotMode)
	require.NotNil(t, notified)
	assert.Same(t, s, notified)
}

func TestReloadSettingsKeepsPreviousOnInvalid(t *testing.T) {
	dir := writeConfig(t, minimalYAML)
	cfg, err := Initialize(dir)
	require.NoError(t, err)
	before := cfg.Settings()

	// pilot_mode without pilot_users fails validation
	bad := minimalYAML + `
settings:
  pilot_mode: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(bad), 0o644))

	called := false
	cfg.reloadSettings(func(*Settings) { called = true })

	assert.Same(t, before, cfg.Settings())
	assert.False(t, called)
}

func TestReloadSettingsKeepsPreviousOnUnreadableFile(t *testing.T) {
	dir := writeConfig(t, minimalYAML)
	cfg, err := Initialize(dir)
	require.NoError(t, err)
	before := cfg.Settings()

	require.NoError(t, os.Remove(filepath.Join(dir, ConfigFileName)))
	cfg.reloadSettings(nil)

	assert.Same(t, before, cfg.Settings())
}

func TestWatchPicksUpFileWrite(t *testing.T) {
	dir := writeConfig(t, minimalYAML)
	cfg, err := Initialize(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cfg.Watch(ctx, nil) }()

	// Give the watcher a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)

	updated := minimalYAML + `
settings:
  lookback_hours: 96
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return cfg.Settings().LookbackHours == 96
	}, 5*time.Second, 50*time.Millisecond, "settings were not reloaded after file write")

	cancel()
	require.NoError(t, <-done)
}
