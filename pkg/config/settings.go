package config

import (
	"strings"
	"time"
)

// Settings is the hot-reloadable subset of recap.yaml. A new snapshot is
// built on every file change; consumers read through Config.Settings() and
// never hold one across loop iterations.
type Settings struct {
	// PollingIntervalMinutes drives the fallback calendar poller.
	PollingIntervalMinutes int `yaml:"polling_interval_minutes"`

	// LookbackHours is the default backfill and poller window.
	LookbackHours int `yaml:"lookback_hours"`

	// PilotMode restricts processing to meetings with at least one pilot user.
	PilotMode  bool     `yaml:"pilot_mode"`
	PilotUsers []string `yaml:"pilot_users"`

	// MaxConcurrentJobs and JobTimeoutMinutes override queue sizing live;
	// workers consult them on every claim.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	JobTimeoutMinutes int `yaml:"job_timeout_minutes"`

	// HeartbeatIntervalSeconds is the worker heartbeat cadence.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`

	// MinMeetingDurationMinutes rejects meetings shorter than this.
	MinMeetingDurationMinutes int `yaml:"min_meeting_duration_minutes"`

	// SummaryType selects the prompt flavour ("standard" or "detailed").
	SummaryType string `yaml:"summary_type"`

	// DefaultOptIn is the opt-in state assumed for users with no stored
	// preference. False is fail-closed: unknown users receive nothing.
	DefaultOptIn bool `yaml:"default_opt_in"`

	// Alerting configuration for subscription outage notices. Alerting is
	// opt-out; disabling is the explicit act (and the inverted flag merges
	// cleanly over defaults).
	AlertsDisabled  bool     `yaml:"alerts_disabled"`
	AlertSender     string   `yaml:"alert_sender"`
	AlertRecipients []string `yaml:"alert_recipients"`

	// Exclusions reject meetings by user, domain, or organizer.
	Exclusions []ExclusionRule `yaml:"exclusions"`
}

// ExclusionRule rejects meetings matching a user email, an email domain, or
// an organizer email. Matching is case-insensitive.
type ExclusionRule struct {
	Type   string `yaml:"type"` // "user", "domain", or "organizer"
	Value  string `yaml:"value"`
	Reason string `yaml:"reason"`
}

// Exclusion rule types.
const (
	ExclusionTypeUser      = "user"
	ExclusionTypeDomain    = "domain"
	ExclusionTypeOrganizer = "organizer"
)

// PollingInterval returns the poller cadence as a duration.
func (s *Settings) PollingInterval() time.Duration {
	return time.Duration(s.PollingIntervalMinutes) * time.Minute
}

// JobTimeout returns the per-job timeout as a duration.
func (s *Settings) JobTimeout() time.Duration {
	return time.Duration(s.JobTimeoutMinutes) * time.Minute
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (s *Settings) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSeconds) * time.Second
}

// MinMeetingDuration returns the duration filter threshold.
func (s *Settings) MinMeetingDuration() time.Duration {
	return time.Duration(s.MinMeetingDurationMinutes) * time.Minute
}

// AlertsEnabled reports whether outage alerting is active.
func (s *Settings) AlertsEnabled() bool {
	return !s.AlertsDisabled
}

// IsPilotUser reports whether email is in the pilot-user set
// (case-insensitive).
func (s *Settings) IsPilotUser(email string) bool {
	for _, u := range s.PilotUsers {
		if strings.EqualFold(u, email) {
			return true
		}
	}
	return false
}

// DefaultSettings returns the built-in runtime settings.
func DefaultSettings() *Settings {
	return &Settings{
		PollingIntervalMinutes:    5,
		LookbackHours:             24,
		PilotMode:                 false,
		MaxConcurrentJobs:         5,
		JobTimeoutMinutes:         10,
		HeartbeatIntervalSeconds:  30,
		MinMeetingDurationMinutes: 5,
		SummaryType:               "standard",
		DefaultOptIn:              false,
	}
}
