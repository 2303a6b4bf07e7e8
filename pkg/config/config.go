// Package config loads recap's configuration: static sections read once at
// startup (Graph credentials, relay connection, API server, queue sizing)
// and the hot-reloadable Settings subset watched via fsnotify.
package config

import (
	"sync/atomic"
	"time"
)

// Config is the umbrella configuration object returned by Initialize().
// Static sections are fixed for the process lifetime; the Settings subset
// is replaced atomically on hot reload.
type Config struct {
	configDir string

	// Queue and worker pool configuration
	Queue *QueueConfig

	// Microsoft Graph client credentials and endpoints
	Graph *GraphConfig

	// Azure Relay hybrid connection for the webhook listener
	Relay *RelayConfig

	// Change-notification subscription manager
	Subscription *SubscriptionConfig

	// Ops/dashboard API server
	API *APIConfig

	// Anthropic summarizer
	Summarizer *SummarizerConfig

	// Optional Slack ops-alert channel
	Slack *SlackConfig

	// Hot-reloadable runtime settings (atomic snapshot)
	settings atomic.Pointer[Settings]
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Settings returns the current settings snapshot. The returned value must
// not be mutated; hot reload swaps the whole pointer.
func (c *Config) Settings() *Settings {
	return c.settings.Load()
}

// setSettings atomically replaces the settings snapshot.
func (c *Config) setSettings(s *Settings) {
	c.settings.Store(s)
}

// Static builds a configuration around a fixed settings snapshot with no
// backing file. Used by tests and one-shot commands that never watch for
// changes.
func Static(settings *Settings) *Config {
	c := &Config{}
	if settings == nil {
		settings = DefaultSettings()
	}
	c.setSettings(settings)
	return c
}

// GraphConfig holds Microsoft Graph API access configuration. The secret
// fields are populated from the environment via {{.VAR}} expansion in
// recap.yaml.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// BaseURL is the Graph REST endpoint.
	BaseURL string `yaml:"base_url"`

	// SharedMailbox is the address mail is sent from and inbox commands are
	// read from.
	SharedMailbox string `yaml:"shared_mailbox"`
}

// RelayConfig holds the Azure Relay hybrid connection the webhook listener
// attaches to. The notification URL registered with Graph is derived from
// Namespace and HybridConnection.
type RelayConfig struct {
	// Namespace is the relay namespace host, e.g. "contoso.servicebus.windows.net".
	Namespace string `yaml:"namespace"`

	// HybridConnection is the hybrid connection entity name.
	HybridConnection string `yaml:"hybrid_connection"`

	// KeyName and Key authenticate SAS tokens.
	KeyName string `yaml:"key_name"`
	Key     string `yaml:"key"`
}

// NotificationURL returns the public HTTPS address Graph delivers
// notifications to.
func (r *RelayConfig) NotificationURL() string {
	return "https://" + r.Namespace + "/" + r.HybridConnection
}

// SubscriptionConfig tunes the subscription manager loop.
type SubscriptionConfig struct {
	// StartupDelay lets the relay listener connect before the first ensure.
	StartupDelay time.Duration `yaml:"startup_delay"`

	// CheckInterval is how often the manager verifies subscription health.
	CheckInterval time.Duration `yaml:"check_interval"`

	// RenewWindow renews subscriptions with less than this remaining.
	RenewWindow time.Duration `yaml:"renew_window"`

	// DailyRefreshHour is the local hour (0-23) of the proactive
	// delete-and-recreate pass.
	DailyRefreshHour int `yaml:"daily_refresh_hour"`

	// EnsureRetries and EnsureRetryDelay bound the startup ensure loop.
	EnsureRetries    int           `yaml:"ensure_retries"`
	EnsureRetryDelay time.Duration `yaml:"ensure_retry_delay"`

	// CallRecordExpiration is the requested subscription lifetime for
	// /communications/callRecords (Graph caps it just under three days).
	CallRecordExpiration time.Duration `yaml:"call_record_expiration"`

	// AlertCooldown suppresses repeated outage alerts.
	AlertCooldown time.Duration `yaml:"alert_cooldown"`

	// DownStateFile persists outage state across restarts so recovery
	// produces exactly one alert.
	DownStateFile string `yaml:"down_state_file"`
}

// APIConfig holds the ops/dashboard HTTP server settings.
type APIConfig struct {
	ListenAddr       string   `yaml:"listen_addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// SummarizerConfig holds the Anthropic summarizer settings. The API key is
// expanded from the environment.
type SummarizerConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SlackConfig holds optional Slack ops-alert settings.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}
