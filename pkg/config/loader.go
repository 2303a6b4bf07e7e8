package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single configuration file under the config dir.
const ConfigFileName = "recap.yaml"

// recapYAMLConfig represents the complete recap.yaml file structure.
type recapYAMLConfig struct {
	Queue        *QueueConfig        `yaml:"queue"`
	Graph        *GraphConfig        `yaml:"graph"`
	Relay        *RelayConfig        `yaml:"relay"`
	Subscription *SubscriptionConfig `yaml:"subscription"`
	API          *APIConfig          `yaml:"api"`
	Summarizer   *SummarizerConfig   `yaml:"summarizer"`
	Slack        *SlackConfig        `yaml:"slack"`
	Settings     *Settings           `yaml:"settings"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read recap.yaml from configDir
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML into sections
//  4. Merge user values over built-in defaults
//  5. Validate
//  6. Return Config ready for use
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"relay", cfg.Relay.NotificationURL(),
		"pilot_mode", cfg.Settings().PilotMode,
		"workers", cfg.Queue.WorkerCount)
	return cfg, nil
}

// load is the internal loader (not exported).
func load(configDir string) (*Config, error) {
	raw, err := readConfigFile(configDir)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	queue := DefaultQueueConfig()
	if raw.Queue != nil {
		if err := mergo.Merge(queue, raw.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	settings := DefaultSettings()
	if raw.Settings != nil {
		if err := mergeSettings(settings, raw.Settings); err != nil {
			return nil, fmt.Errorf("failed to merge settings: %w", err)
		}
	}

	subscription := defaultSubscriptionConfig()
	if raw.Subscription != nil {
		if err := mergo.Merge(subscription, raw.Subscription, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge subscription config: %w", err)
		}
	}

	cfg := &Config{
		configDir:    configDir,
		Queue:        queue,
		Graph:        resolveGraphConfig(raw.Graph),
		Relay:        resolveRelayConfig(raw.Relay),
		Subscription: subscription,
		API:          resolveAPIConfig(raw.API),
		Summarizer:   resolveSummarizerConfig(raw.Summarizer),
		Slack:        resolveSlackConfig(raw.Slack),
	}
	cfg.setSettings(settings)
	return cfg, nil
}

// readConfigFile reads and parses recap.yaml with env expansion.
func readConfigFile(configDir string) (*recapYAMLConfig, error) {
	path := filepath.Join(configDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing the YAML parser to handle the content (or fail with a clearer
	// error message).
	data = ExpandEnv(data)

	var raw recapYAMLConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &raw, nil
}

func resolveGraphConfig(g *GraphConfig) *GraphConfig {
	cfg := &GraphConfig{
		BaseURL: "https://graph.microsoft.com/v1.0",
	}
	if g == nil {
		return cfg
	}
	if g.TenantID != "" {
		cfg.TenantID = g.TenantID
	}
	if g.ClientID != "" {
		cfg.ClientID = g.ClientID
	}
	if g.ClientSecret != "" {
		cfg.ClientSecret = g.ClientSecret
	}
	if g.BaseURL != "" {
		cfg.BaseURL = g.BaseURL
	}
	if g.SharedMailbox != "" {
		cfg.SharedMailbox = g.SharedMailbox
	}
	return cfg
}

func resolveRelayConfig(r *RelayConfig) *RelayConfig {
	if r == nil {
		return &RelayConfig{}
	}
	return r
}

func defaultSubscriptionConfig() *SubscriptionConfig {
	return &SubscriptionConfig{
		StartupDelay:     5 * time.Second,
		CheckInterval:    5 * time.Minute,
		RenewWindow:      12 * time.Hour,
		DailyRefreshHour: 4,
		EnsureRetries:    5,
		EnsureRetryDelay: 30 * time.Second,
		// Graph caps callRecords subscriptions at 4230 minutes.
		CallRecordExpiration: 4230 * time.Minute,
		AlertCooldown:        6 * time.Hour,
		DownStateFile:        "data/subscription-down.json",
	}
}

func resolveAPIConfig(a *APIConfig) *APIConfig {
	cfg := &APIConfig{
		ListenAddr: ":8080",
	}
	if a == nil {
		return cfg
	}
	if a.ListenAddr != "" {
		cfg.ListenAddr = a.ListenAddr
	}
	if len(a.AllowedWSOrigins) > 0 {
		cfg.AllowedWSOrigins = a.AllowedWSOrigins
	}
	return cfg
}

func resolveSummarizerConfig(s *SummarizerConfig) *SummarizerConfig {
	cfg := &SummarizerConfig{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 4096,
	}
	if s == nil {
		return cfg
	}
	if s.APIKey != "" {
		cfg.APIKey = s.APIKey
	}
	if s.Model != "" {
		cfg.Model = s.Model
	}
	if s.MaxTokens > 0 {
		cfg.MaxTokens = s.MaxTokens
	}
	return cfg
}

func resolveSlackConfig(s *SlackConfig) *SlackConfig {
	cfg := &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}
	if s == nil {
		return cfg
	}
	cfg.Enabled = s.Enabled
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}
	return cfg
}

// mergeSettings overlays user-provided settings onto defaults (non-zero
// values win).
func mergeSettings(dst, src *Settings) error {
	return mergo.Merge(dst, src, mergo.WithOverride)
}

// validate performs validation on loaded configuration.
func validate(cfg *Config) error {
	if cfg.Graph.TenantID == "" {
		return NewValidationError("graph", "tenant_id", ErrMissingRequiredField)
	}
	if cfg.Graph.ClientID == "" {
		return NewValidationError("graph", "client_id", ErrMissingRequiredField)
	}
	if cfg.Graph.ClientSecret == "" {
		return NewValidationError("graph", "client_secret", ErrMissingRequiredField)
	}
	if cfg.Relay.Namespace == "" {
		return NewValidationError("relay", "namespace", ErrMissingRequiredField)
	}
	if cfg.Relay.HybridConnection == "" {
		return NewValidationError("relay", "hybrid_connection", ErrMissingRequiredField)
	}
	if cfg.Relay.KeyName == "" {
		return NewValidationError("relay", "key_name", ErrMissingRequiredField)
	}
	if cfg.Relay.Key == "" {
		return NewValidationError("relay", "key", ErrMissingRequiredField)
	}
	if cfg.Queue.WorkerCount <= 0 {
		return NewValidationError("queue", "worker_count", ErrInvalidValue)
	}
	if h := cfg.Subscription.DailyRefreshHour; h < 0 || h > 23 {
		return NewValidationError("subscription", "daily_refresh_hour", ErrInvalidValue)
	}
	return validateSettings(cfg.Settings())
}

// validateSettings checks the hot-reloadable subset. Also used by the
// watcher before swapping in a new snapshot.
func validateSettings(s *Settings) error {
	if s.PollingIntervalMinutes <= 0 {
		return NewValidationError("settings", "polling_interval_minutes", ErrInvalidValue)
	}
	if s.LookbackHours <= 0 {
		return NewValidationError("settings", "lookback_hours", ErrInvalidValue)
	}
	if s.MaxConcurrentJobs <= 0 {
		return NewValidationError("settings", "max_concurrent_jobs", ErrInvalidValue)
	}
	if s.JobTimeoutMinutes <= 0 {
		return NewValidationError("settings", "job_timeout_minutes", ErrInvalidValue)
	}
	if s.HeartbeatIntervalSeconds <= 0 {
		return NewValidationError("settings", "heartbeat_interval_seconds", ErrInvalidValue)
	}
	if s.PilotMode && len(s.PilotUsers) == 0 {
		return NewValidationError("settings", "pilot_users", ErrMissingRequiredField)
	}
	for _, ex := range s.Exclusions {
		switch ex.Type {
		case ExclusionTypeUser, ExclusionTypeDomain, ExclusionTypeOrganizer:
		default:
			return NewValidationError("settings", "exclusions", ErrInvalidValue)
		}
		if ex.Value == "" {
			return NewValidationError("settings", "exclusions", ErrMissingRequiredField)
		}
	}
	return nil
}
