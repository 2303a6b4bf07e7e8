package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads the Settings subset of recap.yaml. On every write to
// the config file the file is re-read, re-validated, and — if valid — the
// settings snapshot is swapped atomically and onChange (if non-nil) is
// invoked with the new snapshot. Static sections (graph, relay, queue
// sizing at startup) are intentionally not reloaded.
//
// Watch blocks until ctx is cancelled.
func (c *Config) Watch(ctx context.Context, onChange func(*Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and configmap mounts
	// replace the file, which drops a file-level watch.
	if err := watcher.Add(c.configDir); err != nil {
		return err
	}

	log := slog.With("component", "config-watcher", "file", ConfigFileName)
	log.Info("Watching for settings changes")

	// Debounce: editors emit several events per save.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != ConfigFileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending = time.After(250 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watcher error", "error", err)

		case <-pending:
			pending = nil
			c.reloadSettings(onChange)
		}
	}
}

// reloadSettings re-reads recap.yaml and swaps the settings snapshot.
// Invalid files are logged and skipped; the previous snapshot stays live.
func (c *Config) reloadSettings(onChange func(*Settings)) {
	log := slog.With("component", "config-watcher")

	raw, err := readConfigFile(c.configDir)
	if err != nil {
		log.Error("Settings reload failed, keeping previous settings", "error", err)
		return
	}

	settings := DefaultSettings()
	if raw.Settings != nil {
		if err := mergeSettings(settings, raw.Settings); err != nil {
			log.Error("Settings reload failed, keeping previous settings", "error", err)
			return
		}
	}
	if err := validateSettings(settings); err != nil {
		log.Error("Settings reload rejected, keeping previous settings", "error", err)
		return
	}

	c.setSettings(settings)
	log.Info("Settings reloaded",
		"pilot_mode", settings.PilotMode,
		"max_concurrent_jobs", settings.MaxConcurrentJobs,
		"polling_interval_minutes", settings.PollingIntervalMinutes)

	if onChange != nil {
		onChange(settings)
	}
}
