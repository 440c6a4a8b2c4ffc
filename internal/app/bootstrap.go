package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"woprnotify/internal/config"
	"woprnotify/internal/eventbus"
	"woprnotify/internal/plugin"
	"woprnotify/internal/schedule"
	"woprnotify/internal/storage"
	logx "woprnotify/pkg/logx"
)

// mapLogConfig translates the logging section. In MCP stdio mode stdout
// belongs to the protocol, so the console is forced onto stderr.
func mapLogConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Output:  cfg.Logging.Output,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if cfg.MCP.Enabled {
		lc.Output = "stderr"
	}
	return lc
}

func mapEventsConfig(cfg *config.Config) eventbus.Config {
	return eventbus.Config{
		Driver: cfg.Events.Driver,
		URL:    cfg.Events.URL,
		Prefix: cfg.Events.Prefix,
	}
}

// mapStorageConfig reports enabled=false when storage is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
}

// reloadValidator rejects a reloaded config before it is committed.
// Sections that need a restart are accepted and reported by the reload loop.
func reloadValidator(pm *plugin.Manager) func(ctx context.Context, cfg *config.Config) error {
	return func(ctx context.Context, cfg *config.Config) error {
		if _, err := schedule.FromConfig(cfg.Schedules); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if pm != nil {
			return pm.ValidateConfig(ctx, cfg.Plugins)
		}
		return nil
	}
}
