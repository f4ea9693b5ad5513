package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/config"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/reminder"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/schedule"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/storage"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := storage.NormalizeDriver(sc.Driver)
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./autodate"
		}
		return storage.Config{Driver: driver, Path: path, Upgrade: sc.Upgrade}, validateUpgrade(sc.Upgrade)
	case "sqlite":
		if path == "" {
			path = "./autodate.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Upgrade: sc.Upgrade}, validateUpgrade(sc.Upgrade)
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func validateUpgrade(p string) error {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", storage.UpgradeBackfill, storage.UpgradeRecreate:
		return nil
	default:
		return fmt.Errorf("storage.upgrade: unknown policy %q (want %s or %s)", p, storage.UpgradeBackfill, storage.UpgradeRecreate)
	}
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminder
	window, err := config.ParseDurationOrDefault("reminder.window", rc.Window, schedule.DefaultDueSoonWindow)
	if err != nil {
		return reminder.Config{}, err
	}
	if rc.RatePerSec < 0 {
		return reminder.Config{}, fmt.Errorf("reminder.rate_per_sec must be >= 0")
	}
	out := reminder.Config{
		Enabled:  rc.Enabled,
		Spec:     rc.Spec,
		Timezone: rc.Timezone,
		Window:   window,
	}
	return out, reminder.Validate(out)
}

func dueSoonWindow(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("display.due_soon_window", cfg.Display.DueSoonWindow, schedule.DefaultDueSoonWindow)
}

// validateConfig rejects a hot-reloaded config before it is committed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, err := dueSoonWindow(cfg); err != nil {
		return err
	}
	return nil
}
