package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

// openBackend initializes the configured engine and upgrades its schema.
func openBackend(ctx context.Context, cfg Config, log logx.Logger) (backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	switch normalizeUpgrade(cfg.Upgrade) {
	case UpgradeBackfill, UpgradeRecreate:
	default:
		return nil, errors.New("unknown storage upgrade policy: " + cfg.Upgrade)
	}

	switch NormalizeDriver(cfg.Driver) {
	case "file":
		return openFile(ctx, cfg, log)
	case "sqlite":
		return openSQLite(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

// NormalizeDriver maps aliases ("", "sqlite3") to canonical driver names.
func NormalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	switch d {
	case "", "sqlite", "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

func normalizeUpgrade(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return UpgradeBackfill
	}
	return p
}
