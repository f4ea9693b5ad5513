package config

// Config is the on-disk configuration (JSON or YAML).
//
// Example (YAML):
//
//	logging:
//	  level: info
//	  console: true
//	storage:
//	  driver: sqlite
//	  path: ./data/autodate.db
//	reminder:
//	  enabled: true
//	  spec: "0 9 * * *"
//	  window: 720h
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
	Display  DisplayConfig  `json:"display,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the record store.
//
//	"storage": { "driver": "sqlite", "path": "./autodate.db" }
//
// Upgrade selects how data from an older schema is handled:
//   - "backfill" (default): keep records, default the new fields
//   - "recreate": drop the collection; stored records are LOST
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Upgrade     string `json:"upgrade,omitempty"`
}

// ReminderConfig controls the periodic due-service sweep run by `autodate watch`.
//
// Spec accepts 5-field cron, 6-field cron (with seconds) and descriptors like "@daily".
// Window is a Go duration string; a milestone inside it counts as due soon.
type ReminderConfig struct {
	Enabled    bool   `json:"enabled"`
	Spec       string `json:"spec,omitempty"`     // default: "@daily"
	Timezone   string `json:"timezone,omitempty"` // default: local
	Window     string `json:"window,omitempty"`   // default: "720h"
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DisplayConfig tunes the CLI output.
type DisplayConfig struct {
	DueSoonWindow string `json:"due_soon_window,omitempty"` // default: "720h"
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "warn", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "./autodate.db"},
		Reminder: ReminderConfig{
			Spec:       "@daily",
			Window:     "720h",
			RatePerSec: 5,
		},
	}
}
