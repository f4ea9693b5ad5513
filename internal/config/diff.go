package config

import (
	"strings"

	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and structured
// fields describing their new values, for a one-line reload log.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage is opened once per process; a change is reported but needs a restart.
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
			logx.Bool("storage.restart_required", true),
		)
	}

	if oldCfg.Reminder != newCfg.Reminder {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.Bool("reminder.enabled", newCfg.Reminder.Enabled),
			logx.String("reminder.spec", strings.TrimSpace(newCfg.Reminder.Spec)),
			logx.String("reminder.timezone", strings.TrimSpace(newCfg.Reminder.Timezone)),
			logx.String("reminder.window", strings.TrimSpace(newCfg.Reminder.Window)),
		)
	}

	if oldCfg.Display != newCfg.Display {
		changed = append(changed, "display")
		attrs = append(attrs, logx.String("display.due_soon_window", newCfg.Display.DueSoonWindow))
	}

	return changed, attrs
}
