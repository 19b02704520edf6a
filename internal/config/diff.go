package config

import (
	"reflect"
	"sort"
	"strings"

	logx "prodtrack/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging the reload.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.User != newCfg.User {
		changed = append(changed, "user")
		attrs = append(attrs,
			logx.String("user.id", strings.TrimSpace(newCfg.User.ID)),
			logx.String("user.role", strings.TrimSpace(newCfg.User.Role)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Int("schedule.weekday_count", len(newCfg.Schedule.Weekdays)),
			logx.String("schedule.start", strings.TrimSpace(newCfg.Schedule.Start)),
			logx.String("schedule.end", strings.TrimSpace(newCfg.Schedule.End)),
			logx.Float64("schedule.daily_target_minutes", newCfg.Schedule.TargetMinutes()),
		)
	}

	if oldCfg.Timer != newCfg.Timer {
		changed = append(changed, "timer")
		attrs = append(attrs,
			logx.String("timer.tick_interval", strings.TrimSpace(newCfg.Timer.TickInterval)),
			logx.String("timer.overrun_grace", strings.TrimSpace(newCfg.Timer.OverrunGrace)),
			logx.String("timer.overrun_scan_every", strings.TrimSpace(newCfg.Timer.OverrunScanEvery)),
		)
	}

	if oldCfg.Persist != newCfg.Persist {
		changed = append(changed, "persist")
		attrs = append(attrs,
			logx.String("persist.debounce", strings.TrimSpace(newCfg.Persist.Debounce)),
			logx.String("persist.min_save_gap", strings.TrimSpace(newCfg.Persist.MinSaveGap)),
		)
	}

	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		attrs = append(attrs,
			logx.Bool("catalog.path_set", strings.TrimSpace(newCfg.Catalog.Path) != ""),
		)
	}

	// Storage section may be nil (disabled).
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
