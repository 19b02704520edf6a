package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	User    UserConfig    `json:"user"`
	Logging LoggingConfig `json:"logging"`

	// Schedule defines the working week and target. Omitted fields fall
	// back to the plant defaults (Mon-Thu, 06:55-16:35, 525 min).
	Schedule ScheduleConfig `json:"schedule"`

	Timer   TimerConfig   `json:"timer"`
	Persist PersistConfig `json:"persist"`

	// Catalog points at an alternate production item list. Empty means the
	// embedded catalog.
	Catalog CatalogConfig `json:"catalog,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

type UserConfig struct {
	ID string `json:"id"`
	// Role is "worker" or "admin". Admins bypass the date access policy.
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
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

// ScheduleConfig describes the working week.
//
// Start and End are wall-clock times in "HH:MM" form. Weekdays are
// English day names ("monday", ...).
type ScheduleConfig struct {
	Weekdays           []string `json:"weekdays,omitempty"`
	Start              string   `json:"start,omitempty"`
	End                string   `json:"end,omitempty"`
	DailyTargetMinutes float64  `json:"daily_target_minutes,omitempty"`
}

// TimerConfig tunes the stopwatch and the overrun watcher.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type TimerConfig struct {
	TickInterval string `json:"tick_interval,omitempty"`
	// OverrunGrace is added to an item's expected time before the overrun
	// prompt fires. "0s" keeps the default of 1m.
	OverrunGrace       string `json:"overrun_grace,omitempty"`
	OverrunScanEvery   string `json:"overrun_scan_every,omitempty"`
	CheckAfterRecovery *bool  `json:"check_after_recovery,omitempty"`
}

// PersistConfig tunes the save pipeline.
type PersistConfig struct {
	// Debounce is the quiet period after the last change before a day's
	// record is written.
	Debounce string `json:"debounce,omitempty"`
	// MinSaveGap rate-limits backend writes. "0s" disables limiting.
	MinSaveGap string `json:"min_save_gap,omitempty"`
}

type CatalogConfig struct {
	Path string `json:"path,omitempty"`
}

// StorageConfig controls the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./prodtrack.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate checks everything that can be checked without touching the
// filesystem. Called both at startup and before committing a hot reload.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.User.ID) == "" {
		return errors.New("user.id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.User.Role)) {
	case "", "worker", "admin":
	default:
		return fmt.Errorf("user.role: unknown role %q", c.User.Role)
	}
	if _, err := c.Schedule.Window(); err != nil {
		return err
	}
	if c.Schedule.DailyTargetMinutes < 0 {
		return errors.New("schedule.daily_target_minutes must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"timer.tick_interval", c.Timer.TickInterval},
		{"timer.overrun_grace", c.Timer.OverrunGrace},
		{"timer.overrun_scan_every", c.Timer.OverrunScanEvery},
		{"persist.debounce", c.Persist.Debounce},
		{"persist.min_save_gap", c.Persist.MinSaveGap},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
