package config

import (
	"fmt"
	"strings"
	"time"

	"prodtrack/internal/workwindow"
)

// DefaultDailyTargetMinutes is the plant's per-day production target.
const DefaultDailyTargetMinutes = 525

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Window resolves the schedule section into a working-window config,
// applying plant defaults for omitted fields.
func (s ScheduleConfig) Window() (workwindow.Config, error) {
	cfg := workwindow.Default()

	if len(s.Weekdays) > 0 {
		days := make([]time.Weekday, 0, len(s.Weekdays))
		seen := map[time.Weekday]bool{}
		for _, name := range s.Weekdays {
			d, ok := dayNames[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return workwindow.Config{}, fmt.Errorf("schedule.weekdays: unknown day %q", name)
			}
			if seen[d] {
				continue
			}
			seen[d] = true
			days = append(days, d)
		}
		cfg.Weekdays = days
	}

	if strings.TrimSpace(s.Start) != "" {
		m, err := workwindow.ParseHHMM(s.Start)
		if err != nil {
			return workwindow.Config{}, fmt.Errorf("schedule.start: %w", err)
		}
		cfg.Start = m
	}
	if strings.TrimSpace(s.End) != "" {
		m, err := workwindow.ParseHHMM(s.End)
		if err != nil {
			return workwindow.Config{}, fmt.Errorf("schedule.end: %w", err)
		}
		cfg.End = m
	}
	if err := cfg.Validate(); err != nil {
		return workwindow.Config{}, err
	}
	return cfg, nil
}

// TargetMinutes returns the configured daily target, defaulted.
func (s ScheduleConfig) TargetMinutes() float64 {
	if s.DailyTargetMinutes > 0 {
		return s.DailyTargetMinutes
	}
	return DefaultDailyTargetMinutes
}
