package workwindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"prodtrack/internal/clock"
	"prodtrack/internal/track"
)

// MinuteOfDay is a time-of-day expressed as minutes since midnight.
type MinuteOfDay int

// ParseHHMM parses "06:55" into a MinuteOfDay.
func ParseHHMM(s string) (MinuteOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return MinuteOfDay(h*60 + m), nil
}

// Config is the working-window policy: which weekdays are working days and
// the daily [Start, End] logging window. Policy lives in configuration, not
// in the evaluator's logic.
type Config struct {
	Weekdays []time.Weekday
	Start    MinuteOfDay
	End      MinuteOfDay
}

// Default returns the reference deployment policy: Monday-Thursday,
// 06:55-16:35.
func Default() Config {
	return Config{
		Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday},
		Start:    6*60 + 55,
		End:      16*60 + 35,
	}
}

func (c Config) Validate() error {
	if len(c.Weekdays) == 0 {
		return fmt.Errorf("workwindow: no working weekdays configured")
	}
	if c.End <= c.Start {
		return fmt.Errorf("workwindow: end %d must be after start %d", c.End, c.Start)
	}
	return nil
}

// Evaluator decides date/time access. Pure with respect to its inputs and
// the injected clock.
type Evaluator struct {
	cfg Config
	clk clock.Clock
}

func New(cfg Config, clk clock.Clock) *Evaluator {
	return &Evaluator{cfg: cfg, clk: clk}
}

func (e *Evaluator) Config() Config { return e.cfg }

// IsWorkingDay reports whether the date falls on a configured weekday.
func (e *Evaluator) IsWorkingDay(d track.Date) bool {
	wd := d.Weekday()
	for _, w := range e.cfg.Weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

// IsWithinWorkingHours reports whether the instant's time of day is inside
// the [Start, End] window, inclusive on both ends.
func (e *Evaluator) IsWithinWorkingHours(t time.Time) bool {
	mod := MinuteOfDay(t.Hour()*60 + t.Minute())
	return mod >= e.cfg.Start && mod <= e.cfg.End
}

// NextWorkingDay returns the first configured working date strictly after d.
func (e *Evaluator) NextWorkingDay(d track.Date) track.Date {
	next := d
	for i := 0; i < 7; i++ {
		next = next.AddDays(1)
		if e.IsWorkingDay(next) {
			return next
		}
	}
	return next
}

// CanAccessDate applies the access policy:
//
//  1. Admins always pass.
//  2. Non-working days are never accessible.
//  3. Past dates are always viewable.
//  4. Today requires the clock to be inside working hours.
//  5. The next working day opens early once today's record is finished,
//     still only inside working hours.
//  6. Everything else is closed.
func (e *Evaluator) CanAccessDate(date track.Date, role track.Role, records map[track.Date]*track.DailyRecord, today track.Date) bool {
	if role == track.RoleAdmin {
		return true
	}
	if !e.IsWorkingDay(date) {
		return false
	}
	if date.Before(today) {
		return true
	}
	if date == today {
		return e.IsWithinWorkingHours(e.clk.Now())
	}
	if date == e.NextWorkingDay(today) {
		rec := records[today]
		return rec != nil && rec.IsFinished && e.IsWithinWorkingHours(e.clk.Now())
	}
	return false
}
