package week

import (
	"sort"
	"time"

	"prodtrack/internal/track"
)

// Scheduler derives the working dates of a week from the configured
// weekday set and aggregates weekly totals. It holds no mutable state.
type Scheduler struct {
	weekdays []time.Weekday
}

func New(weekdays []time.Weekday) *Scheduler {
	wd := append([]time.Weekday(nil), weekdays...)
	// Order Monday-first regardless of config order; Sunday sorts last.
	sort.Slice(wd, func(i, j int) bool { return mondayIndex(wd[i]) < mondayIndex(wd[j]) })
	return &Scheduler{weekdays: wd}
}

func mondayIndex(w time.Weekday) int {
	// time.Sunday == 0; shift so Monday == 0 and Sunday == 6.
	return (int(w) + 6) % 7
}

// WorkingDates returns the working dates of the ISO week containing ref,
// ordered Monday-first.
func (s *Scheduler) WorkingDates(ref track.Date) []track.Date {
	monday := ref.AddDays(-mondayIndex(ref.Weekday()))
	out := make([]track.Date, 0, len(s.weekdays))
	for _, w := range s.weekdays {
		out = append(out, monday.AddDays(mondayIndex(w)))
	}
	return out
}

// NextWeekDates shifts the given working dates forward by exactly 7 days.
func (s *Scheduler) NextWeekDates(dates []track.Date) []track.Date {
	out := make([]track.Date, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.AddDays(7))
	}
	return out
}

// IsComplete reports whether every working date has a finished record.
func (s *Scheduler) IsComplete(records map[track.Date]*track.DailyRecord, dates []track.Date) bool {
	if len(dates) == 0 {
		return false
	}
	for _, d := range dates {
		rec := records[d]
		if rec == nil || !rec.IsFinished {
			return false
		}
	}
	return true
}

// Summarize aggregates the given working dates into a WeekSummary.
//
// DaysWithRecord counts dates with any record, finished or not. The
// completeness check above requires IsFinished; the two measures are kept
// deliberately distinct.
func (s *Scheduler) Summarize(records map[track.Date]*track.DailyRecord, dates []track.Date) track.WeekSummary {
	var sum track.WeekSummary
	for _, d := range dates {
		rec := records[d]
		if rec == nil {
			continue
		}
		sum.DaysWithRecord++
		sum.TotalCompletedMinutes += rec.CompletedMinutes()
		sum.TotalLossMinutes += rec.LossMinutes()
		sum.TotalJobs += len(rec.CompletedJobs)
	}
	return sum
}

// ProposeCurrentDate picks the date a session should open on. When the
// week containing today is fully finished it proposes the first working
// date of the next week instead of a dead week. The caller decides whether
// to adopt the proposal; nothing is mutated here.
func (s *Scheduler) ProposeCurrentDate(records map[track.Date]*track.DailyRecord, today track.Date) track.Date {
	dates := s.WorkingDates(today)
	if len(dates) == 0 {
		return today
	}
	if s.IsComplete(records, dates) {
		return s.NextWeekDates(dates)[0]
	}
	for _, d := range dates {
		if d == today {
			return today
		}
	}
	return dates[0]
}
