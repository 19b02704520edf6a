// Package session ties the core components into one worker session: it
// owns the current date, enforces the access policy on every mutation and
// routes logged work into the persistence coordinator.
package session

import (
	"context"
	"fmt"
	"sync"

	"prodtrack/internal/catalog"
	"prodtrack/internal/clock"
	"prodtrack/internal/eventbus"
	"prodtrack/internal/persist"
	"prodtrack/internal/remote"
	"prodtrack/internal/timer"
	"prodtrack/internal/track"
	"prodtrack/internal/week"
	"prodtrack/internal/workwindow"
	logx "prodtrack/pkg/logx"
)

type Session struct {
	clk    clock.Clock
	cat    *catalog.Catalog
	eval   *workwindow.Evaluator
	weeks  *week.Scheduler
	tmr    *timer.JobTimer
	coord  *persist.Coordinator
	client remote.Client
	bus    eventbus.Bus
	log    logx.Logger

	role   track.Role
	target float64

	mu      sync.Mutex
	current track.Date
	profile track.Profile
	lastID  int64
}

type Deps struct {
	Clock     clock.Clock
	Catalog   *catalog.Catalog
	Evaluator *workwindow.Evaluator
	Weeks     *week.Scheduler
	Timer     *timer.JobTimer
	Persist   *persist.Coordinator
	Client    remote.Client
	Bus       eventbus.Bus
	Log       logx.Logger

	Role          track.Role
	TargetMinutes float64
}

func New(d Deps) *Session {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Role == "" {
		d.Role = track.RoleWorker
	}
	return &Session{
		clk:    d.Clock,
		cat:    d.Catalog,
		eval:   d.Evaluator,
		weeks:  d.Weeks,
		tmr:    d.Timer,
		coord:  d.Persist,
		client: d.Client,
		bus:    d.Bus,
		log:    d.Log,
		role:   d.Role,
		target: d.TargetMinutes,
	}
}

// Init loads history and profile, restores a crashed stopwatch and picks
// the opening date (adopting next week's first day when this week is
// already fully finished).
func (s *Session) Init(ctx context.Context) (recovered bool, err error) {
	if err := s.coord.LoadAll(ctx); err != nil {
		return false, err
	}

	if p, ok, err := s.client.LoadProfile(ctx); err != nil {
		s.log.Warn("profile load failed", logx.Err(err))
	} else if ok {
		s.mu.Lock()
		s.profile = p
		s.mu.Unlock()
	}

	recovered, err = s.tmr.Restore(ctx)
	if err != nil {
		s.log.Warn("timer restore failed; starting idle", logx.Err(err))
		recovered, err = false, nil
	}

	today := track.DateOf(s.clk.Now())
	opening := s.weeks.ProposeCurrentDate(s.coord.Records(), today)
	s.mu.Lock()
	s.current = opening
	s.mu.Unlock()
	s.log.Info("session ready",
		logx.String("date", opening.String()),
		logx.Bool("timer_recovered", recovered))
	return recovered, nil
}

func (s *Session) CurrentDate() track.Date {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Profile() track.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// SetCurrentDate moves the session to another day, subject to the access
// policy.
func (s *Session) SetCurrentDate(date track.Date) error {
	today := track.DateOf(s.clk.Now())
	if !s.eval.CanAccessDate(date, s.role, s.coord.Records(), today) {
		return fmt.Errorf("%w: %s", track.ErrOutsideWorkingWindow, date)
	}
	s.mu.Lock()
	s.current = date
	s.mu.Unlock()
	return nil
}

// nextID issues unix-milli IDs, bumped on collision so two entries logged
// within the same millisecond stay distinct.
func (s *Session) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.clk.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// checkMutable enforces the common preconditions for logging work on the
// current date.
func (s *Session) checkMutable() (track.Date, error) {
	date := s.CurrentDate()
	today := track.DateOf(s.clk.Now())
	if !s.eval.CanAccessDate(date, s.role, s.coord.Records(), today) {
		return "", fmt.Errorf("%w: %s", track.ErrOutsideWorkingWindow, date)
	}
	if rec, ok := s.coord.Record(date); ok && rec.IsFinished {
		return "", fmt.Errorf("%w: %s", track.ErrDayFinished, date)
	}
	return date, nil
}

// StartJob begins timing a catalog item.
func (s *Session) StartJob(code string) error {
	if _, err := s.checkMutable(); err != nil {
		return err
	}
	item, err := s.cat.Lookup(code)
	if err != nil {
		return err
	}
	return s.tmr.Start(item)
}

func (s *Session) PauseJob() error  { return s.tmr.Pause() }
func (s *Session) ResumeJob() error { return s.tmr.Resume() }
func (s *Session) DiscardJob()      { s.tmr.Discard() }

// CompleteTimedJob stops the stopwatch and logs the measured job against
// the current date.
func (s *Session) CompleteTimedJob(units int) (track.CompletedJob, error) {
	date, err := s.checkMutable()
	if err != nil {
		return track.CompletedJob{}, err
	}
	job, err := s.tmr.Stop(units, s.nextID())
	if err != nil {
		return track.CompletedJob{}, err
	}
	s.coord.Mutate(date, func(rec *track.DailyRecord) {
		rec.CompletedJobs = append(rec.CompletedJobs, job)
	})
	return job, nil
}

// LogManualJob logs a completion without a stopwatch measurement; actual
// minutes are attributed pro-rata from the item's expected time.
func (s *Session) LogManualJob(code string, units int) (track.CompletedJob, error) {
	date, err := s.checkMutable()
	if err != nil {
		return track.CompletedJob{}, err
	}
	item, err := s.cat.Lookup(code)
	if err != nil {
		return track.CompletedJob{}, err
	}
	job, err := track.JobFromUnits(item, units, s.nextID(), s.clk.Now())
	if err != nil {
		return track.CompletedJob{}, err
	}
	s.coord.Mutate(date, func(rec *track.DailyRecord) {
		rec.CompletedJobs = append(rec.CompletedJobs, job)
	})
	return job, nil
}

// DeleteJob removes a logged job by id. Missing ids are a no-op.
func (s *Session) DeleteJob(id int64) error {
	date, err := s.checkMutable()
	if err != nil {
		return err
	}
	s.coord.Mutate(date, func(rec *track.DailyRecord) {
		for i, j := range rec.CompletedJobs {
			if j.ID == id {
				rec.CompletedJobs = append(rec.CompletedJobs[:i], rec.CompletedJobs[i+1:]...)
				return
			}
		}
	})
	return nil
}

// LogLoss records non-productive time against the current date.
func (s *Session) LogLoss(reason track.LossReason, minutes int) (track.LossTimeEntry, error) {
	date, err := s.checkMutable()
	if err != nil {
		return track.LossTimeEntry{}, err
	}
	if !track.ValidLossReason(reason) {
		return track.LossTimeEntry{}, fmt.Errorf("%w: %q", track.ErrUnknownLossReason, reason)
	}
	if minutes <= 0 {
		return track.LossTimeEntry{}, track.ErrInvalidQuantity
	}
	entry := track.LossTimeEntry{
		Reason:   reason,
		Minutes:  minutes,
		LoggedAt: s.clk.Now(),
		ID:       s.nextID(),
	}
	s.coord.Mutate(date, func(rec *track.DailyRecord) {
		rec.LossTimeEntries = append(rec.LossTimeEntries, entry)
	})
	return entry, nil
}

// DeleteLoss removes a loss entry by id. Missing ids are a no-op.
func (s *Session) DeleteLoss(id int64) error {
	date, err := s.checkMutable()
	if err != nil {
		return err
	}
	s.coord.Mutate(date, func(rec *track.DailyRecord) {
		for i, e := range rec.LossTimeEntries {
			if e.ID == id {
				rec.LossTimeEntries = append(rec.LossTimeEntries[:i], rec.LossTimeEntries[i+1:]...)
				return
			}
		}
	})
	return nil
}

// FinishDay latches the current date finished, discards any live
// measurement, flushes pending saves and moves the session to the next
// working day.
func (s *Session) FinishDay(ctx context.Context) error {
	date, err := s.checkMutable()
	if err != nil {
		return err
	}
	s.tmr.Discard()

	now := s.clk.Now()
	s.coord.Mutate(date, func(rec *track.DailyRecord) {
		rec.IsFinished = true
		rec.FinishedAt = &now
	})
	if err := s.coord.Flush(ctx); err != nil {
		return err
	}

	next := s.eval.NextWorkingDay(date)
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeDayFinished,
			Data: eventbus.DayFinished{Date: date.String(), FinishedAt: now},
		})
	}
	s.log.Info("day finished",
		logx.String("date", date.String()),
		logx.String("next", next.String()))
	return nil
}

// CheckRollover moves the session into the next week once every working
// date of the week containing today is finished. Until then the current
// date is left alone: a day advanced by FinishDay and a deliberately
// selected past date both survive the periodic poll. Wired as a periodic
// task; also safe to call directly.
func (s *Session) CheckRollover() {
	today := track.DateOf(s.clk.Now())
	dates := s.weeks.WorkingDates(today)
	if len(dates) == 0 || !s.weeks.IsComplete(s.coord.Records(), dates) {
		return
	}
	next := s.weeks.NextWeekDates(dates)[0]
	s.mu.Lock()
	changed := next != s.current
	if changed {
		s.current = next
	}
	s.mu.Unlock()
	if changed {
		s.log.Info("week rolled over", logx.String("date", next.String()))
	}
}

// DailySummary computes the progress view for a date.
func (s *Session) DailySummary(date track.Date) track.DailySummary {
	rec, _ := s.coord.Record(date)
	return track.Summarize(rec, s.target)
}

// WeekDates returns the working dates of the week containing the current
// date.
func (s *Session) WeekDates() []track.Date {
	return s.weeks.WorkingDates(s.CurrentDate())
}

// WeekSummary aggregates the current week.
func (s *Session) WeekSummary() track.WeekSummary {
	return s.weeks.Summarize(s.coord.Records(), s.WeekDates())
}

// Record exposes a day's record for display.
func (s *Session) Record(date track.Date) (*track.DailyRecord, bool) {
	return s.coord.Record(date)
}

// Teardown flushes pending persistence work. The timer snapshot needs no
// handling: it is already durable from the last transition and will be
// recovered on the next start.
func (s *Session) Teardown(ctx context.Context) error {
	return s.coord.Close(ctx)
}
