package persist

import (
	"context"
	"sync"
	"time"

	"prodtrack/internal/clock"
	"prodtrack/internal/eventbus"
	"prodtrack/internal/remote"
	"prodtrack/internal/track"
	logx "prodtrack/pkg/logx"
)

// DefaultDebounce is the quiet period after the last mutation before a
// day's record is written out.
const DefaultDebounce = time.Second

// Coordinator owns the in-memory record map and keeps the backend
// eventually consistent with it.
//
// Mutations apply to memory immediately and are acknowledged before any
// I/O happens; each mutated date is then saved after a debounce window,
// with at most one save in flight per date. A mutation arriving while a
// save is running re-arms the debounce once the save completes, so the
// backend always converges on the latest state.
type Coordinator struct {
	clk      clock.Clock
	client   remote.Client
	bus      eventbus.Bus
	log      logx.Logger
	debounce time.Duration

	mu      sync.Mutex
	records map[track.Date]*track.DailyRecord
	states  map[track.Date]*dateState
	closed  bool

	wg sync.WaitGroup
}

type dateState struct {
	timer       *time.Timer
	dirty       bool
	saving      bool
	pending     bool
	lastSavedAt time.Time
	lastErr     error
}

func NewCoordinator(clk clock.Clock, client remote.Client, bus eventbus.Bus, debounce time.Duration, log logx.Logger) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		clk:      clk,
		client:   client,
		bus:      bus,
		log:      log,
		debounce: debounce,
		records:  map[track.Date]*track.DailyRecord{},
		states:   map[track.Date]*dateState{},
	}
}

// LoadAll primes the in-memory map from the backend. Called once at
// session start, before any mutation.
func (c *Coordinator) LoadAll(ctx context.Context) error {
	all, err := c.client.LoadAllRecords(ctx)
	if err != nil {
		return &track.PersistenceError{Op: "load", Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for d, rec := range all {
		c.records[d] = rec
	}
	c.log.Info("records loaded", logx.Int("days", len(all)))
	return nil
}

// Record returns a copy of one day's record, if present.
func (c *Coordinator) Record(date track.Date) (*track.DailyRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[date]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Records returns a copy of the whole map.
func (c *Coordinator) Records() map[track.Date]*track.DailyRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[track.Date]*track.DailyRecord, len(c.records))
	for d, rec := range c.records {
		out[d] = rec.Clone()
	}
	return out
}

// Mutate applies fn to the date's record (creating an empty record first
// if none exists) and schedules a debounced save. The mutation is visible
// to readers as soon as Mutate returns.
func (c *Coordinator) Mutate(date track.Date, fn func(rec *track.DailyRecord)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	rec, ok := c.records[date]
	if !ok {
		rec = track.NewDailyRecord(date)
		c.records[date] = rec
	}
	fn(rec)

	st := c.stateLocked(date)
	st.dirty = true
	if st.saving {
		// Coalesce into a fresh window after the in-flight save returns.
		st.pending = true
		return
	}
	c.armLocked(date, st)
}

func (c *Coordinator) stateLocked(date track.Date) *dateState {
	st, ok := c.states[date]
	if !ok {
		st = &dateState{}
		c.states[date] = st
	}
	return st
}

// armLocked starts or resets the debounce timer for a date. The
// WaitGroup is armed here, when the fire is scheduled, so Close's Wait
// cannot miss a timer that is about to run.
func (c *Coordinator) armLocked(date track.Date, st *dateState) {
	if st.timer == nil {
		c.wg.Add(1)
		st.timer = time.AfterFunc(c.debounce, func() { c.fire(date) })
		return
	}
	if !st.timer.Reset(c.debounce) {
		// The previous fire already ran or was stopped; this Reset
		// schedules a fresh one.
		c.wg.Add(1)
	}
}

func (c *Coordinator) fire(date track.Date) {
	defer c.wg.Done()
	c.saveDate(context.Background(), date)
}

// saveDate performs one save round for the date, then re-arms if a
// mutation landed meanwhile.
func (c *Coordinator) saveDate(ctx context.Context, date track.Date) {
	c.mu.Lock()
	st := c.stateLocked(date)
	rec, ok := c.records[date]
	if !ok || !st.dirty || st.saving {
		c.mu.Unlock()
		return
	}
	st.saving = true
	st.dirty = false
	snapshot := rec.Clone()
	c.mu.Unlock()

	c.publishState(date, true, nil)
	err := c.client.SaveDailyRecord(ctx, snapshot)

	c.mu.Lock()
	st.saving = false
	st.lastErr = err
	if err == nil {
		st.lastSavedAt = c.clk.Now()
	} else {
		// Failed writes are not retried on a timer; the next mutation of
		// this date re-dirties it and triggers another attempt.
		st.dirty = true
	}
	rearm := st.pending
	st.pending = false
	if rearm && !c.closed {
		c.armLocked(date, st)
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error("daily record save failed",
			logx.String("date", date.String()), logx.Err(err))
	} else {
		c.log.Debug("daily record saved", logx.String("date", date.String()))
	}
	c.publishState(date, false, err)
}

func (c *Coordinator) publishState(date track.Date, saving bool, err error) {
	if c.bus == nil {
		return
	}
	ev := eventbus.SaveState{Date: date.String(), Saving: saving}
	if err != nil {
		ev.Error = err.Error()
	}
	c.mu.Lock()
	if st, ok := c.states[date]; ok {
		ev.LastSavedAt = st.lastSavedAt
	}
	c.mu.Unlock()
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeSaveState, Data: ev})
}

// SaveStatus reports whether a write is in flight for the date, whether
// unsaved changes remain, when the last successful save happened and the
// outcome of the last attempt. Saving and dirty are distinct facts: a
// mutated record sits dirty through the debounce window without any
// write being outstanding.
func (c *Coordinator) SaveStatus(date track.Date) (saving, dirty bool, lastSavedAt time.Time, lastErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[date]
	if !ok {
		return false, false, time.Time{}, nil
	}
	return st.saving, st.dirty, st.lastSavedAt, st.lastErr
}

// Flush writes every dirty date immediately, skipping the debounce. Used
// on day finish and teardown.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	var due []track.Date
	for d, st := range c.states {
		if st.timer != nil {
			// Stop reporting true means the scheduled fire was prevented,
			// so its WaitGroup slot is released here instead.
			if st.timer.Stop() {
				c.wg.Done()
			}
			st.timer = nil
		}
		if st.dirty && !st.saving {
			due = append(due, d)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, d := range due {
		c.saveDate(ctx, d)
		c.mu.Lock()
		err := c.states[d].lastErr
		c.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = &track.PersistenceError{Op: "save", Date: d, Err: err}
		}
	}
	return firstErr
}

// Close stops all timers and waits for in-flight saves. Dirty state is
// flushed first so nothing is lost on an orderly shutdown.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Flush(ctx)
	c.wg.Wait()
	return err
}
