package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"prodtrack/internal/clock"
	"prodtrack/internal/eventbus"
	"prodtrack/internal/track"
	logx "prodtrack/pkg/logx"
)

// SnapshotStore is the narrow durable-storage surface the timer owns. No
// other component reads or writes the snapshot.
type SnapshotStore interface {
	Put(ctx context.Context, snap track.TimerSnapshot) error
	Get(ctx context.Context) (track.TimerSnapshot, bool, error)
	Clear(ctx context.Context) error
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// maxRecoveryGap bounds the suspension compensation added during restore.
// A gap beyond this means the system clock jumped; the raw snapshot value
// is kept instead.
const maxRecoveryGap = 7 * 24 * time.Hour

// JobTimer is the per-session stopwatch state machine.
//
// Elapsed time is always derived from the clock and the recorded start
// epoch, never from tick counting. Every transition synchronously writes a
// TimerSnapshot so the measurement survives a process restart.
type JobTimer struct {
	mu    sync.Mutex
	clk   clock.Clock
	snaps SnapshotStore
	bus   eventbus.Bus
	log   logx.Logger

	state State
	item  track.ProductionItem

	// startEpochMillis is maintained so that, while running,
	// elapsed == now - startEpochMillis (resume shifts it back by the
	// already-accrued time).
	startEpochMillis    int64
	pausedElapsedMillis int64

	// gen increments on every Start. The overrun watcher keys its one-shot
	// disarm off the generation so a new run-cycle re-arms it.
	gen uint64
}

func New(clk clock.Clock, snaps SnapshotStore, bus eventbus.Bus, log logx.Logger) *JobTimer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &JobTimer{clk: clk, snaps: snaps, bus: bus, log: log}
}

func (t *JobTimer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Generation identifies the current run-cycle. Bumped by Start.
func (t *JobTimer) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// ActiveItem returns the item being timed, if any.
func (t *JobTimer) ActiveItem() (track.ProductionItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.item, t.state != StateIdle
}

// Start begins timing an item. Only legal from idle.
func (t *JobTimer) Start(item track.ProductionItem) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		return fmt.Errorf("%w: start from %s", track.ErrIllegalTransition, t.state)
	}
	t.item = item
	t.startEpochMillis = t.clk.Now().UnixMilli()
	t.pausedElapsedMillis = 0
	t.state = StateRunning
	t.gen++
	t.persistLocked()
	t.log.Info("timer started",
		logx.String("item", item.ItemCode),
		logx.Float64("expected_minutes", item.ExpectedMinutes))
	return nil
}

// Pause freezes elapsed time. Only legal while running.
func (t *JobTimer) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return fmt.Errorf("%w: pause from %s", track.ErrIllegalTransition, t.state)
	}
	t.pausedElapsedMillis = t.clk.Now().UnixMilli() - t.startEpochMillis
	t.state = StatePaused
	t.persistLocked()
	t.log.Debug("timer paused", logx.Int64("elapsed_ms", t.pausedElapsedMillis))
	return nil
}

// Resume continues from a pause; elapsed time carries on seamlessly.
func (t *JobTimer) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", track.ErrIllegalTransition, t.state)
	}
	t.startEpochMillis = t.clk.Now().UnixMilli() - t.pausedElapsedMillis
	t.state = StateRunning
	t.persistLocked()
	t.log.Debug("timer resumed", logx.Int64("elapsed_ms", t.pausedElapsedMillis))
	return nil
}

// Elapsed returns accrued stopwatch time.
func (t *JobTimer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.elapsedMillisLocked()) * time.Millisecond
}

func (t *JobTimer) elapsedMillisLocked() int64 {
	switch t.state {
	case StateRunning:
		return t.clk.Now().UnixMilli() - t.startEpochMillis
	case StatePaused:
		return t.pausedElapsedMillis
	default:
		return 0
	}
}

// Stop ends the measurement and builds the completed job from the active
// item and the supplied unit count. Legal from running or paused. The
// timer returns to idle, ready for the next job, and the persisted
// snapshot is cleared.
func (t *JobTimer) Stop(actualUnits int, id int64) (track.CompletedJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning && t.state != StatePaused {
		return track.CompletedJob{}, fmt.Errorf("%w: stop from %s", track.ErrIllegalTransition, t.state)
	}
	if actualUnits <= 0 {
		return track.CompletedJob{}, track.ErrInvalidQuantity
	}

	elapsedMS := t.elapsedMillisLocked()
	job := track.CompletedJob{
		ItemCode:           t.item.ItemCode,
		LMCode:             t.item.LMCode,
		Quantity:           t.item.Quantity,
		ExpectedMinutes:    t.item.ExpectedMinutes,
		UnitsCompleted:     actualUnits,
		CompletionFraction: float64(actualUnits) / float64(t.item.Quantity),
		ActualMinutes:      float64(elapsedMS) / 60000.0,
		ActualSecondsTaken: float64(elapsedMS) / 1000.0,
		LoggedAt:           t.clk.Now(),
		ID:                 id,
	}

	t.state = StateIdle
	t.item = track.ProductionItem{}
	t.startEpochMillis = 0
	t.pausedElapsedMillis = 0
	t.clearSnapshotLocked()
	t.log.Info("timer stopped",
		logx.String("item", job.ItemCode),
		logx.Int("units", actualUnits),
		logx.Float64("actual_minutes", job.ActualMinutes))
	return job, nil
}

// Discard abandons the measurement without producing a job. Legal from any
// non-idle state; discarding an idle timer is a no-op.
func (t *JobTimer) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateIdle {
		return
	}
	item := t.item.ItemCode
	t.state = StateIdle
	t.item = track.ProductionItem{}
	t.startEpochMillis = 0
	t.pausedElapsedMillis = 0
	t.clearSnapshotLocked()
	t.log.Info("timer discarded", logx.String("item", item))
}

// Tick republishes the running elapsed time for observers. UI refresh
// only; callers schedule it at ~100ms. No-op unless running.
func (t *JobTimer) Tick() {
	t.mu.Lock()
	if t.state != StateRunning || t.bus == nil {
		t.mu.Unlock()
		return
	}
	ev := eventbus.TimerTick{ItemCode: t.item.ItemCode, ElapsedMillis: t.elapsedMillisLocked()}
	t.mu.Unlock()
	t.bus.Publish(eventbus.Event{Type: eventbus.TypeTimerTick, Data: ev})
}

// Restore recovers a persisted snapshot on process start. For a snapshot
// that was running when the process died, the wall-clock gap since the
// last save is added to elapsed so the measurement reflects real time, not
// in-process time. A negative or absurd gap (clock changed) falls back to
// the raw snapshot value.
//
// Returns whether a live measurement was recovered.
func (t *JobTimer) Restore(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		return false, fmt.Errorf("%w: restore from %s", track.ErrIllegalTransition, t.state)
	}
	if t.snaps == nil {
		return false, nil
	}
	snap, ok, err := t.snaps.Get(ctx)
	if err != nil {
		return false, err
	}
	if !ok || !snap.IsActive {
		return false, nil
	}

	t.item = track.ProductionItem{
		ItemCode:        snap.ItemCode,
		LMCode:          snap.LMCode,
		ExpectedMinutes: snap.ExpectedMinutes,
	}
	t.gen++

	if snap.IsPaused {
		t.state = StatePaused
		t.pausedElapsedMillis = snap.ElapsedMillis
		t.persistLocked()
		t.log.Info("timer recovered (paused)",
			logx.String("item", snap.ItemCode),
			logx.Int64("elapsed_ms", snap.ElapsedMillis))
		return true, nil
	}

	gap := t.clk.Now().UnixMilli() - snap.SavedAtMillis
	elapsed := snap.ElapsedMillis
	if gap > 0 && gap <= maxRecoveryGap.Milliseconds() {
		elapsed += gap
	} else if gap != 0 {
		t.log.Warn("timer recovery clock skew; keeping raw elapsed",
			logx.Int64("gap_ms", gap),
			logx.Int64("elapsed_ms", snap.ElapsedMillis))
	}
	if elapsed < 0 {
		elapsed = 0
	}
	t.state = StateRunning
	t.startEpochMillis = t.clk.Now().UnixMilli() - elapsed
	t.pausedElapsedMillis = 0
	t.persistLocked()
	t.log.Info("timer recovered (running)",
		logx.String("item", snap.ItemCode),
		logx.Int64("elapsed_ms", elapsed),
		logx.Int64("suspended_ms", gap))
	return true, nil
}

// persistLocked writes the current snapshot synchronously. Persistence
// failures are logged, not propagated: the in-memory state machine is
// authoritative and a later transition re-attempts the write.
func (t *JobTimer) persistLocked() {
	if t.snaps == nil {
		return
	}
	now := t.clk.Now().UnixMilli()
	snap := track.TimerSnapshot{
		IsActive:            t.state != StateIdle,
		IsPaused:            t.state == StatePaused,
		StartEpochMillis:    t.startEpochMillis,
		PausedElapsedMillis: t.pausedElapsedMillis,
		ElapsedMillis:       t.elapsedMillisLocked(),
		ExpectedMinutes:     t.item.ExpectedMinutes,
		ItemCode:            t.item.ItemCode,
		LMCode:              t.item.LMCode,
		SavedAtMillis:       now,
	}
	if err := t.snaps.Put(context.Background(), snap); err != nil {
		t.log.Warn("timer snapshot write failed", logx.Err(err))
	}
}

func (t *JobTimer) clearSnapshotLocked() {
	if t.snaps == nil {
		return
	}
	if err := t.snaps.Clear(context.Background()); err != nil {
		t.log.Warn("timer snapshot clear failed", logx.Err(err))
	}
}
