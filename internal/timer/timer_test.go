package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prodtrack/internal/clock"
	"prodtrack/internal/eventbus"
	"prodtrack/internal/track"
	logx "prodtrack/pkg/logx"
)

type memSnaps struct {
	mu     sync.Mutex
	snap   track.TimerSnapshot
	has    bool
	puts   int
	clears int
	putErr error
}

func (m *memSnaps) Put(_ context.Context, snap track.TimerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.snap, m.has = snap, true
	m.puts++
	return nil
}

func (m *memSnaps) Get(_ context.Context) (track.TimerSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.has, nil
}

func (m *memSnaps) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.has = false
	m.clears++
	return nil
}

func (m *memSnaps) last() (track.TimerSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.has
}

var testItem = track.ProductionItem{ItemCode: "B102823", LMCode: "AHOOK-TI", Quantity: 100, ExpectedMinutes: 33.3}

func newTestTimer(t *testing.T) (*JobTimer, *clock.Fake, *memSnaps) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 24, 8, 0, 0, 0, time.Local))
	snaps := &memSnaps{}
	return New(clk, snaps, nil, logx.Nop()), clk, snaps
}

func TestTransitionLegality(t *testing.T) {
	t.Parallel()
	tmr, _, _ := newTestTimer(t)

	require.ErrorIs(t, tmr.Pause(), track.ErrIllegalTransition)
	require.ErrorIs(t, tmr.Resume(), track.ErrIllegalTransition)
	_, err := tmr.Stop(10, 1)
	require.ErrorIs(t, err, track.ErrIllegalTransition)

	require.NoError(t, tmr.Start(testItem))
	require.ErrorIs(t, tmr.Start(testItem), track.ErrIllegalTransition)
	require.ErrorIs(t, tmr.Resume(), track.ErrIllegalTransition)

	require.NoError(t, tmr.Pause())
	require.ErrorIs(t, tmr.Pause(), track.ErrIllegalTransition)
	require.NoError(t, tmr.Resume())
	require.Equal(t, StateRunning, tmr.State())
}

func TestElapsedAcrossPauseResume(t *testing.T) {
	t.Parallel()
	tmr, clk, _ := newTestTimer(t)

	require.NoError(t, tmr.Start(testItem))
	clk.Advance(10 * time.Minute)
	require.Equal(t, 10*time.Minute, tmr.Elapsed())

	require.NoError(t, tmr.Pause())
	clk.Advance(5 * time.Minute)
	require.Equal(t, 10*time.Minute, tmr.Elapsed())

	require.NoError(t, tmr.Resume())
	clk.Advance(2 * time.Minute)
	require.Equal(t, 12*time.Minute, tmr.Elapsed())
}

func TestStopBuildsJob(t *testing.T) {
	t.Parallel()
	tmr, clk, snaps := newTestTimer(t)

	require.NoError(t, tmr.Start(testItem))
	clk.Advance(20 * time.Minute)

	job, err := tmr.Stop(30, 77)
	require.NoError(t, err)
	require.Equal(t, "B102823", job.ItemCode)
	require.Equal(t, 30, job.UnitsCompleted)
	require.InDelta(t, 0.3, job.CompletionFraction, 1e-9)
	require.InDelta(t, 20, job.ActualMinutes, 1e-9)
	require.InDelta(t, 1200, job.ActualSecondsTaken, 1e-9)
	require.Equal(t, int64(77), job.ID)
	require.Equal(t, clk.Now(), job.LoggedAt)

	require.Equal(t, StateIdle, tmr.State())
	_, has := snaps.last()
	require.False(t, has, "snapshot should be cleared after stop")

	// The timer is reusable for the next job.
	require.NoError(t, tmr.Start(testItem))
}

func TestStopRejectsInvalidUnitsWithoutLosingState(t *testing.T) {
	t.Parallel()
	tmr, clk, _ := newTestTimer(t)
	require.NoError(t, tmr.Start(testItem))
	clk.Advance(time.Minute)

	_, err := tmr.Stop(0, 1)
	require.ErrorIs(t, err, track.ErrInvalidQuantity)
	require.Equal(t, StateRunning, tmr.State())
	require.Equal(t, time.Minute, tmr.Elapsed())
}

func TestEveryTransitionPersists(t *testing.T) {
	t.Parallel()
	tmr, clk, snaps := newTestTimer(t)

	require.NoError(t, tmr.Start(testItem))
	require.Equal(t, 1, snaps.puts)

	clk.Advance(3 * time.Minute)
	require.NoError(t, tmr.Pause())
	require.Equal(t, 2, snaps.puts)
	snap, has := snaps.last()
	require.True(t, has)
	require.True(t, snap.IsActive)
	require.True(t, snap.IsPaused)
	require.Equal(t, int64(3*60*1000), snap.ElapsedMillis)
	require.Equal(t, "B102823", snap.ItemCode)
	require.Equal(t, clk.Now().UnixMilli(), snap.SavedAtMillis)

	require.NoError(t, tmr.Resume())
	require.Equal(t, 3, snaps.puts)
}

func TestPersistFailureDoesNotBlockTransitions(t *testing.T) {
	t.Parallel()
	tmr, _, snaps := newTestTimer(t)
	snaps.putErr = errors.New("disk full")
	require.NoError(t, tmr.Start(testItem))
	require.Equal(t, StateRunning, tmr.State())
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	tmr, _, snaps := newTestTimer(t)

	tmr.Discard() // idle no-op
	require.Equal(t, 0, snaps.clears)

	require.NoError(t, tmr.Start(testItem))
	tmr.Discard()
	require.Equal(t, StateIdle, tmr.State())
	require.Equal(t, 1, snaps.clears)
}

func TestRestoreRunningAddsSuspendedGap(t *testing.T) {
	t.Parallel()
	tmr, clk, snaps := newTestTimer(t)

	require.NoError(t, tmr.Start(testItem))
	clk.Advance(10 * time.Minute)
	require.NoError(t, tmr.Pause())
	require.NoError(t, tmr.Resume()) // persists a running snapshot at elapsed=10m

	saved, _ := snaps.last()
	require.False(t, saved.IsPaused)

	// Simulate a process restart 4 minutes later.
	clk.Advance(4 * time.Minute)
	fresh := New(clk, snaps, nil, logx.Nop())
	recovered, err := fresh.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, recovered)
	require.Equal(t, StateRunning, fresh.State())
	require.Equal(t, 14*time.Minute, fresh.Elapsed())

	item, active := fresh.ActiveItem()
	require.True(t, active)
	require.Equal(t, "B102823", item.ItemCode)
	require.InDelta(t, 33.3, item.ExpectedMinutes, 1e-9)
}

func TestRestorePausedKeepsElapsedFrozen(t *testing.T) {
	t.Parallel()
	tmr, clk, snaps := newTestTimer(t)

	require.NoError(t, tmr.Start(testItem))
	clk.Advance(7 * time.Minute)
	require.NoError(t, tmr.Pause())

	clk.Advance(2 * time.Hour)
	fresh := New(clk, snaps, nil, logx.Nop())
	recovered, err := fresh.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, recovered)
	require.Equal(t, StatePaused, fresh.State())
	require.Equal(t, 7*time.Minute, fresh.Elapsed())
}

func TestRestoreClampsClockSkew(t *testing.T) {
	t.Parallel()

	t.Run("clock moved backwards", func(t *testing.T) {
		tmr, clk, snaps := newTestTimer(t)
		require.NoError(t, tmr.Start(testItem))
		clk.Advance(10 * time.Minute)
		require.NoError(t, tmr.Pause())
		require.NoError(t, tmr.Resume())

		clk.Set(clk.Now().Add(-time.Hour))
		fresh := New(clk, snaps, nil, logx.Nop())
		recovered, err := fresh.Restore(context.Background())
		require.NoError(t, err)
		require.True(t, recovered)
		require.Equal(t, 10*time.Minute, fresh.Elapsed())
	})

	t.Run("absurd forward jump", func(t *testing.T) {
		tmr, clk, snaps := newTestTimer(t)
		require.NoError(t, tmr.Start(testItem))
		clk.Advance(10 * time.Minute)
		require.NoError(t, tmr.Pause())
		require.NoError(t, tmr.Resume())

		clk.Advance(30 * 24 * time.Hour)
		fresh := New(clk, snaps, nil, logx.Nop())
		recovered, err := fresh.Restore(context.Background())
		require.NoError(t, err)
		require.True(t, recovered)
		require.Equal(t, 10*time.Minute, fresh.Elapsed())
	})
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	t.Parallel()
	tmr, _, _ := newTestTimer(t)
	recovered, err := tmr.Restore(context.Background())
	require.NoError(t, err)
	require.False(t, recovered)
	require.Equal(t, StateIdle, tmr.State())
}

func TestGenerationBumpsPerRunCycle(t *testing.T) {
	t.Parallel()
	tmr, _, _ := newTestTimer(t)
	require.Equal(t, uint64(0), tmr.Generation())

	require.NoError(t, tmr.Start(testItem))
	require.Equal(t, uint64(1), tmr.Generation())
	tmr.Discard()
	require.NoError(t, tmr.Start(testItem))
	require.Equal(t, uint64(2), tmr.Generation())
}

func TestTickPublishesOnlyWhileRunning(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Date(2026, 8, 24, 8, 0, 0, 0, time.Local))
	bus := eventbus.New()
	tmr := New(clk, &memSnaps{}, bus, logx.Nop())

	ch, unsub := bus.Subscribe(8)
	defer unsub()

	tmr.Tick() // idle: nothing
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev.Type)
	default:
	}

	require.NoError(t, tmr.Start(testItem))
	clk.Advance(90 * time.Second)
	tmr.Tick()
	ev := <-ch
	require.Equal(t, eventbus.TypeTimerTick, ev.Type)
	tick := ev.Data.(eventbus.TimerTick)
	require.Equal(t, int64(90*1000), tick.ElapsedMillis)
}
