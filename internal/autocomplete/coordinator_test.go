package autocomplete

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prodtrack/internal/clock"
	"prodtrack/internal/eventbus"
	"prodtrack/internal/timer"
	"prodtrack/internal/track"
	logx "prodtrack/pkg/logx"
)

type memSnaps struct {
	mu   sync.Mutex
	snap track.TimerSnapshot
	has  bool
}

func (m *memSnaps) Put(_ context.Context, snap track.TimerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap, m.has = snap, true
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
	return nil
}

var item = track.ProductionItem{ItemCode: "B105003", LMCode: "AL-SPTQRA-BK", Quantity: 12, ExpectedMinutes: 9}

type harness struct {
	coord  *Coordinator
	tmr    *timer.JobTimer
	clk    *clock.Fake
	bus    eventbus.Bus
	mu     sync.Mutex
	commit []int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk: clock.NewFake(time.Date(2026, 8, 24, 8, 0, 0, 0, time.Local)),
		bus: eventbus.New(),
	}
	h.tmr = timer.New(h.clk, &memSnaps{}, h.bus, logx.Nop())
	h.coord = New(h.tmr, h.bus, func(units int) error {
		h.mu.Lock()
		h.commit = append(h.commit, units)
		h.mu.Unlock()
		return nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) fireOverrun() {
	h.bus.Publish(eventbus.Event{Type: eventbus.TypeOverrun, Data: eventbus.Overrun{
		ItemCode:        item.ItemCode,
		ExpectedMinutes: item.ExpectedMinutes,
		ElapsedMillis:   h.tmr.Elapsed().Milliseconds(),
	}})
}

func waitPending(t *testing.T, c *Coordinator) Proposal {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := c.Pending(); ok {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no proposal appeared")
	return Proposal{}
}

func TestOverrunCreatesProposal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.tmr.Start(item))
	h.clk.Advance(11 * time.Minute)
	h.fireOverrun()

	p := waitPending(t, h.coord)
	require.Equal(t, "B105003", p.Item.ItemCode)
	require.Equal(t, 12, p.ProposedUnits, "defaults to the full batch")
	require.Equal(t, int64(11*60*1000), p.ElapsedMillis)
}

func TestConfirmProposedUnits(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.tmr.Start(item))
	h.clk.Advance(11 * time.Minute)
	h.fireOverrun()
	p := waitPending(t, h.coord)

	require.NoError(t, h.coord.Confirm(p.ProposedUnits))
	h.mu.Lock()
	require.Equal(t, []int{12}, h.commit)
	h.mu.Unlock()
	_, ok := h.coord.Pending()
	require.False(t, ok)
}

func TestConfirmRejectsInvalidUnits(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.tmr.Start(item))
	h.clk.Advance(11 * time.Minute)
	h.fireOverrun()
	waitPending(t, h.coord)

	require.ErrorIs(t, h.coord.Confirm(0), track.ErrInvalidQuantity)
	require.ErrorIs(t, h.coord.Confirm(-3), track.ErrInvalidQuantity)

	// The proposal survives a bad confirm attempt.
	_, ok := h.coord.Pending()
	require.True(t, ok)
}

func TestConfirmOverrideUnits(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.tmr.Start(item))
	h.clk.Advance(11 * time.Minute)
	h.fireOverrun()
	waitPending(t, h.coord)

	require.NoError(t, h.coord.Confirm(7))
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, []int{7}, h.commit)
}

func TestConfirmWithoutProposal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.ErrorIs(t, h.coord.Confirm(5), track.ErrIllegalTransition)
}

func TestCancelDiscardsTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.tmr.Start(item))
	h.clk.Advance(11 * time.Minute)
	h.fireOverrun()
	waitPending(t, h.coord)

	h.coord.Cancel()
	_, ok := h.coord.Pending()
	require.False(t, ok)
	require.Equal(t, timer.StateIdle, h.tmr.State(), "cancel throws the measurement away")
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Empty(t, h.commit)
}

func TestCancelWithoutProposalIsNoOp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.tmr.Start(item))
	h.coord.Cancel()
	require.Equal(t, timer.StateRunning, h.tmr.State())
}

func TestStaleProposalRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.tmr.Start(item))
	h.clk.Advance(11 * time.Minute)
	h.fireOverrun()
	waitPending(t, h.coord)

	// The operator discards and starts a fresh run before confirming.
	h.tmr.Discard()
	require.NoError(t, h.tmr.Start(item))

	require.ErrorIs(t, h.coord.Confirm(12), track.ErrIllegalTransition)
	_, ok := h.coord.Pending()
	require.False(t, ok, "stale proposal is dropped")
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Empty(t, h.commit)
}

// The recovery path publishes an overrun before the run loop starts; the
// subscription taken in New must hold the event until then.
func TestOverrunBeforeRunIsBuffered(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Date(2026, 8, 24, 8, 0, 0, 0, time.Local))
	bus := eventbus.New()
	tmr := timer.New(clk, &memSnaps{}, bus, logx.Nop())
	c := New(tmr, bus, func(int) error { return nil }, logx.Nop())

	require.NoError(t, tmr.Start(item))
	clk.Advance(11 * time.Minute)
	bus.Publish(eventbus.Event{Type: eventbus.TypeOverrun, Data: eventbus.Overrun{
		ItemCode:        item.ItemCode,
		ExpectedMinutes: item.ExpectedMinutes,
		ElapsedMillis:   tmr.Elapsed().Milliseconds(),
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	p := waitPending(t, c)
	require.Equal(t, 12, p.ProposedUnits)
}

func TestProposalSkippedWhenJobAlreadyEnded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.tmr.Start(item))
	h.clk.Advance(11 * time.Minute)
	over := eventbus.Overrun{ItemCode: item.ItemCode, ElapsedMillis: h.tmr.Elapsed().Milliseconds()}
	h.tmr.Discard()

	h.bus.Publish(eventbus.Event{Type: eventbus.TypeOverrun, Data: over})
	time.Sleep(50 * time.Millisecond)
	_, ok := h.coord.Pending()
	require.False(t, ok)
}
