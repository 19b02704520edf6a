package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prodtrack/internal/catalog"
	"prodtrack/internal/clock"
	"prodtrack/internal/eventbus"
	"prodtrack/internal/persist"
	"prodtrack/internal/timer"
	"prodtrack/internal/track"
	"prodtrack/internal/week"
	"prodtrack/internal/workwindow"
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

type fakeClient struct {
	mu      sync.Mutex
	records map[track.Date]*track.DailyRecord
	profile track.Profile
	hasProf bool
}

func (f *fakeClient) SaveDailyRecord(_ context.Context, rec *track.DailyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = map[track.Date]*track.DailyRecord{}
	}
	f.records[rec.Date] = rec
	return nil
}

func (f *fakeClient) LoadAllRecords(context.Context) (map[track.Date]*track.DailyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[track.Date]*track.DailyRecord{}
	for d, r := range f.records {
		out[d] = r.Clone()
	}
	return out, nil
}

func (f *fakeClient) LoadProfile(context.Context) (track.Profile, bool, error) {
	return f.profile, f.hasProf, nil
}

func (f *fakeClient) SaveProfile(context.Context, track.Profile) error { return nil }

type fixture struct {
	sess   *Session
	clk    *clock.Fake
	bus    eventbus.Bus
	client *fakeClient
	snaps  *memSnaps
}

// Tuesday 2026-08-25, 10:00, inside working hours.
func newFixture(t *testing.T, role track.Role) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local))
	bus := eventbus.New()
	client := &fakeClient{}
	snaps := &memSnaps{}

	cat, err := catalog.Load("")
	require.NoError(t, err)

	window := workwindow.Default()
	coord := persist.NewCoordinator(clk, client, bus, time.Hour, logx.Nop())
	t.Cleanup(func() { _ = coord.Close(context.Background()) })

	sess := New(Deps{
		Clock:         clk,
		Catalog:       cat,
		Evaluator:     workwindow.New(window, clk),
		Weeks:         week.New(window.Weekdays),
		Timer:         timer.New(clk, snaps, bus, logx.Nop()),
		Persist:       coord,
		Client:        client,
		Bus:           bus,
		Log:           logx.Nop(),
		Role:          role,
		TargetMinutes: 525,
	})
	_, err = sess.Init(context.Background())
	require.NoError(t, err)
	return &fixture{sess: sess, clk: clk, bus: bus, client: client, snaps: snaps}
}

func TestInitOpensOnToday(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)
	require.Equal(t, track.Date("2026-08-25"), f.sess.CurrentDate())
}

func TestManualJobLogging(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)

	job, err := f.sess.LogManualJob("B102823", 50)
	require.NoError(t, err)
	require.InDelta(t, 0.5, job.CompletionFraction, 1e-9)
	require.InDelta(t, 16.65, job.ActualMinutes, 1e-9)

	rec, ok := f.sess.Record("2026-08-25")
	require.True(t, ok)
	require.Len(t, rec.CompletedJobs, 1)

	_, err = f.sess.LogManualJob("UNKNOWN", 5)
	require.ErrorIs(t, err, track.ErrItemNotFound)
	_, err = f.sess.LogManualJob("B102823", 0)
	require.ErrorIs(t, err, track.ErrInvalidQuantity)
}

func TestTimedJobLogging(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)

	require.NoError(t, f.sess.StartJob("B102823"))
	f.clk.Advance(15 * time.Minute)
	job, err := f.sess.CompleteTimedJob(40)
	require.NoError(t, err)
	require.InDelta(t, 15, job.ActualMinutes, 1e-9)
	require.InDelta(t, 0.4, job.CompletionFraction, 1e-9)
	require.NotZero(t, job.ActualSecondsTaken)

	rec, _ := f.sess.Record("2026-08-25")
	require.Len(t, rec.CompletedJobs, 1)
}

func TestStartJobOutsideHoursRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)
	f.clk.Set(time.Date(2026, 8, 25, 18, 0, 0, 0, time.Local))
	err := f.sess.StartJob("B102823")
	require.ErrorIs(t, err, track.ErrOutsideWorkingWindow)
}

func TestLossEntries(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)

	entry, err := f.sess.LogLoss(track.LossCleaning, 20)
	require.NoError(t, err)
	require.Equal(t, 20, entry.Minutes)

	_, err = f.sess.LogLoss("Coffee Break", 10)
	require.ErrorIs(t, err, track.ErrUnknownLossReason)
	_, err = f.sess.LogLoss(track.LossOther, 0)
	require.ErrorIs(t, err, track.ErrInvalidQuantity)

	sum := f.sess.DailySummary("2026-08-25")
	require.Equal(t, float64(505), sum.AdjustedTarget)

	require.NoError(t, f.sess.DeleteLoss(entry.ID))
	rec, _ := f.sess.Record("2026-08-25")
	require.Empty(t, rec.LossTimeEntries)
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)

	a, err := f.sess.LogManualJob("B102823", 10)
	require.NoError(t, err)
	b, err := f.sess.LogManualJob("B105003", 6)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID, "ids stay distinct inside one millisecond")

	require.NoError(t, f.sess.DeleteJob(a.ID))
	rec, _ := f.sess.Record("2026-08-25")
	require.Len(t, rec.CompletedJobs, 1)
	require.Equal(t, b.ID, rec.CompletedJobs[0].ID)

	// Unknown id is a no-op.
	require.NoError(t, f.sess.DeleteJob(99999))
}

func TestFinishDay(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)
	ch, unsub := f.bus.Subscribe(8)
	defer unsub()

	_, err := f.sess.LogManualJob("B102823", 100)
	require.NoError(t, err)
	require.NoError(t, f.sess.StartJob("B105003"))

	require.NoError(t, f.sess.FinishDay(context.Background()))

	rec, _ := f.sess.Record("2026-08-25")
	require.True(t, rec.IsFinished)
	require.NotNil(t, rec.FinishedAt)
	require.Equal(t, track.Date("2026-08-26"), f.sess.CurrentDate())

	// Flush pushed the record out synchronously.
	f.client.mu.Lock()
	saved := f.client.records["2026-08-25"]
	f.client.mu.Unlock()
	require.NotNil(t, saved)
	require.True(t, saved.IsFinished)

	// Finishing discards any live measurement.
	require.ErrorIs(t, f.sess.PauseJob(), track.ErrIllegalTransition)

	var finished bool
	for !finished {
		select {
		case ev := <-ch:
			if ev.Type == eventbus.TypeDayFinished {
				finished = true
			}
		case <-time.After(time.Second):
			t.Fatal("day finished event not published")
		}
	}

	// The latch blocks further logging on that date via the normal path.
	require.NoError(t, f.sess.SetCurrentDate("2026-08-25"))
	_, err = f.sess.LogManualJob("B102823", 10)
	require.ErrorIs(t, err, track.ErrDayFinished)
}

func TestSetCurrentDatePolicy(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)

	require.NoError(t, f.sess.SetCurrentDate("2026-08-24")) // past working day
	require.ErrorIs(t, f.sess.SetCurrentDate("2026-08-29"), track.ErrOutsideWorkingWindow) // Saturday
	require.ErrorIs(t, f.sess.SetCurrentDate("2026-08-27"), track.ErrOutsideWorkingWindow) // beyond tomorrow

	admin := newFixture(t, track.RoleAdmin)
	require.NoError(t, admin.sess.SetCurrentDate("2026-08-29"))
}

func TestRolloverLeavesAdvancedDayAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)

	require.NoError(t, f.sess.FinishDay(context.Background()))
	require.Equal(t, track.Date("2026-08-26"), f.sess.CurrentDate())

	// Mid-week the periodic poll must not snap the session back to today.
	f.sess.CheckRollover()
	require.Equal(t, track.Date("2026-08-26"), f.sess.CurrentDate())

	// Early next-day access still works after the poll.
	_, err := f.sess.LogManualJob("B102823", 10)
	require.NoError(t, err)
}

func TestRolloverLeavesSelectedPastDateAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)

	require.NoError(t, f.sess.SetCurrentDate("2026-08-24"))
	f.sess.CheckRollover()
	require.Equal(t, track.Date("2026-08-24"), f.sess.CurrentDate())
}

func TestWeekRollover(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleAdmin)

	for _, d := range f.sess.WeekDates() {
		require.NoError(t, f.sess.SetCurrentDate(d))
		require.NoError(t, f.sess.FinishDay(context.Background()))
	}

	f.sess.CheckRollover()
	require.Equal(t, track.Date("2026-08-31"), f.sess.CurrentDate())
}

func TestWeekSummaryAggregates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, track.RoleWorker)

	_, err := f.sess.LogManualJob("B102823", 100)
	require.NoError(t, err)
	_, err = f.sess.LogLoss(track.LossMaintenance, 30)
	require.NoError(t, err)

	sum := f.sess.WeekSummary()
	require.Equal(t, 1, sum.DaysWithRecord)
	require.Equal(t, 1, sum.TotalJobs)
	require.InDelta(t, 33.3, sum.TotalCompletedMinutes, 1e-9)
	require.Equal(t, 30, sum.TotalLossMinutes)
}

func TestProfileLoadedOnInit(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local))
	client := &fakeClient{profile: track.Profile{Name: "A. Worker", Email: "worker@plant.example"}, hasProf: true}
	cat, err := catalog.Load("")
	require.NoError(t, err)
	window := workwindow.Default()
	coord := persist.NewCoordinator(clk, client, nil, time.Hour, logx.Nop())
	t.Cleanup(func() { _ = coord.Close(context.Background()) })

	sess := New(Deps{
		Clock:     clk,
		Catalog:   cat,
		Evaluator: workwindow.New(window, clk),
		Weeks:     week.New(window.Weekdays),
		Timer:     timer.New(clk, &memSnaps{}, nil, logx.Nop()),
		Persist:   coord,
		Client:    client,
		Log:       logx.Nop(),
	})
	_, err = sess.Init(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A. Worker", sess.Profile().Name)
}
