package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	t.Run("empty day", func(t *testing.T) {
		s := Summarize(nil, 525)
		require.Equal(t, float64(525), s.AdjustedTarget)
		require.Equal(t, float64(0), s.ProgressFraction)
		require.Equal(t, float64(525), s.RemainingMinutes)
	})

	t.Run("loss time reduces target", func(t *testing.T) {
		rec := NewDailyRecord("2026-08-24")
		rec.CompletedJobs = append(rec.CompletedJobs, CompletedJob{ActualMinutes: 200})
		rec.LossTimeEntries = append(rec.LossTimeEntries, LossTimeEntry{Reason: LossCleaning, Minutes: 25})
		s := Summarize(rec, 525)
		require.Equal(t, float64(500), s.AdjustedTarget)
		require.InDelta(t, 0.4, s.ProgressFraction, 1e-9)
		require.Equal(t, float64(300), s.RemainingMinutes)
	})

	t.Run("progress caps at one", func(t *testing.T) {
		rec := NewDailyRecord("2026-08-24")
		rec.CompletedJobs = append(rec.CompletedJobs, CompletedJob{ActualMinutes: 600})
		s := Summarize(rec, 525)
		require.Equal(t, float64(1), s.ProgressFraction)
		require.Equal(t, float64(0), s.RemainingMinutes)
	})

	t.Run("loss consuming the whole target completes the day", func(t *testing.T) {
		rec := NewDailyRecord("2026-08-24")
		rec.LossTimeEntries = append(rec.LossTimeEntries, LossTimeEntry{Reason: LossMachineError, Minutes: 600})
		s := Summarize(rec, 525)
		require.Equal(t, float64(0), s.AdjustedTarget)
		require.Equal(t, float64(1), s.ProgressFraction)
	})
}

func TestJobFromUnits(t *testing.T) {
	t.Parallel()
	item := ProductionItem{ItemCode: "B102823", LMCode: "AHOOK-TI", Quantity: 100, ExpectedMinutes: 33.3}
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.Local)

	job, err := JobFromUnits(item, 50, 42, at)
	require.NoError(t, err)
	require.InDelta(t, 0.5, job.CompletionFraction, 1e-9)
	require.InDelta(t, 16.65, job.ActualMinutes, 1e-9)
	require.Zero(t, job.ActualSecondsTaken)
	require.Equal(t, int64(42), job.ID)
	require.Equal(t, at, job.LoggedAt)

	// Fraction round-trips back to the unit count.
	require.Equal(t, 50, int(job.CompletionFraction*float64(item.Quantity)+0.5))

	_, err = JobFromUnits(item, 0, 1, at)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = JobFromUnits(item, -3, 1, at)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestDailyRecordClone(t *testing.T) {
	t.Parallel()
	rec := NewDailyRecord("2026-08-24")
	rec.CompletedJobs = append(rec.CompletedJobs, CompletedJob{ID: 1, ActualMinutes: 10})
	cp := rec.Clone()
	cp.CompletedJobs[0].ActualMinutes = 99
	cp.CompletedJobs = append(cp.CompletedJobs, CompletedJob{ID: 2})
	require.Equal(t, float64(10), rec.CompletedJobs[0].ActualMinutes)
	require.Len(t, rec.CompletedJobs, 1)
}

func TestDateOps(t *testing.T) {
	t.Parallel()
	d, err := ParseDate("2026-08-24")
	require.NoError(t, err)
	require.Equal(t, time.Monday, d.Weekday())
	require.Equal(t, Date("2026-08-27"), d.AddDays(3))
	require.True(t, d.Before("2026-08-25"))

	_, err = ParseDate("24/08/2026")
	require.Error(t, err)
}

func TestLossReasonValidation(t *testing.T) {
	t.Parallel()
	for _, r := range LossReasons() {
		require.True(t, ValidLossReason(r), r)
	}
	require.False(t, ValidLossReason("Coffee Break"))
}
