package track

import "time"

// DailySummary is the derived progress view for one day against the daily
// target. Loss time reduces the target rather than counting as work.
type DailySummary struct {
	TargetMinutes    float64 `json:"targetMinutes"`
	CompletedMinutes float64 `json:"completedMinutes"`
	LossMinutes      int     `json:"lossMinutes"`
	AdjustedTarget   float64 `json:"adjustedTarget"`
	RemainingMinutes float64 `json:"remainingMinutes"`
	// ProgressFraction is completed/adjusted, capped at 1. When loss time
	// consumes the whole target the day counts as complete.
	ProgressFraction float64 `json:"progressFraction"`
	JobCount         int     `json:"jobCount"`
}

// Summarize computes the daily progress view. rec may be nil (no work
// logged yet).
func Summarize(rec *DailyRecord, targetMinutes float64) DailySummary {
	s := DailySummary{TargetMinutes: targetMinutes}
	if rec != nil {
		s.CompletedMinutes = rec.CompletedMinutes()
		s.LossMinutes = rec.LossMinutes()
		s.JobCount = len(rec.CompletedJobs)
	}
	s.AdjustedTarget = targetMinutes - float64(s.LossMinutes)
	if s.AdjustedTarget > 0 {
		s.ProgressFraction = s.CompletedMinutes / s.AdjustedTarget
		if s.ProgressFraction > 1 {
			s.ProgressFraction = 1
		}
	} else {
		s.AdjustedTarget = 0
		s.ProgressFraction = 1
	}
	s.RemainingMinutes = s.AdjustedTarget - s.CompletedMinutes
	if s.RemainingMinutes < 0 {
		s.RemainingMinutes = 0
	}
	return s
}

// JobFromUnits builds a manually logged CompletedJob: actual minutes are
// attributed pro-rata from the item's expected minutes.
func JobFromUnits(item ProductionItem, units int, id int64, loggedAt time.Time) (CompletedJob, error) {
	if units <= 0 {
		return CompletedJob{}, ErrInvalidQuantity
	}
	frac := float64(units) / float64(item.Quantity)
	return CompletedJob{
		ItemCode:           item.ItemCode,
		LMCode:             item.LMCode,
		Quantity:           item.Quantity,
		ExpectedMinutes:    item.ExpectedMinutes,
		UnitsCompleted:     units,
		CompletionFraction: frac,
		ActualMinutes:      item.ExpectedMinutes * frac,
		LoggedAt:           loggedAt,
		ID:                 id,
	}, nil
}
