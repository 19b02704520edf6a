package track

import (
	"fmt"
	"time"
)

// Date is a calendar day in "2006-01-02" form. It is used as the map key
// for daily records, matching the document keys in the remote store.
type Date string

const dateLayout = "2006-01-02"

// DateOf truncates an instant to its local calendar date.
func DateOf(t time.Time) Date { return Date(t.Format(dateLayout)) }

// ParseDate validates a "2006-01-02" string.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// Time returns midnight (local) of the date.
func (d Date) Time() time.Time {
	t, err := time.ParseInLocation(dateLayout, string(d), time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) IsZero() bool { return d == "" }

func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

// AddDays shifts the date by n calendar days.
func (d Date) AddDays(n int) Date { return DateOf(d.Time().AddDate(0, 0, n)) }

// Before reports whether d sorts before other. Lexicographic comparison is
// correct for the fixed layout.
func (d Date) Before(other Date) bool { return string(d) < string(other) }

func (d Date) String() string { return string(d) }

// Role of the requesting user. Admin bypasses the working-window policy.
type Role string

const (
	RoleWorker Role = "worker"
	RoleAdmin  Role = "admin"
)

// ProductionItem is static reference data from the item catalog.
//
// ExpectedMinutes is the reference duration for completing the full target
// Quantity; it is serialized as "time" to stay compatible with the stored
// document format.
type ProductionItem struct {
	ItemCode        string  `json:"itemCode"`
	LMCode          string  `json:"lmCode"`
	Quantity        int     `json:"quantity"`
	ExpectedMinutes float64 `json:"time"`
}

// CompletedJob is one logged completion against a catalog item.
//
// CompletionFraction is always derived from UnitsCompleted/Quantity, never
// stored independently of that relation. ActualSecondsTaken is only set for
// stopwatch-measured jobs.
type CompletedJob struct {
	ItemCode           string    `json:"itemCode"`
	LMCode             string    `json:"lmCode"`
	Quantity           int       `json:"quantity"`
	ExpectedMinutes    float64   `json:"time"`
	UnitsCompleted     int       `json:"unitsCompleted"`
	CompletionFraction float64   `json:"completionPercentage"`
	ActualMinutes      float64   `json:"actualMinutes"`
	ActualSecondsTaken float64   `json:"actualTimeTaken,omitempty"`
	LoggedAt           time.Time `json:"timestamp"`
	ID                 int64     `json:"id"`
}

// LossReason is one of the fixed set of non-productive time causes.
type LossReason string

const (
	LossWaitingParts LossReason = "Waiting for Parts"
	LossWaitingJobs  LossReason = "Waiting Jobs"
	LossCleaning     LossReason = "Cleaning"
	LossMaintenance  LossReason = "Maintenance"
	LossMachineError LossReason = "Machine Error"
	LossNeedleChange LossReason = "Needle Change"
	LossFullTrack    LossReason = "Full Track"
	LossBackRack     LossReason = "Back Rack"
	LossOther        LossReason = "Other"
)

// LossReasons lists the accepted reasons in display order.
func LossReasons() []LossReason {
	return []LossReason{
		LossWaitingParts, LossWaitingJobs, LossCleaning, LossMaintenance,
		LossMachineError, LossNeedleChange, LossFullTrack, LossBackRack, LossOther,
	}
}

// ValidLossReason reports whether r is in the fixed set.
func ValidLossReason(r LossReason) bool {
	for _, v := range LossReasons() {
		if v == r {
			return true
		}
	}
	return false
}

type LossTimeEntry struct {
	Reason   LossReason `json:"reason"`
	Minutes  int        `json:"minutes"`
	LoggedAt time.Time  `json:"timestamp"`
	ID       int64      `json:"id"`
}

// DailyRecord is one worker-day of logged work. Created lazily on first
// mutation; IsFinished latches false→true through the normal logging path
// and is only reset by the external admin path.
type DailyRecord struct {
	Date            Date            `json:"date"`
	CompletedJobs   []CompletedJob  `json:"completedJobs"`
	LossTimeEntries []LossTimeEntry `json:"lossTimeEntries"`
	IsFinished      bool            `json:"isFinished"`
	FinishedAt      *time.Time      `json:"finishTime,omitempty"`
}

// NewDailyRecord returns an empty record for the date.
func NewDailyRecord(date Date) *DailyRecord {
	return &DailyRecord{
		Date:            date,
		CompletedJobs:   []CompletedJob{},
		LossTimeEntries: []LossTimeEntry{},
	}
}

// Clone deep-copies the record so callers can hand it to background writers
// without racing subsequent mutations.
func (r *DailyRecord) Clone() *DailyRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.CompletedJobs = append([]CompletedJob(nil), r.CompletedJobs...)
	cp.LossTimeEntries = append([]LossTimeEntry(nil), r.LossTimeEntries...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// CompletedMinutes sums actual minutes over all jobs.
func (r *DailyRecord) CompletedMinutes() float64 {
	if r == nil {
		return 0
	}
	var sum float64
	for _, j := range r.CompletedJobs {
		sum += j.ActualMinutes
	}
	return sum
}

// LossMinutes sums logged loss time.
func (r *DailyRecord) LossMinutes() int {
	if r == nil {
		return 0
	}
	var sum int
	for _, e := range r.LossTimeEntries {
		sum += e.Minutes
	}
	return sum
}

// WeekSummary aggregates a set of daily records. Derived, never persisted.
//
// DaysWithRecord counts dates that have any record at all, finished or not.
// That intentionally differs from the "week complete" check (which requires
// IsFinished on every working date); the source system kept the two apart.
type WeekSummary struct {
	TotalCompletedMinutes float64 `json:"totalCompletedMinutes"`
	TotalLossMinutes      int     `json:"totalLossMinutes"`
	TotalJobs             int     `json:"totalJobs"`
	DaysWithRecord        int     `json:"daysWithRecord"`
}

// TimerSnapshot is the durable image of the job stopwatch. Exactly one
// snapshot is live per worker session; it is overwritten on every state
// transition and cleared on completion or discard.
//
// SavedAtMillis records when the snapshot was written so recovery can add
// the wall-clock gap spent suspended to the elapsed time.
type TimerSnapshot struct {
	IsActive            bool    `json:"isActive"`
	IsPaused            bool    `json:"isPaused"`
	StartEpochMillis    int64   `json:"startEpochMillis"`
	PausedElapsedMillis int64   `json:"pausedElapsedMillis"`
	ElapsedMillis       int64   `json:"elapsedMillis"`
	ExpectedMinutes     float64 `json:"expectedMinutes"`
	ItemCode            string  `json:"itemCode"`
	LMCode              string  `json:"lmCode"`
	SavedAtMillis       int64   `json:"savedAtMillis"`
}

// Profile is the worker profile held by the remote store.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
