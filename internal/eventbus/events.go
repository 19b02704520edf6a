package eventbus

import "time"

// Well-known event types published on the bus.
const (
	// TypeOverrun fires once per timer run-cycle when elapsed time passes
	// expected + grace. Payload: Overrun.
	TypeOverrun = "timer.overrun"

	// TypeTimerTick republishes the running stopwatch's elapsed time at
	// tick granularity. UI refresh only; never used for correctness.
	// Payload: TimerTick.
	TypeTimerTick = "timer.tick"

	// TypeSaveState reports persistence coordinator transitions
	// (save started / succeeded / failed). Payload: SaveState.
	TypeSaveState = "persist.save_state"

	// TypeDayFinished fires when a work day is latched finished.
	// Payload: DayFinished.
	TypeDayFinished = "day.finished"
)

// Overrun is the notification payload handed to the presentation layer.
// It is advisory: the job is not committed until the operator confirms.
type Overrun struct {
	ItemCode        string  `json:"itemCode"`
	LMCode          string  `json:"lmCode"`
	ExpectedMinutes float64 `json:"expectedMinutes"`
	ElapsedMillis   int64   `json:"elapsedMillis"`
}

type TimerTick struct {
	ItemCode      string `json:"itemCode"`
	ElapsedMillis int64  `json:"elapsedMillis"`
}

type SaveState struct {
	Date        string    `json:"date"`
	Saving      bool      `json:"saving"`
	Error       string    `json:"error,omitempty"`
	LastSavedAt time.Time `json:"lastSavedAt,omitempty"`
}

type DayFinished struct {
	Date       string    `json:"date"`
	FinishedAt time.Time `json:"finishedAt"`
}
