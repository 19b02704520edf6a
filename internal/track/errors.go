package track

import (
	"errors"
	"fmt"
)

// Validation and state errors surfaced to callers. These are rejected
// locally before any timer or record mutation.
var (
	// ErrInvalidQuantity: non-positive unit count or loss minutes.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")

	// ErrItemNotFound: item code not present in the reference catalog.
	ErrItemNotFound = errors.New("item code not found in catalog")

	// ErrUnknownLossReason: loss reason outside the fixed set.
	ErrUnknownLossReason = errors.New("unknown loss reason")

	// ErrIllegalTransition: a timer operation invoked in the wrong state.
	// Programming error; surfaced rather than silently ignored.
	ErrIllegalTransition = errors.New("illegal timer transition")

	// ErrDayFinished: a finished day's record was mutated through the
	// normal logging path. Only the external admin path may do that.
	ErrDayFinished = errors.New("work day already finished")

	// ErrOutsideWorkingWindow: the requested date is not accessible to the
	// caller's role at the current time.
	ErrOutsideWorkingWindow = errors.New("date not accessible outside working window")
)

// PersistenceError wraps a failed remote save/load. Non-fatal: the
// in-memory record stays authoritative and the next mutation retries.
type PersistenceError struct {
	Op   string
	Date Date
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Date != "" {
		return fmt.Sprintf("persistence %s for %s: %v", e.Op, e.Date, e.Err)
	}
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
