package storage

import (
	"context"
	"errors"
	"time"

	"prodtrack/internal/track"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (JSON documents, atomic rename)
//   - "sqlite": SQLite database file (WAL mode)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable local persistence API.
//
// It holds two kinds of documents, each owned by exactly one component:
//   - the timer snapshot (owned by the job timer), and
//   - daily records plus the worker profile (owned by the persistence
//     coordinator via the remote-store contract).
type Store interface {
	PutTimerSnapshot(ctx context.Context, userID string, snap track.TimerSnapshot) error
	GetTimerSnapshot(ctx context.Context, userID string) (track.TimerSnapshot, bool, error)
	ClearTimerSnapshot(ctx context.Context, userID string) error

	PutDailyRecord(ctx context.Context, userID string, rec *track.DailyRecord) error
	GetDailyRecord(ctx context.Context, userID string, date track.Date) (*track.DailyRecord, bool, error)
	ListDailyRecords(ctx context.Context, userID string) (map[track.Date]*track.DailyRecord, error)

	PutProfile(ctx context.Context, userID string, p track.Profile) error
	GetProfile(ctx context.Context, userID string) (track.Profile, bool, error)

	Close() error
}
