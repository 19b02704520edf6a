package app

import (
	"context"
	"strings"

	"prodtrack/internal/config"
	"prodtrack/internal/storage"
	"prodtrack/internal/track"
)

// mapStorageConfig resolves the storage section. Persistence is mandatory
// for this service (the stopwatch snapshot must survive restarts), so an
// omitted section falls back to the file driver in ./prodtrack_data.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := storage.Config{Driver: "file", Path: "./prodtrack_data"}
	if cfg.Storage == nil {
		return sc, nil
	}
	if d := strings.TrimSpace(cfg.Storage.Driver); d != "" {
		sc.Driver = d
	}
	if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
		sc.Path = p
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc.BusyTimeout = busy
	return sc, nil
}

// snapshotStore narrows the multi-user store to the session user's timer
// snapshot, satisfying the timer's storage surface.
type snapshotStore struct {
	store  storage.Store
	userID string
}

func (s snapshotStore) Put(ctx context.Context, snap track.TimerSnapshot) error {
	return s.store.PutTimerSnapshot(ctx, s.userID, snap)
}

func (s snapshotStore) Get(ctx context.Context) (track.TimerSnapshot, bool, error) {
	return s.store.GetTimerSnapshot(ctx, s.userID)
}

func (s snapshotStore) Clear(ctx context.Context) error {
	return s.store.ClearTimerSnapshot(ctx, s.userID)
}
