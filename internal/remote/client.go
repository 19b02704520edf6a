// Package remote abstracts the backend that daily records and profiles
// are synced to. The production deployment points it at the local store;
// the interface keeps the persistence coordinator ignorant of whether
// writes land on disk or over the wire.
package remote

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"prodtrack/internal/storage"
	"prodtrack/internal/track"
	logx "prodtrack/pkg/logx"
)

type Client interface {
	// SaveDailyRecord uploads one day's record. Must be safe to call
	// repeatedly with the same date (last write wins).
	SaveDailyRecord(ctx context.Context, rec *track.DailyRecord) error

	// LoadAllRecords fetches the full per-user history, keyed by date.
	LoadAllRecords(ctx context.Context) (map[track.Date]*track.DailyRecord, error)

	// LoadProfile fetches the operator's profile, if one exists.
	LoadProfile(ctx context.Context) (track.Profile, bool, error)

	SaveProfile(ctx context.Context, p track.Profile) error
}

// StoreBacked implements Client on top of the local storage driver. Saves
// go through a rate limiter so a misbehaving caller cannot hammer the
// backend; reads are not limited.
type StoreBacked struct {
	store  storage.Store
	userID string
	limit  *rate.Limiter
	log    logx.Logger
}

// NewStoreBacked builds a client for one user. minSaveGap spaces out
// record writes; zero disables limiting.
func NewStoreBacked(st storage.Store, userID string, minSaveGap time.Duration, log logx.Logger) *StoreBacked {
	limit := rate.NewLimiter(rate.Inf, 1)
	if minSaveGap > 0 {
		limit = rate.NewLimiter(rate.Every(minSaveGap), 1)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &StoreBacked{store: st, userID: userID, limit: limit, log: log}
}

func (c *StoreBacked) SaveDailyRecord(ctx context.Context, rec *track.DailyRecord) error {
	if err := c.limit.Wait(ctx); err != nil {
		return err
	}
	return c.store.PutDailyRecord(ctx, c.userID, rec)
}

func (c *StoreBacked) LoadAllRecords(ctx context.Context) (map[track.Date]*track.DailyRecord, error) {
	return c.store.ListDailyRecords(ctx, c.userID)
}

func (c *StoreBacked) LoadProfile(ctx context.Context) (track.Profile, bool, error) {
	return c.store.GetProfile(ctx, c.userID)
}

func (c *StoreBacked) SaveProfile(ctx context.Context, p track.Profile) error {
	if err := c.limit.Wait(ctx); err != nil {
		return err
	}
	return c.store.PutProfile(ctx, c.userID, p)
}
