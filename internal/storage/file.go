package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"prodtrack/internal/track"
	logx "prodtrack/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Layout under the configured directory:
//   - timer_<user>.json    (current stopwatch snapshot)
//   - records_<user>.json  (map of date -> daily record)
//   - profile_<user>.json
//
// Every write goes through a tmp file + rename so a crash mid-write never
// leaves a torn document.
type fileStore struct {
	log logx.Logger

	mu  sync.Mutex
	dir string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) path(kind, userID string) string {
	return filepath.Join(s.dir, kind+"_"+sanitize(userID)+".json")
}

// sanitize keeps user IDs filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func (s *fileStore) writeDoc(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) readDoc(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func (s *fileStore) PutTimerSnapshot(ctx context.Context, userID string, snap track.TimerSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeDoc(s.path("timer", userID), snap)
}

func (s *fileStore) GetTimerSnapshot(ctx context.Context, userID string) (track.TimerSnapshot, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap track.TimerSnapshot
	ok, err := s.readDoc(s.path("timer", userID), &snap)
	return snap, ok, err
}

func (s *fileStore) ClearTimerSnapshot(ctx context.Context, userID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path("timer", userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *fileStore) PutDailyRecord(ctx context.Context, userID string, rec *track.DailyRecord) error {
	_ = ctx
	if rec == nil || rec.Date.IsZero() {
		return errors.New("daily record needs a date")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path("records", userID)
	records := map[track.Date]*track.DailyRecord{}
	if _, err := s.readDoc(path, &records); err != nil {
		// Unreadable history should not block new writes; start fresh and
		// keep the broken file aside for inspection.
		s.log.Warn("records file unreadable; resetting", logx.String("path", path), logx.Err(err))
		_ = os.Rename(path, path+".broken")
		records = map[track.Date]*track.DailyRecord{}
	}
	records[rec.Date] = rec.Clone()
	return s.writeDoc(path, records)
}

func (s *fileStore) GetDailyRecord(ctx context.Context, userID string, date track.Date) (*track.DailyRecord, bool, error) {
	all, err := s.ListDailyRecords(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	rec, ok := all[date]
	return rec, ok, nil
}

func (s *fileStore) ListDailyRecords(ctx context.Context, userID string) (map[track.Date]*track.DailyRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	records := map[track.Date]*track.DailyRecord{}
	if _, err := s.readDoc(s.path("records", userID), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *fileStore) PutProfile(ctx context.Context, userID string, p track.Profile) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeDoc(s.path("profile", userID), p)
}

func (s *fileStore) GetProfile(ctx context.Context, userID string) (track.Profile, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var p track.Profile
	ok, err := s.readDoc(s.path("profile", userID), &p)
	return p, ok, err
}
