package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"prodtrack/internal/track"
	logx "prodtrack/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) putDoc(ctx context.Context, table, userID string, extraCol, extraVal string, v any) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now().Format(time.RFC3339Nano)
	if extraCol == "" {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO `+table+`(user_id, doc, updated_at) VALUES(?,?,?)
			 ON CONFLICT(user_id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
			userID, string(doc), now)
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+`(user_id, `+extraCol+`, doc, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, `+extraCol+`) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		userID, extraVal, string(doc), now)
	return err
}

func (s *sqliteStore) PutTimerSnapshot(ctx context.Context, userID string, snap track.TimerSnapshot) error {
	return s.putDoc(ctx, "timer_snapshot", userID, "", "", snap)
}

func (s *sqliteStore) GetTimerSnapshot(ctx context.Context, userID string) (track.TimerSnapshot, bool, error) {
	var snap track.TimerSnapshot
	if s == nil || s.db == nil {
		return snap, false, ErrDisabled
	}
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM timer_snapshot WHERE user_id = ?`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return snap, false, err
	}
	return snap, true, nil
}

func (s *sqliteStore) ClearTimerSnapshot(ctx context.Context, userID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM timer_snapshot WHERE user_id = ?`, userID)
	return err
}

func (s *sqliteStore) PutDailyRecord(ctx context.Context, userID string, rec *track.DailyRecord) error {
	if rec == nil || rec.Date.IsZero() {
		return errors.New("daily record needs a date")
	}
	return s.putDoc(ctx, "daily_record", userID, "date", rec.Date.String(), rec)
}

func (s *sqliteStore) GetDailyRecord(ctx context.Context, userID string, date track.Date) (*track.DailyRecord, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM daily_record WHERE user_id = ? AND date = ?`, userID, date.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec track.DailyRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *sqliteStore) ListDailyRecords(ctx context.Context, userID string) (map[track.Date]*track.DailyRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM daily_record WHERE user_id = ? ORDER BY date`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[track.Date]*track.DailyRecord{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec track.DailyRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			s.log.Warn("skipping undecodable daily record", logx.Err(err))
			continue
		}
		out[rec.Date] = &rec
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutProfile(ctx context.Context, userID string, p track.Profile) error {
	return s.putDoc(ctx, "profile", userID, "", "", p)
}

func (s *sqliteStore) GetProfile(ctx context.Context, userID string) (track.Profile, bool, error) {
	var p track.Profile
	if s == nil || s.db == nil {
		return p, false, ErrDisabled
	}
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM profile WHERE user_id = ?`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return p, false, err
	}
	return p, true, nil
}
