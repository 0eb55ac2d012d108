package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindd/pkg/logx"
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

func (s *sqliteStore) PutEvent(ctx context.Context, rec EventRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	at, err := eventInstant(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(id, name, date, time, event_at, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, date=excluded.date, time=excluded.time,
		   event_at=excluded.event_at`,
		rec.ID, rec.Name, rec.Date, rec.Time, at.Unix(), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetEvent(ctx context.Context, id string) (EventRecord, error) {
	if s == nil || s.db == nil {
		return EventRecord{}, ErrDisabled
	}
	var rec EventRecord
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, date, time, created_at FROM events WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &rec.Date, &rec.Time, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, ErrNotFound
	}
	if err != nil {
		return EventRecord{}, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}

func (s *sqliteStore) ListEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, date, time, created_at FROM events ORDER BY event_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Date, &rec.Time, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE event_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// eventInstant derives the UTC instant of the event for range queries.
func eventInstant(rec EventRecord) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04", rec.Date+" "+rec.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("event %s has malformed instant: %w", rec.ID, err)
	}
	return t.UTC(), nil
}
