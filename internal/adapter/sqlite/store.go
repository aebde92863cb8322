// Package sqlite is the shared on-disk store the keepalive processes use to
// talk to each other without shared memory: heartbeat records, stand-down
// markers and account-sync timestamps.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keepalive/internal/heartbeat"
	"keepalive/internal/process"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set store db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set store db busy timeout: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS heartbeats (
	role TEXT PRIMARY KEY,
	pid INTEGER NOT NULL,
	ts INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS stand_down (
	role TEXT PRIMARY KEY,
	requested_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
	name TEXT PRIMARY KEY,
	last_sync TEXT NOT NULL
)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize store schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PublishHeartbeat records rec for role. A record older than the stored one
// is ignored, so timestamps never move backwards.
func (s *Store) PublishHeartbeat(ctx context.Context, role process.Role, rec heartbeat.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeats (role, pid, ts, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(role) DO UPDATE SET
		 pid = excluded.pid,
		 ts = excluded.ts,
		 updated_at = excluded.updated_at
		 WHERE excluded.ts >= heartbeats.ts`,
		string(role),
		rec.ProcessID,
		rec.Timestamp,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("publish heartbeat for %s: %w", role, err)
	}
	return nil
}

func (s *Store) Heartbeat(ctx context.Context, role process.Role) (heartbeat.Record, bool, error) {
	var rec heartbeat.Record
	err := s.db.QueryRowContext(ctx, `SELECT pid, ts FROM heartbeats WHERE role = ?`, string(role)).
		Scan(&rec.ProcessID, &rec.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return heartbeat.Record{}, false, nil
		}
		return heartbeat.Record{}, false, fmt.Errorf("query heartbeat for %s: %w", role, err)
	}
	return rec, true, nil
}

// SetStandDown asks role to stay down: its watchdog skips the final
// resurrection on exit.
func (s *Store) SetStandDown(ctx context.Context, role process.Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stand_down (role, requested_at) VALUES (?, ?)
		 ON CONFLICT(role) DO UPDATE SET requested_at = excluded.requested_at`,
		string(role),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set stand-down for %s: %w", role, err)
	}
	return nil
}

func (s *Store) ClearStandDown(ctx context.Context, role process.Role) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stand_down WHERE role = ?`, string(role)); err != nil {
		return fmt.Errorf("clear stand-down for %s: %w", role, err)
	}
	return nil
}

func (s *Store) StandDown(ctx context.Context, role process.Role) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stand_down WHERE role = ?`, string(role)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query stand-down for %s: %w", role, err)
	}
	return n > 0, nil
}

func (s *Store) LastSync(ctx context.Context, name string) (time.Time, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Time{}, false, fmt.Errorf("sync name is required")
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_sync FROM sync_state WHERE name = ?`, name).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("query last sync %q: %w", name, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last sync %q: %w", name, err)
	}
	return t, true, nil
}

func (s *Store) SetLastSync(ctx context.Context, name string, at time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("sync name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (name, last_sync) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_sync = excluded.last_sync`,
		name,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save last sync %q: %w", name, err)
	}
	return nil
}
