// Package history keeps a durable log of reset attempts so operators can
// answer "when was this board last reset, and did it work" without scraping
// terminal output.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run is one recorded reset attempt against one device.
type Run struct {
	RunID      string
	Hostname   string
	DeviceKey  string
	Family     string
	Outcome    string
	Detail     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store is a sqlite-backed run log.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS reset_runs (
	run_id      TEXT PRIMARY KEY,
	host_name   TEXT NOT NULL,
	device_key  TEXT NOT NULL,
	family      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	exit_code   INTEGER NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reset_runs_device ON reset_runs(device_key, finished_at DESC);
`

// DefaultPath returns the per-user location of the history database.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reset_history.db"
	}
	return filepath.Join(home, ".config", "tenstorrent", "reset_history.db")
}

// Open creates or opens the run log at path, making parent directories as
// needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one run. A missing RunID is assigned.
func (s *Store) Record(ctx context.Context, run Run) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reset_runs(run_id, host_name, device_key, family, outcome, detail, exit_code, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.RunID, run.Hostname, run.DeviceKey, run.Family, run.Outcome, run.Detail, run.ExitCode,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, host_name, device_key, family, outcome, detail, exit_code, started_at, finished_at
FROM reset_runs ORDER BY finished_at DESC, run_id LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.RunID, &r.Hostname, &r.DeviceKey, &r.Family, &r.Outcome,
			&r.Detail, &r.ExitCode, &started, &finished); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSuccess returns the most recent successful run for a device, or nil.
func (s *Store) LastSuccess(ctx context.Context, deviceKey string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, host_name, device_key, family, outcome, detail, exit_code, started_at, finished_at
FROM reset_runs WHERE device_key = ? AND outcome = 'success'
ORDER BY finished_at DESC LIMIT 1
`, deviceKey)

	var r Run
	var started, finished int64
	err := row.Scan(&r.RunID, &r.Hostname, &r.DeviceKey, &r.Family, &r.Outcome,
		&r.Detail, &r.ExitCode, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: scan last success: %w", err)
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	return &r, nil
}
