package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Schema for the journal tables. Applied by OpenSQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, key)
);
CREATE TABLE IF NOT EXISTS entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	payload TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind, seq);
`

const upsertRecord = `
INSERT INTO records (kind, key, payload, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(kind, key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`

type sqliteConfig struct {
	busyTimeout int
	synchronous string
}

// Option customises OpenSQLite.
type Option func(*sqliteConfig)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *sqliteConfig) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *sqliteConfig) { c.synchronous = mode } }

// SQLite is a Journal backed by a single SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
	once sync.Once
}

// OpenSQLite opens (creating if needed) the journal database at path with
// WAL journaling and applies Schema. Use ":memory:" for a throwaway journal.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	cfg := sqliteConfig{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Put(ctx context.Context, kind Kind, key string, v interface{}) error {
	payload, err := encode(v)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertRecord, string(kind), key, string(payload), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("journal: put %s/%s: %w", kind, key, err)
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, kind Kind, key string, v interface{}) error {
	payload, err := encode(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (kind, key, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		string(kind), key, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: append %s/%s: %w", kind, key, err)
	}
	return nil
}

// Load walks records by rowid; upserts keep the original rowid so this is
// first-insertion order.
func (s *SQLite) Load(ctx context.Context, kind Kind, fn func(key string, payload []byte) error) error {
	return s.scan(ctx, `SELECT key, payload FROM records WHERE kind = ? ORDER BY rowid`, kind, fn)
}

func (s *SQLite) Replay(ctx context.Context, kind Kind, fn func(key string, payload []byte) error) error {
	return s.scan(ctx, `SELECT key, payload FROM entries WHERE kind = ? ORDER BY seq`, kind, fn)
}

func (s *SQLite) scan(ctx context.Context, query string, kind Kind, fn func(string, []byte) error) error {
	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return fmt.Errorf("journal: query %s: %w", kind, err)
	}
	defer rows.Close()

	// Buffer rows before invoking fn so callbacks never hold the single connection.
	type row struct {
		key     string
		payload string
	}
	var buf []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.payload); err != nil {
			return fmt.Errorf("journal: scan %s: %w", kind, err)
		}
		buf = append(buf, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("journal: rows %s: %w", kind, err)
	}
	rows.Close()

	for _, r := range buf {
		if err := fn(r.key, []byte(r.payload)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database. Safe to call multiple times.
func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}
