// Package store persists finished outline and ranking results keyed by the
// content hash of their inputs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	kind         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (kind, content_hash)
);
CREATE INDEX IF NOT EXISTS results_created_at ON results(created_at);
`

// Store is a SQLite-backed result cache.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache at path. An empty path uses a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	memory := path == ""
	if memory {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if memory {
		// Every connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached payload for (kind, hash). ok is false on a miss.
func (s *Store) Get(ctx context.Context, kind, hash string) (payload []byte, ok bool, err error) {
	var text string
	err = s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM results WHERE kind = ? AND content_hash = ?`,
		kind, hash,
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s/%s: %w", kind, hash, err)
	}
	return []byte(text), true, nil
}

// Put stores payload, replacing any earlier entry for the same key.
func (s *Store) Put(ctx context.Context, kind, hash string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (kind, content_hash, payload_json, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(kind, content_hash) DO UPDATE SET payload_json = excluded.payload_json, created_at = excluded.created_at`,
		kind, hash, string(payload), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache put %s/%s: %w", kind, hash, err)
	}
	return nil
}

// Purge deletes entries older than maxAge and reports how many were removed.
func (s *Store) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of cached entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}
