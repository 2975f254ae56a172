// Package dedup implements the content-hash dedup store of spec §4.5: a
// sliding-window set keyed by content_hash, value = first_seen_at.
//
// Design Note §9 is explicit that no database is required ("a content-
// addressed blob per hash ... suffices"); we nonetheless ground this on a
// real embedded store rather than hand-rolled file scanning, following the
// teacher's apps/ReleaseParty/backend/internal/store pattern (a single pure-
// Go modernc.org/sqlite file, WAL mode, one connection) — cheaper to query
// and evict by age than walking a directory of one-file-per-hash blobs.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"contentpipe/internal/errs"
)

// Store is the dedup content-hash set.
type Store struct {
	db     *sql.DB
	window time.Duration
	now    func() time.Time
}

// Open opens (creating if needed) the sqlite-backed dedup store at path,
// retaining entries for window before they become eligible for eviction.
func Open(path string, window time.Duration) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("dedup: db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, window: window, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS content_hashes (
			hash TEXT PRIMARY KEY,
			first_seen_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dedup: migrate: %w", err)
		}
	}
	return nil
}

// Seen reports whether hash is present and still inside the sliding window
// (spec invariant 3: "rejects any topic whose content hash is already
// present and unexpired"). A store error fails open: callers proceed as if
// unseen, per spec §7 ("dedup store unreachable → fail-open, warn").
func (s *Store) Seen(ctx context.Context, hash string) (bool, error) {
	s.evictLocked(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT first_seen_at FROM content_hashes WHERE hash = ?`, hash)
	var firstSeenRaw string
	err := row.Scan(&firstSeenRaw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.New("dedup.Seen", errs.Transient, err)
	}
	firstSeen, parseErr := time.Parse(time.RFC3339Nano, firstSeenRaw)
	if parseErr != nil {
		return false, nil
	}
	return s.now().Sub(firstSeen) < s.window, nil
}

// Insert marks hash as seen now. Called after the message referencing it
// has been durably enqueued (spec §4.1 step 6).
func (s *Store) Insert(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_hashes (hash, first_seen_at) VALUES (?, ?)
		ON CONFLICT(hash) DO UPDATE SET first_seen_at = excluded.first_seen_at
	`, hash, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errs.New("dedup.Insert", errs.Transient, err)
	}
	return nil
}

// evictLocked drops entries older than the sliding window. Lazy eviction
// (run on every Seen call) avoids needing a background goroutine per spec
// §4.5 ("a background pass (or lazy check)").
func (s *Store) evictLocked(ctx context.Context) {
	cutoff := s.now().Add(-s.window).UTC().Format(time.RFC3339Nano)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM content_hashes WHERE first_seen_at < ?`, cutoff)
}
