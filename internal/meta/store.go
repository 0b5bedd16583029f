package meta

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Run states.
const (
	RunRunning   = "RUNNING"
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"
)

// Archived entry categories.
const (
	CategoryBackup = "backup"
	CategoryObject = "object"
)

var ErrRunNotFound = errors.New("meta: run not found")

// Store wraps the SQLite run ledger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger database at the given path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("meta: db path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection; one connection keeps them in force and
	// serializes writers from parallel sweeps.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.applyPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Checkpoint copies the WAL into the main database file and truncates it,
// so a finished run survives without its -wal sidecar.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *Store) applyPragmas(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return err
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return err
	}

	var version int
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}
	if version < 1 {
		if err = applyV1(ctx, tx); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(1, ?)", now()); err != nil {
			return err
		}
	}
	if version < 2 {
		if err = applyV2(ctx, tx); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(2, ?)", now()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func applyV1(ctx context.Context, tx *sql.Tx) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			dry_run INTEGER NOT NULL DEFAULT 0,
			ttl TEXT,
			cutoff TEXT,
			checked INTEGER NOT NULL DEFAULT 0,
			mismatches INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			archived_backups INTEGER NOT NULL DEFAULT 0,
			archived_objects INTEGER NOT NULL DEFAULT 0,
			reclaimed_bytes INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS runs_started_idx ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS archived_entries (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			category TEXT NOT NULL,
			name TEXT NOT NULL,
			size INTEGER NOT NULL,
			fingerprint TEXT,
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			archived_at TEXT NOT NULL,
			PRIMARY KEY(run_id, category, name)
		)`,
		`CREATE TABLE IF NOT EXISTS mismatches (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			name TEXT NOT NULL,
			expected TEXT NOT NULL,
			actual TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			PRIMARY KEY(run_id, name)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func applyV2(ctx context.Context, tx *sql.Tx) error {
	ddl := []string{
		`ALTER TABLE runs ADD COLUMN error TEXT`,
		`CREATE INDEX IF NOT EXISTS archived_entries_name_idx ON archived_entries(name)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
