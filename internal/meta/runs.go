package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Run is one ledger row per command invocation.
type Run struct {
	ID              string `json:"run_id"`
	Kind            string `json:"kind"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at,omitempty"`
	Status          string `json:"status"`
	DryRun          bool   `json:"dry_run,omitempty"`
	TTL             string `json:"ttl,omitempty"`
	Cutoff          string `json:"cutoff,omitempty"`
	Checked         int64  `json:"checked"`
	Mismatches      int64  `json:"mismatches"`
	Errors          int64  `json:"errors"`
	ArchivedBackups int64  `json:"archived_backups"`
	ArchivedObjects int64  `json:"archived_objects"`
	ReclaimedBytes  int64  `json:"reclaimed_bytes"`
	Error           string `json:"error,omitempty"`
}

// ArchivedEntry records one file moved (or, in a dry run, not recorded).
type ArchivedEntry struct {
	RunID       string `json:"run_id"`
	Category    string `json:"category"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Src         string `json:"src"`
	Dst         string `json:"dst"`
	ArchivedAt  string `json:"archived_at"`
}

// Mismatch records one object whose content no longer matches its name.
type Mismatch struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	Expected   string `json:"expected"`
	Actual     string `json:"actual"`
	DetectedAt string `json:"detected_at"`
}

// BeginRun inserts a RUNNING row.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" || run.Kind == "" {
		return errors.New("meta: run id and kind required")
	}
	if run.StartedAt == "" {
		run.StartedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(run_id, kind, started_at, status, dry_run, ttl, cutoff)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.StartedAt, RunRunning, run.DryRun, nullString(run.TTL), nullString(run.Cutoff))
	return err
}

// FinishRun stores the final status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if run.FinishedAt == "" {
		run.FinishedAt = now()
	}
	if run.Status == "" {
		run.Status = RunCompleted
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET
	finished_at=?,
	status=?,
	checked=?,
	mismatches=?,
	errors=?,
	archived_backups=?,
	archived_objects=?,
	reclaimed_bytes=?,
	error=?
WHERE run_id=?`,
		run.FinishedAt, run.Status, run.Checked, run.Mismatches, run.Errors,
		run.ArchivedBackups, run.ArchivedObjects, run.ReclaimedBytes, nullString(run.Error), run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// RecordArchived stores one archived entry.
func (s *Store) RecordArchived(ctx context.Context, e ArchivedEntry) error {
	if e.ArchivedAt == "" {
		e.ArchivedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO archived_entries(run_id, category, name, size, fingerprint, src, dst, archived_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Category, e.Name, e.Size, nullString(e.Fingerprint), e.Src, e.Dst, e.ArchivedAt)
	return err
}

// RecordMismatch stores one verification mismatch.
func (s *Store) RecordMismatch(ctx context.Context, m Mismatch) error {
	if m.DetectedAt == "" {
		m.DetectedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO mismatches(run_id, name, expected, actual, detected_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(run_id, name) DO NOTHING`,
		m.RunID, m.Name, m.Expected, m.Actual, m.DetectedAt)
	return err
}

const runColumns = `run_id, kind, started_at, COALESCE(finished_at, ''), status, dry_run,
	COALESCE(ttl, ''), COALESCE(cutoff, ''), checked, mismatches, errors,
	archived_backups, archived_objects, reclaimed_bytes, COALESCE(error, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.Kind, &run.StartedAt, &run.FinishedAt, &run.Status, &run.DryRun,
		&run.TTL, &run.Cutoff, &run.Checked, &run.Mismatches, &run.Errors,
		&run.ArchivedBackups, &run.ArchivedObjects, &run.ReclaimedBytes, &run.Error)
	return run, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListArchived returns a run's archived entries ordered by category and name.
func (s *Store) ListArchived(ctx context.Context, runID string) ([]ArchivedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, category, name, size, COALESCE(fingerprint, ''), src, dst, archived_at
FROM archived_entries
WHERE run_id=?
ORDER BY category, name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ArchivedEntry
	for rows.Next() {
		var e ArchivedEntry
		if err := rows.Scan(&e.RunID, &e.Category, &e.Name, &e.Size, &e.Fingerprint, &e.Src, &e.Dst, &e.ArchivedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMismatches returns a run's mismatches ordered by name.
func (s *Store) ListMismatches(ctx context.Context, runID string) ([]Mismatch, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, name, expected, actual, detected_at
FROM mismatches
WHERE run_id=?
ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mismatch
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.RunID, &m.Name, &m.Expected, &m.Actual, &m.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
