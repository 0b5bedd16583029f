package ops

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kk-code-lab/kbkeeper/internal/meta"
)

const errorSampleSize = 5

// Report summarizes an ops run.
type Report struct {
	RunID               string    `json:"run_id,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	Mode                string    `json:"mode"`
	DryRun              bool      `json:"dry_run,omitempty"`
	Manifests           int       `json:"manifests,omitempty"`
	SkippedManifests    int       `json:"skipped_manifests,omitempty"`
	Checked             int       `json:"checked"`
	OK                  int       `json:"ok"`
	Mismatches          int       `json:"mismatches"`
	Unsupported         int       `json:"unsupported,omitempty"`
	Errors              int       `json:"errors"`
	ErrorSample         []string  `json:"error_sample,omitempty"`
	Bytes               int64     `json:"bytes,omitempty"`
	TTL                 string    `json:"ttl,omitempty"`
	Cutoff              string    `json:"cutoff,omitempty"`
	Backups             int       `json:"backups,omitempty"`
	Objects             int       `json:"objects,omitempty"`
	ActiveBackups       int       `json:"active_backups,omitempty"`
	ActiveObjects       int       `json:"active_objects,omitempty"`
	UnrecognizedBackups int       `json:"unrecognized_backups,omitempty"`
	ArchivedBackups     int       `json:"archived_backups,omitempty"`
	ArchivedObjects     int       `json:"archived_objects,omitempty"`
	Reclaimed           int64     `json:"reclaimed_bytes,omitempty"`
}

func newReport(mode, runID string) *Report {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Report{Mode: mode, RunID: runID, StartedAt: time.Now().UTC()}
}

func (r *Report) addError(err error) {
	r.Errors++
	if len(r.ErrorSample) < errorSampleSize {
		r.ErrorSample = append(r.ErrorSample, err.Error())
	}
}

func (r *Report) finish() *Report {
	r.FinishedAt = time.Now().UTC()
	return r
}

// Duration is the wall time the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Ledger records runs. *meta.Store implements it.
type Ledger interface {
	BeginRun(ctx context.Context, run meta.Run) error
	FinishRun(ctx context.Context, run meta.Run) error
	RecordArchived(ctx context.Context, e meta.ArchivedEntry) error
	RecordMismatch(ctx context.Context, m meta.Mismatch) error
	Checkpoint(ctx context.Context) error
}

func beginRun(ctx context.Context, l Ledger, r *Report) error {
	if l == nil {
		return nil
	}
	return l.BeginRun(ctx, meta.Run{
		ID:        r.RunID,
		Kind:      r.Mode,
		StartedAt: r.StartedAt.Format(time.RFC3339Nano),
		DryRun:    r.DryRun,
		TTL:       r.TTL,
		Cutoff:    r.Cutoff,
	})
}

// finishRun stores the outcome. The run's own error wins over a ledger
// failure.
func finishRun(ctx context.Context, l Ledger, r *Report, runErr error) error {
	if l == nil {
		return runErr
	}
	row := meta.Run{
		ID:              r.RunID,
		FinishedAt:      r.FinishedAt.Format(time.RFC3339Nano),
		Status:          meta.RunCompleted,
		Checked:         int64(r.Checked),
		Mismatches:      int64(r.Mismatches),
		Errors:          int64(r.Errors),
		ArchivedBackups: int64(r.ArchivedBackups),
		ArchivedObjects: int64(r.ArchivedObjects),
		ReclaimedBytes:  r.Reclaimed,
	}
	if runErr != nil {
		row.Status = meta.RunFailed
		row.Error = runErr.Error()
	}
	// The command context may already be cancelled; the outcome is still
	// worth recording.
	ctx = context.WithoutCancel(ctx)
	err := l.FinishRun(ctx, row)
	if err == nil {
		err = l.Checkpoint(ctx)
	}
	if runErr != nil {
		return runErr
	}
	return err
}
