package ops

import (
	"context"
	"fmt"

	"github.com/kk-code-lab/kbkeeper/internal/meta"
	"github.com/kk-code-lab/kbkeeper/internal/verify"
)

// VerifyOptions configures VerifyRepo and VerifyKBI.
type VerifyOptions struct {
	Workers   int
	QueueSize int
	// OnMismatch receives every mismatch as it is found. An error stops the
	// run and is returned as is.
	OnMismatch func(verify.Result) error
	Ledger     Ledger
	RunID      string
}

// VerifyRepo checks every object in an incremental repository against its
// own name.
func VerifyRepo(ctx context.Context, dir string, opts VerifyOptions) (*Report, error) {
	report := newReport("verify-backup-repo", opts.RunID)
	return runVerify(ctx, report, verify.FromDirectory(dir), opts)
}

// VerifyKBI checks every object referenced by the given manifests, each
// object once.
func VerifyKBI(ctx context.Context, repo string, kbis []string, opts VerifyOptions) (*Report, error) {
	report := newReport("verify-kbi", opts.RunID)
	src, stats := verify.FromManifests(repo, kbis, nil)
	report, err := runVerify(ctx, report, src, opts)
	report.Manifests = stats.Decoded
	report.SkippedManifests = stats.Skipped
	return report, err
}

func runVerify(ctx context.Context, report *Report, src verify.Source, opts VerifyOptions) (*Report, error) {
	if err := beginRun(ctx, opts.Ledger, report); err != nil {
		return report, fmt.Errorf("ops: ledger: %w", err)
	}
	summary, err := verify.Run(ctx, src, verify.Options{Workers: opts.Workers, QueueSize: opts.QueueSize}, func(r verify.Result) error {
		switch r.Status {
		case verify.StatusMismatch:
			if opts.Ledger != nil {
				if err := opts.Ledger.RecordMismatch(ctx, meta.Mismatch{
					RunID:    report.RunID,
					Name:     r.Name,
					Expected: r.Expected,
					Actual:   r.Actual,
				}); err != nil {
					return fmt.Errorf("ops: ledger: %w", err)
				}
			}
			if opts.OnMismatch != nil {
				return opts.OnMismatch(r)
			}
		case verify.StatusUnsupported, verify.StatusError:
			report.addError(r.Err)
		}
		return nil
	})
	report.Checked = summary.Checked
	report.OK = summary.OK
	report.Mismatches = summary.Mismatches
	report.Unsupported = summary.Unsupported
	report.Errors = summary.Unsupported + summary.Errors
	report.Bytes = summary.Bytes
	report.finish()
	return report, finishRun(ctx, opts.Ledger, report, err)
}
