package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kk-code-lab/kbkeeper/internal/ops"
	"github.com/kk-code-lab/kbkeeper/internal/verify"
)

type verifyFlags struct {
	threads int
	queue   int
	jsonOut bool
}

func (f *verifyFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.threads, "threads", "t", 0, "hashing workers; 0 uses one per CPU, use 1 for spinning disks")
	cmd.Flags().IntVar(&f.queue, "queue", verify.DefaultQueueSize, "pending work items between the lister and the workers")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print mismatches and the report as JSON")
}

type mismatchLine struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type verifyOutput struct {
	Report     *ops.Report    `json:"report"`
	Mismatches []mismatchLine `json:"mismatches"`
}

func (c *cli) verifyRepoCmd() *cobra.Command {
	f := &verifyFlags{}
	cmd := &cobra.Command{
		Use:   "verify-backup-repo <path>",
		Short: "Verify the checksum of every object in an incremental repository",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runVerify(cmd, f, func(ctx context.Context, opts ops.VerifyOptions) (*ops.Report, error) {
				return ops.VerifyRepo(ctx, args[0], opts)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (c *cli) verifyKBICmd() *cobra.Command {
	f := &verifyFlags{}
	cmd := &cobra.Command{
		Use:   "verify-kbi <repo_path> <kbi_path>...",
		Short: "Verify the checksum of every object referenced by .kbi manifests",
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runVerify(cmd, f, func(ctx context.Context, opts ops.VerifyOptions) (*ops.Report, error) {
				return ops.VerifyKBI(ctx, args[0], args[1:], opts)
			})
		},
	}
	f.register(cmd)
	return cmd
}

// runVerify prints each mismatch as it is found. Mismatches are findings,
// not failures: the exit status only reflects whether the run completed.
func (c *cli) runVerify(cmd *cobra.Command, f *verifyFlags, run func(context.Context, ops.VerifyOptions) (*ops.Report, error)) error {
	workers := intFlag(cmd, "threads", c.cfg.Threads)
	if workers < 0 {
		return usageError(ErrNegativeThreads)
	}
	queue := intFlag(cmd, "queue", c.cfg.QueueSize)
	if queue < 0 {
		return usageError(ErrNegativeQueue)
	}
	store, err := c.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger(store)

	out := cmd.OutOrStdout()
	var mismatches []mismatchLine
	report, err := run(cmd.Context(), ops.VerifyOptions{
		Workers:   workers,
		QueueSize: queue,
		Ledger:    ledgerOf(store),
		OnMismatch: func(r verify.Result) error {
			if f.jsonOut {
				mismatches = append(mismatches, mismatchLine{Name: r.Name, Expected: r.Expected, Actual: r.Actual})
				return nil
			}
			return printMismatch(out, r)
		},
	})
	c.writeMetrics(report, err)
	if err != nil {
		return err
	}
	if f.jsonOut {
		return writeJSON(out, verifyOutput{Report: report, Mismatches: normalizeJSONValue(mismatches).([]mismatchLine)})
	}
	return writeReport(out, report, false)
}

func printMismatch(w io.Writer, r verify.Result) error {
	_, err := fmt.Fprintf(w, "file hash mismatch: %s, expected: %s, actual: %s\n", r.Name, r.Expected, r.Actual)
	return err
}

// usageArgs maps positional argument errors to exit status 2.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(check(cmd, args))
	}
}
