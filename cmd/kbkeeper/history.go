package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kk-code-lab/kbkeeper/internal/meta"
)

type runDetail struct {
	Run        *meta.Run            `json:"run"`
	Archived   []meta.ArchivedEntry `json:"archived"`
	Mismatches []meta.Mismatch      `json:"mismatches"`
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the files one run archived and the mismatches it found",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Ledger == "" {
				return usageError(ErrLedgerRequired)
			}
			store, err := c.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger(store)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, runs)
				}
				return printRuns(out, runs)
			}

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			detail := runDetail{Run: run}
			if detail.Archived, err = store.ListArchived(ctx, run.ID); err != nil {
				return err
			}
			if detail.Mismatches, err = store.ListMismatches(ctx, run.ID); err != nil {
				return err
			}
			if jsonOut {
				detail.Archived = normalizeJSONValue(detail.Archived).([]meta.ArchivedEntry)
				detail.Mismatches = normalizeJSONValue(detail.Mismatches).([]meta.Mismatch)
				return writeJSON(out, detail)
			}
			return printRunDetail(out, detail)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list, newest first")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func printRuns(out io.Writer, runs []meta.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tKIND\tSTARTED\tSTATUS\tCHECKED\tMISMATCHES\tARCHIVED\tRECLAIMED")
	for _, r := range runs {
		status := r.Status
		if r.DryRun {
			status += " (dry-run)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d/%d\t%s\n",
			r.ID, r.Kind, r.StartedAt, status, r.Checked, r.Mismatches,
			r.ArchivedBackups, r.ArchivedObjects, humanize.Bytes(uint64(r.ReclaimedBytes)))
	}
	return w.Flush()
}

func printRunDetail(out io.Writer, d runDetail) error {
	r := d.Run
	fmt.Fprintf(out, "run %s: %s %s, started %s, finished %s\n", r.ID, r.Kind, r.Status, r.StartedAt, r.FinishedAt)
	if r.TTL != "" {
		fmt.Fprintf(out, "ttl %s, cutoff %s, dry run %t\n", r.TTL, r.Cutoff, r.DryRun)
	}
	if r.Error != "" {
		fmt.Fprintf(out, "error: %s\n", r.Error)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if len(d.Archived) > 0 {
		fmt.Fprintln(w, "CATEGORY\tNAME\tSIZE\tFINGERPRINT\tARCHIVED AT")
		for _, e := range d.Archived {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Category, e.Name, humanize.Bytes(uint64(e.Size)), e.Fingerprint, e.ArchivedAt)
		}
	}
	if len(d.Mismatches) > 0 {
		fmt.Fprintln(w, "MISMATCH\tEXPECTED\tACTUAL")
		for _, m := range d.Mismatches {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, m.Expected, m.Actual)
		}
	}
	return w.Flush()
}
