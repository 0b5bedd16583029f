package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"

	"github.com/kk-code-lab/kbkeeper/internal/ops"
	"github.com/kk-code-lab/kbkeeper/internal/storage/fs"
)

func (c *cli) archiveCmd() *cobra.Command {
	var (
		dryRun  bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "archive <kbi_repo> <backups> <archive_kbi_repo> <archive_backups> <ttl>",
		Short: "Move backups older than ttl and the objects only they use into the archive",
		Long: `archive keeps every manifest and full backup created within ttl, keeps every
object those manifests reference and moves everything else into the archive
directories. ttl accepts units from ns to w, e.g. 30d, 2w, 36h.

A missing object referenced by a kept manifest aborts the run before anything
is moved. A failed move stops the run.`,
		Args: usageArgs(cobra.ExactArgs(5)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := str2duration.ParseDuration(args[4])
			if err != nil {
				return usageError(fmt.Errorf("cannot parse duration string: %w", err))
			}
			workers := intFlag(cmd, "move-workers", c.cfg.MoveWorkers)
			if workers < 1 {
				return usageError(ErrMoveWorkersRange)
			}
			loc, err := c.cfg.Location()
			if err != nil {
				return usageError(err)
			}
			store, err := c.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger(store)

			layout := fs.NewLayout(args[0], args[1], args[2], args[3])
			report, err := ops.Archive(cmd.Context(), layout, ops.ArchiveOptions{
				TTL:         ttl,
				TTLText:     args[4],
				DryRun:      dryRun,
				MoveWorkers: workers,
				Clock:       c.clock,
				Location:    loc,
				Ledger:      ledgerOf(store),
			})
			c.writeMetrics(report, err)
			if errors.Is(err, ops.ErrInvalidTTL) {
				return usageError(err)
			}
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be archived without moving anything")
	cmd.Flags().Int("move-workers", 1, "concurrent moves during the sweep")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	return cmd
}
