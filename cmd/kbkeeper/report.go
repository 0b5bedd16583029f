package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kk-code-lab/kbkeeper/internal/ops"
)

func formatReport(report *ops.Report) string {
	if report == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "mode=%s", report.Mode)
	switch report.Mode {
	case "archive":
		fmt.Fprintf(&b, " dry_run=%t ttl=%s cutoff=%s backups=%d/%d objects=%d/%d unrecognized=%d archived_backups=%d archived_objects=%d reclaimed=%s",
			report.DryRun, report.TTL, report.Cutoff,
			report.ActiveBackups, report.Backups-report.UnrecognizedBackups,
			report.ActiveObjects, report.Objects,
			report.UnrecognizedBackups,
			report.ArchivedBackups, report.ArchivedObjects,
			humanize.Bytes(uint64(report.Reclaimed)))
	default:
		if report.Mode == "verify-kbi" {
			fmt.Fprintf(&b, " manifests=%d skipped_manifests=%d", report.Manifests, report.SkippedManifests)
		}
		fmt.Fprintf(&b, " checked=%d ok=%d mismatches=%d errors=%d bytes=%s",
			report.Checked, report.OK, report.Mismatches, report.Errors, humanize.Bytes(uint64(report.Bytes)))
	}
	fmt.Fprintf(&b, " duration=%s run_id=%s", report.Duration().Round(time.Millisecond), report.RunID)
	return b.String()
}

func writeReport(w io.Writer, report *ops.Report, jsonOut bool) error {
	if report == nil {
		return nil
	}
	if jsonOut {
		return writeJSON(w, report)
	}
	_, err := fmt.Fprintln(w, formatReport(report))
	return err
}
