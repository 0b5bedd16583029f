package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kk-code-lab/kbkeeper/internal/clock"
	"github.com/kk-code-lab/kbkeeper/internal/meta"
	"github.com/kk-code-lab/kbkeeper/internal/storage/fingerprint"
	"github.com/kk-code-lab/kbkeeper/internal/storage/fs"
	"github.com/kk-code-lab/kbkeeper/internal/storage/manifest"
)

var ErrInvalidTTL = errors.New("ttl must be positive")

// ConsistencyError reports an active manifest referencing an object that
// is not in the repository.
type ConsistencyError struct {
	Object   string
	Manifest string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("missing file used in backup: %s, used in %s", e.Object, e.Manifest)
}

// ArchiveOptions configures Plan, Sweep and Archive.
type ArchiveOptions struct {
	TTL time.Duration
	// TTLText is the TTL as the user wrote it, kept for reports.
	TTLText     string
	DryRun      bool
	MoveWorkers int
	Clock       clock.Clock
	// Location interprets filename timestamps; nil means time.Local.
	Location *time.Location
	Decode   func(path string) (*manifest.BackupManifest, error)
	Ledger   Ledger
	RunID    string
}

// ArchivePlan is the outcome of the enumerate, classify and mark steps.
// It is read-only once returned.
type ArchivePlan struct {
	Layout  fs.Layout
	Now     time.Time
	Cutoff  time.Time
	Backups LivenessSet
	Objects LivenessSet
	// Unrecognized backups match no known filename pattern and are left
	// in place.
	Unrecognized    []string
	ActiveManifests []string
	backupSizes     map[string]int64
	objectSizes     map[string]int64
}

// ArchivedBackups returns the inactive manifests and full backups.
func (p *ArchivePlan) ArchivedBackups() []string {
	return p.Backups.Inactive()
}

// ArchivedObjects returns the objects no active manifest references.
func (p *ArchivePlan) ArchivedObjects() []string {
	return p.Objects.Inactive()
}

// Plan enumerates both directories, classifies backups by the timestamp in
// their names and marks every object an active manifest references.
func Plan(ctx context.Context, layout fs.Layout, opts ArchiveOptions) (*ArchivePlan, error) {
	decode := opts.Decode
	if decode == nil {
		decode = manifest.DecodeFile
	}
	backups, err := fs.ListFiles(layout.BackupsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup files: %w", err)
	}
	objects, err := fs.ListFiles(layout.ObjectsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list incremental files: %w", err)
	}

	t := now(opts.Clock)
	plan := &ArchivePlan{
		Layout:      layout,
		Now:         t,
		Cutoff:      t.Add(-opts.TTL),
		Backups:     make(LivenessSet, len(backups)),
		Objects:     make(LivenessSet, len(objects)),
		backupSizes: make(map[string]int64, len(backups)),
		objectSizes: make(map[string]int64, len(objects)),
	}
	for _, e := range objects {
		plan.Objects[e.Name] = false
		plan.objectSizes[e.Name] = e.Size
	}

	for _, e := range backups {
		created, err := ParseBackupTime(e.Name, opts.Location)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("leaving unclassified backup in place")
			plan.Unrecognized = append(plan.Unrecognized, e.Name)
			continue
		}
		active := IsActive(created, plan.Cutoff)
		plan.Backups[e.Name] = active
		plan.backupSizes[e.Name] = e.Size
		if active {
			log.Debug().Str("file", e.Name).Time("created", created).Msg("active")
			if strings.HasSuffix(e.Name, ".kbi") {
				plan.ActiveManifests = append(plan.ActiveManifests, e.Name)
			}
		} else {
			log.Debug().Str("file", e.Name).Time("created", created).Msg("inactive")
		}
	}

	for _, name := range plan.ActiveManifests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := decode(layout.BackupPath(name))
		if err != nil {
			return nil, fmt.Errorf("decode active manifest %s: %w", name, err)
		}
		for _, object := range manifest.Walk(layout.ObjectsDir, m) {
			if !plan.Objects.Mark(object) {
				return nil, &ConsistencyError{Object: object, Manifest: name}
			}
		}
	}
	return plan, nil
}

// SweepResult counts what a sweep moved, or would have moved in a dry run.
type SweepResult struct {
	Backups int
	Objects int
	Bytes   int64
}

type sweepItem struct {
	category string
	name     string
	src      string
	dst      string
	size     int64
}

// Sweep moves everything the plan left inactive into the archive
// directories. The first failed move stops the sweep.
func Sweep(ctx context.Context, plan *ArchivePlan, opts ArchiveOptions, onArchived func(meta.ArchivedEntry) error) (SweepResult, error) {
	var items []sweepItem
	for _, name := range plan.ArchivedBackups() {
		items = append(items, sweepItem{
			category: meta.CategoryBackup,
			name:     name,
			src:      plan.Layout.BackupPath(name),
			dst:      plan.Layout.ArchiveBackupPath(name),
			size:     plan.backupSizes[name],
		})
	}
	for _, name := range plan.ArchivedObjects() {
		items = append(items, sweepItem{
			category: meta.CategoryObject,
			name:     name,
			src:      plan.Layout.ObjectPath(name),
			dst:      plan.Layout.ArchiveObjectPath(name),
			size:     plan.objectSizes[name],
		})
	}

	var (
		mu     sync.Mutex
		result SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.MoveWorkers, 1))
	for _, it := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, err := archiveOne(it, opts.DryRun)
			if err != nil {
				return err
			}
			log.Info().Str("file", it.name).Str("category", it.category).Bool("dry_run", opts.DryRun).Msg("archived")

			mu.Lock()
			defer mu.Unlock()
			if it.category == meta.CategoryBackup {
				result.Backups++
			} else {
				result.Objects++
			}
			result.Bytes += it.size
			if onArchived != nil && !opts.DryRun {
				return onArchived(entry)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return result, err
}

func archiveOne(it sweepItem, dryRun bool) (meta.ArchivedEntry, error) {
	entry := meta.ArchivedEntry{
		Category: it.category,
		Name:     it.name,
		Size:     it.size,
		Src:      it.src,
		Dst:      it.dst,
	}
	if dryRun {
		return entry, nil
	}
	if it.category == meta.CategoryBackup && strings.HasSuffix(it.name, ".kbi") {
		sum, err := fingerprint.File(it.src)
		if err != nil {
			return entry, fmt.Errorf("error fingerprinting backup file %s: %w", it.name, err)
		}
		entry.Fingerprint = sum
	}
	if err := fs.Move(it.src, it.dst); err != nil {
		if it.category == meta.CategoryBackup {
			return entry, fmt.Errorf("error moving backup file %s: %w", it.name, err)
		}
		return entry, fmt.Errorf("error moving incremental object file %s: %w", it.name, err)
	}
	entry.ArchivedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return entry, nil
}

// Archive runs the pre-checks, Plan and Sweep, and reports the outcome. A
// dry run makes the same decisions and moves nothing.
func Archive(ctx context.Context, layout fs.Layout, opts ArchiveOptions) (*Report, error) {
	report := newReport("archive", opts.RunID)
	report.DryRun = opts.DryRun
	report.TTL = opts.TTLText
	if report.TTL == "" {
		report.TTL = opts.TTL.String()
	}
	if opts.TTL <= 0 {
		return report.finish(), fmt.Errorf("%w: %s", ErrInvalidTTL, report.TTL)
	}
	if err := layout.Check(!opts.DryRun); err != nil {
		return report.finish(), err
	}

	// Pin the clock so the ledger row and the plan share one cutoff.
	start := now(opts.Clock)
	opts.Clock = clock.FixedClock{T: start}
	report.Cutoff = start.Add(-opts.TTL).Format(time.RFC3339)
	if err := beginRun(ctx, opts.Ledger, report); err != nil {
		return report.finish(), fmt.Errorf("ops: ledger: %w", err)
	}

	plan, err := Plan(ctx, layout, opts)
	if err != nil {
		report.finish()
		return report, finishRun(ctx, opts.Ledger, report, err)
	}
	report.Backups = len(plan.Backups) + len(plan.Unrecognized)
	report.Objects = len(plan.Objects)
	report.ActiveBackups = plan.Backups.Active()
	report.ActiveObjects = plan.Objects.Active()
	report.UnrecognizedBackups = len(plan.Unrecognized)
	report.Manifests = len(plan.ActiveManifests)
	log.Info().
		Str("cutoff", report.Cutoff).
		Int("active_backups", report.ActiveBackups).
		Int("inactive_backups", len(plan.Backups)-report.ActiveBackups).
		Int("active_objects", report.ActiveObjects).
		Int("inactive_objects", report.Objects-report.ActiveObjects).
		Msg("archive plan")

	var onArchived func(meta.ArchivedEntry) error
	if opts.Ledger != nil {
		onArchived = func(e meta.ArchivedEntry) error {
			e.RunID = report.RunID
			return opts.Ledger.RecordArchived(context.WithoutCancel(ctx), e)
		}
	}
	result, err := Sweep(ctx, plan, opts, onArchived)
	report.ArchivedBackups = result.Backups
	report.ArchivedObjects = result.Objects
	report.Reclaimed = result.Bytes
	report.finish()
	return report, finishRun(ctx, opts.Ledger, report, err)
}
