package ops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kk-code-lab/kbkeeper/internal/clock"
	"github.com/kk-code-lab/kbkeeper/internal/meta"
	"github.com/kk-code-lab/kbkeeper/internal/storage/fingerprint"
	"github.com/kk-code-lab/kbkeeper/internal/storage/fs"
	"github.com/kk-code-lab/kbkeeper/internal/storage/manifest"
	"github.com/kk-code-lab/kbkeeper/internal/storage/manifest/manifesttest"
	"github.com/kk-code-lab/kbkeeper/internal/verify"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type repo struct {
	t      *testing.T
	layout fs.Layout
}

func newRepo(t *testing.T) *repo {
	t.Helper()
	root := t.TempDir()
	var dirs []string
	for _, name := range []string{"incremental", "backups", "archive-incremental", "archive-backups"} {
		dir := filepath.Join(root, name)
		require.NoError(t, os.Mkdir(dir, 0o755))
		dirs = append(dirs, dir)
	}
	return &repo{t: t, layout: fs.NewLayout(dirs[0], dirs[1], dirs[2], dirs[3])}
}

func (r *repo) object(content string) manifest.Element {
	r.t.Helper()
	el := manifesttest.Object(content+".dat", []byte(content))
	require.NoError(r.t, os.WriteFile(r.layout.ObjectPath(el.Identifier.String()), []byte(content), 0o644))
	return el
}

func backupName(prefix string, age time.Duration, suffix, ext string) string {
	return fmt.Sprintf("%s-%s_%s.%s", prefix, testNow.Add(-age).Format(backupTimeLayout), suffix, ext)
}

func (r *repo) manifest(age time.Duration, suffix string, elements ...manifest.Element) string {
	r.t.Helper()
	name := backupName("incremental", age, suffix, "kbi")
	m := &manifest.BackupManifest{
		BackupName: suffix,
		Root:       manifesttest.Dir("world", elements[:len(elements)/2], manifesttest.Dir("region", elements[len(elements)/2:])),
	}
	require.NoError(r.t, manifesttest.WriteFile(r.layout.BackupPath(name), m))
	return name
}

func (r *repo) file(dir, name, content string) {
	r.t.Helper()
	require.NoError(r.t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := fs.ListFiles(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func sorted(s ...string) []string {
	return slices.Sorted(slices.Values(s))
}

func day(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func archiveOptions(dryRun bool) ArchiveOptions {
	return ArchiveOptions{
		TTL:      day(30),
		TTLText:  "30d",
		DryRun:   dryRun,
		Clock:    clock.FixedClock{T: testNow},
		Location: time.UTC,
	}
}

type fixture struct {
	*repo
	oldKBI, newKBI, oldZip, newZip, readme string
	oldOnly, newOnly, shared, orphan       string
}

func newFixture(t *testing.T) *fixture {
	r := newRepo(t)
	f := &fixture{repo: r}
	oldOnly := r.object("old only")
	newOnly := r.object("new only")
	shared := r.object("shared")
	orphan := r.object("orphan")
	f.oldOnly = oldOnly.Identifier.String()
	f.newOnly = newOnly.Identifier.String()
	f.shared = shared.Identifier.String()
	f.orphan = orphan.Identifier.String()

	f.oldKBI = r.manifest(day(40), "old", oldOnly, shared)
	f.newKBI = r.manifest(day(5), "new", shared, newOnly)
	f.oldZip = backupName("kbackup", day(50), "full", "zip")
	f.newZip = backupName("kbackup", day(1), "full", "zip")
	f.readme = "README.txt"
	r.file(r.layout.BackupsDir, f.oldZip, "zip")
	r.file(r.layout.BackupsDir, f.newZip, "zip")
	r.file(r.layout.BackupsDir, f.readme, "hello")
	return f
}

func TestArchiveTTLExample(t *testing.T) {
	f := newFixture(t)

	report, err := Archive(context.Background(), f.layout, archiveOptions(false))
	require.NoError(t, err)

	assert.Equal(t, sorted(f.newKBI, f.newZip, f.readme), names(t, f.layout.BackupsDir))
	assert.Equal(t, sorted(f.oldKBI, f.oldZip), names(t, f.layout.ArchiveBackupsDir))
	assert.Equal(t, sorted(f.newOnly, f.shared), names(t, f.layout.ObjectsDir))
	assert.Equal(t, sorted(f.oldOnly, f.orphan), names(t, f.layout.ArchiveObjectsDir))

	assert.Equal(t, 2, report.ArchivedBackups)
	assert.Equal(t, 2, report.ArchivedObjects)
	assert.Equal(t, 1, report.UnrecognizedBackups)
	assert.Equal(t, 5, report.Backups)
	assert.Equal(t, 2, report.ActiveBackups)
	assert.Equal(t, 2, report.ActiveObjects)
	assert.Equal(t, 1, report.Manifests)
	assert.Equal(t, "30d", report.TTL)
	assert.Equal(t, testNow.Add(-day(30)).Format(time.RFC3339), report.Cutoff)
	assert.Positive(t, report.Reclaimed)
	assert.NotEmpty(t, report.RunID)
}

func TestArchiveDryRunMakesTheSameDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := Plan(ctx, f.layout, archiveOptions(true))
	require.NoError(t, err)
	wantBackups := plan.ArchivedBackups()
	wantObjects := plan.ArchivedObjects()

	beforeBackups := names(t, f.layout.BackupsDir)
	beforeObjects := names(t, f.layout.ObjectsDir)
	dry, err := Archive(ctx, f.layout, archiveOptions(true))
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, beforeBackups, names(t, f.layout.BackupsDir))
	assert.Equal(t, beforeObjects, names(t, f.layout.ObjectsDir))
	assert.Empty(t, names(t, f.layout.ArchiveObjectsDir))

	moved, err := Archive(ctx, f.layout, archiveOptions(false))
	require.NoError(t, err)
	assert.Equal(t, dry.ArchivedBackups, moved.ArchivedBackups)
	assert.Equal(t, dry.ArchivedObjects, moved.ArchivedObjects)
	assert.Equal(t, dry.Reclaimed, moved.Reclaimed)
	assert.Equal(t, wantBackups, names(t, f.layout.ArchiveBackupsDir))
	assert.Equal(t, wantObjects, names(t, f.layout.ArchiveObjectsDir))
}

func TestArchiveDryRunWithoutArchiveDirs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.layout.ArchiveObjectsDir))
	require.NoError(t, os.Remove(f.layout.ArchiveBackupsDir))

	_, err := Archive(context.Background(), f.layout, archiveOptions(true))
	require.NoError(t, err)

	_, err = Archive(context.Background(), f.layout, archiveOptions(false))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestArchiveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := Archive(ctx, f.layout, archiveOptions(false))
	require.NoError(t, err)

	again, err := Archive(ctx, f.layout, archiveOptions(false))
	require.NoError(t, err)
	assert.Zero(t, again.ArchivedBackups)
	assert.Zero(t, again.ArchivedObjects)
}

func TestArchiveMissingObjectIsFatal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.layout.ObjectPath(f.newOnly)))
	before := names(t, f.layout.BackupsDir)

	_, err := Archive(context.Background(), f.layout, archiveOptions(false))
	var consistency *ConsistencyError
	require.True(t, errors.As(err, &consistency), "%v", err)
	assert.Equal(t, f.newOnly, consistency.Object)
	assert.Equal(t, f.newKBI, consistency.Manifest)

	assert.Equal(t, before, names(t, f.layout.BackupsDir))
	assert.Empty(t, names(t, f.layout.ArchiveObjectsDir))
	assert.Empty(t, names(t, f.layout.ArchiveBackupsDir))
}

func TestArchiveUndecodableActiveManifestIsFatal(t *testing.T) {
	f := newFixture(t)
	f.file(f.layout.BackupsDir, backupName("incremental", day(2), "broken", "kbi"), "garbage")

	_, err := Archive(context.Background(), f.layout, archiveOptions(false))
	var decErr *manifest.DecodeError
	require.True(t, errors.As(err, &decErr), "%v", err)
	assert.Empty(t, names(t, f.layout.ArchiveObjectsDir))
}

func TestArchiveIgnoresUndecodableInactiveManifest(t *testing.T) {
	f := newFixture(t)
	broken := backupName("incremental", day(90), "broken", "kbi")
	f.file(f.layout.BackupsDir, broken, "garbage")

	report, err := Archive(context.Background(), f.layout, archiveOptions(false))
	require.NoError(t, err)
	assert.Equal(t, 3, report.ArchivedBackups)
	assert.Contains(t, names(t, f.layout.ArchiveBackupsDir), broken)
}

func TestArchivePreChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opts := archiveOptions(false)
	opts.TTL = 0
	_, err := Archive(ctx, f.layout, opts)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	overlap := fs.NewLayout(f.layout.ObjectsDir, f.layout.BackupsDir, f.layout.ObjectsDir, f.layout.ArchiveBackupsDir)
	_, err = Archive(ctx, overlap, archiveOptions(false))
	assert.ErrorIs(t, err, fs.ErrOverlap)
}

func TestArchiveParallelMoves(t *testing.T) {
	f := newFixture(t)
	for i := range 40 {
		f.object(fmt.Sprintf("orphan %d", i))
	}
	opts := archiveOptions(false)
	opts.MoveWorkers = 8
	report, err := Archive(context.Background(), f.layout, opts)
	require.NoError(t, err)
	assert.Equal(t, 42, report.ArchivedObjects)
	assert.Equal(t, sorted(f.newOnly, f.shared), names(t, f.layout.ObjectsDir))
	assert.Len(t, names(t, f.layout.ArchiveObjectsDir), 42)
}

func TestArchiveMoveFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Mkdir(f.layout.ArchiveObjectPath(f.orphan), 0o755))
	f.file(f.layout.ArchiveObjectPath(f.orphan), "occupied", "x")

	_, err := Archive(context.Background(), f.layout, archiveOptions(false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error moving incremental object file "+f.orphan)
	assert.Contains(t, names(t, f.layout.ObjectsDir), f.orphan)
}

func TestArchiveRecordsLedger(t *testing.T) {
	f := newFixture(t)
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	store, err := meta.Open(ledgerPath)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	oldKBIPath := f.layout.BackupPath(f.oldKBI)
	wantFingerprint, err := fingerprint.File(oldKBIPath)
	require.NoError(t, err)

	opts := archiveOptions(true)
	opts.Ledger = store
	dry, err := Archive(ctx, f.layout, opts)
	require.NoError(t, err)
	entries, err := store.ListArchived(ctx, dry.RunID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	opts = archiveOptions(false)
	opts.Ledger = store
	opts.RunID = "archive-run"
	report, err := Archive(ctx, f.layout, opts)
	require.NoError(t, err)
	assert.Equal(t, "archive-run", report.RunID)

	run, err := store.GetRun(ctx, "archive-run")
	require.NoError(t, err)
	assert.Equal(t, meta.RunCompleted, run.Status)
	assert.Equal(t, int64(2), run.ArchivedObjects)
	assert.Equal(t, "30d", run.TTL)
	assert.False(t, run.DryRun)
	wal, err := os.Stat(ledgerPath + "-wal")
	require.NoError(t, err)
	assert.Zero(t, wal.Size(), "finished run is checkpointed")

	entries, err = store.ListArchived(ctx, "archive-run")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		if e.Name == f.oldKBI {
			assert.Equal(t, wantFingerprint, e.Fingerprint)
			assert.Equal(t, oldKBIPath, e.Src)
			assert.Equal(t, f.layout.ArchiveBackupPath(f.oldKBI), e.Dst)
		} else {
			assert.Empty(t, e.Fingerprint)
		}
	}

	dryRun, err := store.GetRun(ctx, dry.RunID)
	require.NoError(t, err)
	assert.True(t, dryRun.DryRun)
}

func TestArchiveRecordsFailedRun(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Mkdir(f.layout.ArchiveObjectPath(f.orphan), 0o755))
	f.file(f.layout.ArchiveObjectPath(f.orphan), "occupied", "x")
	store, err := meta.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	opts := archiveOptions(false)
	opts.Ledger = store
	opts.RunID = "failing"
	_, err = Archive(context.Background(), f.layout, opts)
	require.Error(t, err)

	run, err := store.GetRun(context.Background(), "failing")
	require.NoError(t, err)
	assert.Equal(t, meta.RunFailed, run.Status)
	assert.Contains(t, run.Error, "error moving")
}

func TestArchiveRecordsFailedPlan(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.layout.ObjectPath(f.newOnly)))
	store, err := meta.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	opts := archiveOptions(false)
	opts.Ledger = store
	opts.RunID = "inconsistent"
	report, err := Archive(ctx, f.layout, opts)
	var consistency *ConsistencyError
	require.True(t, errors.As(err, &consistency), "%v", err)

	run, err := store.GetRun(ctx, "inconsistent")
	require.NoError(t, err)
	assert.Equal(t, meta.RunFailed, run.Status)
	assert.Contains(t, run.Error, "missing file used in backup")
	assert.Equal(t, report.Cutoff, run.Cutoff)
	assert.NotEmpty(t, run.Cutoff)
	assert.Zero(t, run.ArchivedObjects)

	entries, err := store.ListArchived(ctx, "inconsistent")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchiveCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Archive(ctx, f.layout, archiveOptions(false))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, names(t, f.layout.ArchiveBackupsDir))
}

// Random repositories: whatever the ages and references, nothing an active
// manifest references is archived and every unreferenced object is.
func TestArchiveNeverArchivesReachableObjects(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := range 15 {
		t.Run(fmt.Sprintf("round%d", round), func(t *testing.T) {
			r := newRepo(t)
			var pool []manifest.Element
			for i := range 30 {
				pool = append(pool, r.object(fmt.Sprintf("r%d-o%d", round, i)))
			}
			reachable := map[string]bool{}
			for m := range 6 {
				age := day(rng.Intn(60))
				var els []manifest.Element
				for _, el := range pool {
					if rng.Intn(4) == 0 {
						els = append(els, el)
					}
				}
				r.manifest(age+time.Duration(m)*time.Minute, fmt.Sprintf("m%d", m), els...)
				if age+time.Duration(m)*time.Minute <= day(30) {
					for _, el := range els {
						reachable[el.Identifier.String()] = true
					}
				}
			}

			opts := archiveOptions(false)
			opts.MoveWorkers = 1 + rng.Intn(4)
			_, err := Archive(context.Background(), r.layout, opts)
			require.NoError(t, err)

			kept := names(t, r.layout.ObjectsDir)
			archived := names(t, r.layout.ArchiveObjectsDir)
			for _, name := range archived {
				assert.False(t, reachable[name], "reachable object %s archived", name)
			}
			for _, name := range kept {
				assert.True(t, reachable[name], "unreferenced object %s kept", name)
			}
			assert.Len(t, kept, len(reachable))
			assert.Len(t, append(kept, archived...), len(pool))
		})
	}
}

func TestPlanDeterministic(t *testing.T) {
	f := newFixture(t)
	first, err := Plan(context.Background(), f.layout, archiveOptions(true))
	require.NoError(t, err)
	for range 3 {
		again, err := Plan(context.Background(), f.layout, archiveOptions(true))
		require.NoError(t, err)
		assert.Equal(t, first.Backups, again.Backups)
		assert.Equal(t, first.Objects, again.Objects)
	}
	assert.Equal(t, []string{f.readme}, first.Unrecognized)
	assert.Equal(t, []string{f.newKBI}, first.ActiveManifests)
}

func TestVerifyRepoAndKBI(t *testing.T) {
	r := newRepo(t)
	good := r.object("good")
	bad := r.object("bad")
	require.NoError(t, os.WriteFile(r.layout.ObjectPath(bad.Identifier.String()), []byte("rot"), 0o644))
	r.file(r.layout.ObjectsDir, "MD5-00", "x")
	kbi := r.manifest(day(1), "v", good, bad)

	store, err := meta.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	var lines []string
	opts := VerifyOptions{
		Workers: 2,
		Ledger:  store,
		OnMismatch: func(res verify.Result) error {
			lines = append(lines, res.Name)
			return nil
		},
	}
	report, err := VerifyRepo(context.Background(), r.layout.ObjectsDir, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.OK)
	assert.Equal(t, 1, report.Mismatches)
	assert.Equal(t, 1, report.Errors)
	assert.Len(t, report.ErrorSample, 1)
	assert.Equal(t, []string{bad.Identifier.String()}, lines)

	mismatches, err := store.ListMismatches(context.Background(), report.RunID)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	sum := sha256.Sum256([]byte("rot"))
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(sum[:])), mismatches[0].Actual)

	lines = nil
	report, err = VerifyKBI(context.Background(), r.layout.ObjectsDir, []string{r.layout.BackupPath(kbi)}, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Mismatches)
	assert.Equal(t, 1, report.Manifests)
	assert.Equal(t, "verify-kbi", report.Mode)
}
