package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrNotDirectory = errors.New("fs: not a directory")
	ErrOverlap      = errors.New("fs: directories must be distinct")
)

// Layout names the four directories an archive run works on. Objects live
// flat in ObjectsDir, manifests (.kbi) and full backups (.zip) in BackupsDir.
type Layout struct {
	ObjectsDir        string
	BackupsDir        string
	ArchiveObjectsDir string
	ArchiveBackupsDir string
}

// NewLayout cleans the four paths.
func NewLayout(objects, backups, archiveObjects, archiveBackups string) Layout {
	return Layout{
		ObjectsDir:        filepath.Clean(objects),
		BackupsDir:        filepath.Clean(backups),
		ArchiveObjectsDir: filepath.Clean(archiveObjects),
		ArchiveBackupsDir: filepath.Clean(archiveBackups),
	}
}

func (l Layout) ObjectPath(name string) string {
	return filepath.Join(l.ObjectsDir, name)
}

func (l Layout) BackupPath(name string) string {
	return filepath.Join(l.BackupsDir, name)
}

func (l Layout) ArchiveObjectPath(name string) string {
	return filepath.Join(l.ArchiveObjectsDir, name)
}

func (l Layout) ArchiveBackupPath(name string) string {
	return filepath.Join(l.ArchiveBackupsDir, name)
}

// Check verifies the directories exist and are pairwise distinct. The
// archive side is only checked when requireArchive is set.
func (l Layout) Check(requireArchive bool) error {
	dirs := []string{l.ObjectsDir, l.BackupsDir}
	if requireArchive {
		dirs = append(dirs, l.ArchiveObjectsDir, l.ArchiveBackupsDir)
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDirectory, dir)
		}
	}
	all := []string{l.ObjectsDir, l.BackupsDir, l.ArchiveObjectsDir, l.ArchiveBackupsDir}
	seen := make(map[string]struct{}, len(all))
	for _, dir := range all {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		if _, dup := seen[abs]; dup {
			return fmt.Errorf("%w: %s", ErrOverlap, dir)
		}
		seen[abs] = struct{}{}
	}
	return nil
}
