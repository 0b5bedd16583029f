package fs

import (
	"errors"
	"io"
	"os"
	"sort"
)

const scanBatch = 256

// Entry is one regular file in a directory.
type Entry struct {
	Name string
	Size int64
}

// Scan calls fn for every regular file in dir, reading the directory in
// batches so huge repositories are never listed in full. Symlinks and
// sub-directories are skipped. Order is the directory's own order.
func Scan(dir string, fn func(Entry) error) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	for {
		batch, err := f.ReadDir(scanBatch)
		for _, de := range batch {
			if !de.Type().IsRegular() {
				continue
			}
			info, err := de.Info()
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return err
			}
			if err := fn(Entry{Name: de.Name(), Size: info.Size()}); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ListFiles returns the regular files in dir sorted by name.
func ListFiles(dir string) ([]Entry, error) {
	var out []Entry
	err := Scan(dir, func(e Entry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
