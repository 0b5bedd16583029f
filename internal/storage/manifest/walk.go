package manifest

import (
	"iter"
	"maps"
	"path/filepath"
	"slices"
)

// Walk yields (path, object name) for every element reachable from the
// manifest root, depth first: a collection's elements sorted by key, then
// its sub-collections sorted by key. Objects live flat in the repository,
// so path is root joined with the canonical object name.
func Walk(root string, m *BackupManifest) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		walkCollection(root, &m.Root, yield)
	}
}

func walkCollection(root string, c *Collection, yield func(string, string) bool) bool {
	for _, key := range slices.Sorted(maps.Keys(c.Elements)) {
		name := c.Elements[key].Identifier.String()
		if !yield(filepath.Join(root, name), name) {
			return false
		}
	}
	for _, key := range slices.Sorted(maps.Keys(c.SubCollections)) {
		sub := c.SubCollections[key]
		if !walkCollection(root, &sub, yield) {
			return false
		}
	}
	return true
}
