package verify

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/kk-code-lab/kbkeeper/internal/storage/fs"
	"github.com/kk-code-lab/kbkeeper/internal/storage/manifest"
)

// FromDirectory emits every regular file in dir, expecting each file to be
// named after its own content.
func FromDirectory(dir string) Source {
	return func(_ context.Context, emit func(Item) error) error {
		return fs.Scan(dir, func(e fs.Entry) error {
			return emit(Item{Path: filepath.Join(dir, e.Name), Name: e.Name})
		})
	}
}

// ManifestStats is filled in by a FromManifests source while it runs and
// is safe to read once Run has returned.
type ManifestStats struct {
	Decoded    int
	Skipped    int
	References int
	Duplicates int
}

// FromManifests emits the union of the objects referenced by the manifests
// at paths, each object once, located under repo. With a single manifest
// a decode failure fails the run; with several the manifest is logged and
// skipped.
func FromManifests(repo string, paths []string, decode func(path string) (*manifest.BackupManifest, error)) (Source, *ManifestStats) {
	if decode == nil {
		decode = manifest.DecodeFile
	}
	stats := &ManifestStats{}
	src := func(_ context.Context, emit func(Item) error) error {
		seen := make(map[string]struct{})
		for _, path := range paths {
			m, err := decode(path)
			if err != nil {
				if len(paths) == 1 {
					return fmt.Errorf("verify: %s: %w", path, err)
				}
				stats.Skipped++
				log.Error().Err(err).Str("manifest", path).Msg("skipping undecodable manifest")
				continue
			}
			stats.Decoded++
			for objPath, name := range manifest.Walk(repo, m) {
				stats.References++
				if _, dup := seen[name]; dup {
					stats.Duplicates++
					continue
				}
				seen[name] = struct{}{}
				if err := emit(Item{Path: objPath, Name: name}); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return src, stats
}
