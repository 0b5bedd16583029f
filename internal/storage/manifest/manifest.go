package manifest

import (
	"time"

	"github.com/kk-code-lab/kbkeeper/internal/storage/objectid"
)

// Element references one content object inside a collection.
type Element struct {
	Name       string      `json:"name" yaml:"name" cbor:"name"`
	Identifier objectid.ID `json:"identifier" yaml:"identifier" cbor:"identifier"`
}

// Collection is one directory level of a backup. Children are held by value.
type Collection struct {
	Name           string                `json:"name" yaml:"name" cbor:"name"`
	Elements       map[string]Element    `json:"elements" yaml:"elements" cbor:"elements"`
	SubCollections map[string]Collection `json:"sub_collections" yaml:"sub_collections" cbor:"sub_collections"`
}

// BackupManifest is the decoded content of one .kbi file.
type BackupManifest struct {
	Root               Collection `json:"object_collection2" yaml:"object_collection2" cbor:"object_collection2"`
	BackupName         string     `json:"backup_name" yaml:"backup_name" cbor:"backup_name"`
	BackupTime         *time.Time `json:"backup_time,omitempty" yaml:"backup_time,omitempty" cbor:"backup_time,omitempty"`
	TotalSizeBytes     int64      `json:"total_size_bytes" yaml:"total_size_bytes" cbor:"total_size_bytes"`
	IncreasedSizeBytes int64      `json:"increased_size_bytes" yaml:"increased_size_bytes" cbor:"increased_size_bytes"`
	FilesAdded         int32      `json:"files_added" yaml:"files_added" cbor:"files_added"`
	TotalFiles         int32      `json:"total_files" yaml:"total_files" cbor:"total_files"`
}

// ElementCount returns the number of elements reachable from c, duplicates
// across sub-collections included.
func (c *Collection) ElementCount() int {
	n := len(c.Elements)
	for _, sub := range c.SubCollections {
		n += sub.ElementCount()
	}
	return n
}
