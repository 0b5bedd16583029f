// Package fingerprint computes BLAKE3 digests recorded in the run ledger
// for archived manifests.
package fingerprint

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// File streams the file at path through BLAKE3 and returns the lower-case
// hex digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
