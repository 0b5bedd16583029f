package objectid

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// SHA256 is the algorithm tag KBackup uses for SHA-256 identifiers.
const SHA256 = "S2"

const separator = "-"

var (
	ErrMissingSeparator = errors.New("objectid: missing algorithm separator")
	ErrEmptyAlgorithm   = errors.New("objectid: empty algorithm tag")
	ErrEmptyDigest      = errors.New("objectid: empty digest")
)

// ID names one content object in the incremental repository. The canonical
// form "<tag>-<HEX>" is the object's filename.
type ID struct {
	algorithm string
	digest    []byte
}

// New builds an identifier from an algorithm tag and a raw digest.
func New(algorithm string, digest []byte) ID {
	return ID{algorithm: algorithm, digest: bytes.Clone(digest)}
}

// Parse is the inverse of String.
func Parse(name string) (ID, error) {
	tag, digestHex, ok := strings.Cut(name, separator)
	if !ok {
		return ID{}, fmt.Errorf("%w: %q", ErrMissingSeparator, name)
	}
	if tag == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrEmptyAlgorithm, name)
	}
	if digestHex == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrEmptyDigest, name)
	}
	if strings.ToUpper(digestHex) != digestHex {
		return ID{}, fmt.Errorf("objectid: digest not upper-case hex: %q", name)
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return ID{}, fmt.Errorf("objectid: %q: %w", name, err)
	}
	return ID{algorithm: tag, digest: digest}, nil
}

func (id ID) Algorithm() string {
	return id.algorithm
}

// Digest returns a copy of the raw digest bytes.
func (id ID) Digest() []byte {
	return bytes.Clone(id.digest)
}

// DigestHex returns the upper-case hex digest, the part after the separator.
func (id ID) DigestHex() string {
	return strings.ToUpper(hex.EncodeToString(id.digest))
}

func (id ID) Equal(other ID) bool {
	return id.algorithm == other.algorithm && bytes.Equal(id.digest, other.digest)
}

// String renders the canonical on-disk name.
func (id ID) String() string {
	return id.algorithm + separator + id.DigestHex()
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ID) MarshalYAML() (any, error) {
	return id.String(), nil
}

func (id ID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(id.String())
}
