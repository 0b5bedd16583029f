package manifest

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kk-code-lab/kbkeeper/internal/jserial"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrMapLayout    = errors.New("unexpected map annotation layout")
	ErrDuplicateKey = errors.New("duplicate map key")
)

// DecodeError reports a manifest that could not be decoded, with the
// dotted path of the offending field.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("manifest: decode: %v", e.Err)
	}
	return fmt.Sprintf("manifest: decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns a serialized backup index into a manifest.
type Decoder interface {
	Decode(r io.Reader) (*BackupManifest, error)
}

// JavaDecoder decodes the Java-serialized SavedIncBackupV1 written by
// KBackup-Fabric.
type JavaDecoder struct{}

// Decode reads exactly one top-level object from r.
func (d *JavaDecoder) Decode(r io.Reader) (*BackupManifest, error) {
	p, err := jserial.NewParser(r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	v, err := p.ReadObject()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = jserial.ErrTruncated
		}
		return nil, &DecodeError{Err: err}
	}
	m := &BackupManifest{}
	if err := decodeObject("", v, backupFields(m)); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeFile opens and decodes one .kbi file.
func DecodeFile(path string) (*BackupManifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return (&JavaDecoder{}).Decode(file)
}
