package ops

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/kk-code-lab/kbkeeper/internal/storage/manifest"
)

// Dump formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCBOR = "cbor"
)

var ErrUnknownFormat = errors.New("unknown dump format")

// DumpKBI decodes one manifest and writes it to w.
func DumpKBI(path string, w io.Writer, format string, pretty bool) error {
	m, err := manifest.DecodeFile(path)
	if err != nil {
		return err
	}
	return EncodeManifest(w, m, format, pretty)
}

// EncodeManifest writes m in the given format. pretty indents JSON; YAML
// is always indented and CBOR never is.
func EncodeManifest(w io.Writer, m *manifest.BackupManifest, format string, pretty bool) error {
	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		if pretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(m)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	case FormatCBOR:
		opts := cbor.CoreDetEncOptions()
		opts.Time = cbor.TimeRFC3339Nano
		em, err := opts.EncMode()
		if err != nil {
			return err
		}
		return em.NewEncoder(w).Encode(m)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
