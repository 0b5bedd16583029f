//go:build unix

package fs

import (
	"errors"

	"golang.org/x/sys/unix"
)

func crossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
