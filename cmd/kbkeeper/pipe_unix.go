//go:build unix

package main

import (
	"errors"
	"os/signal"

	"golang.org/x/sys/unix"
)

// ignoreSIGPIPE makes writes to a closed stdout return EPIPE.
func ignoreSIGPIPE() {
	signal.Ignore(unix.SIGPIPE)
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, unix.EPIPE)
}
