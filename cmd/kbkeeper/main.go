package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kk-code-lab/kbkeeper/internal/clock"
)

func main() {
	ignoreSIGPIPE()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(&cli{clock: clock.RealClock{}}).ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil || isBrokenPipe(err) {
		return 0
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		if !ec.Quiet() {
			fmt.Fprintf(stderr, "kbkeeper: %v\n", ec)
		}
		return ec.ExitCode()
	}
	fmt.Fprintf(stderr, "kbkeeper: %v\n", err)
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
