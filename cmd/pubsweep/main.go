package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"pubsweep/internal/config"
	"pubsweep/internal/orchestrate"
)

// Exit codes. Contention on the emit lock is distinct so cron wrappers can
// treat an overlapping pass as a skip rather than a failure.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitEmitLocked  = 3
	exitInterrupted = 130
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	code := exitCode(err)
	if err != nil && code != exitInterrupted {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, orchestrate.ErrEmitLocked):
		return exitEmitLocked
	case errors.Is(err, config.ErrMissingRequired), errors.Is(err, config.ErrUnknownPipeline):
		return exitConfig
	default:
		return exitFailure
	}
}
