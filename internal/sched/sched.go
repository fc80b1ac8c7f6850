// Package sched lists work currently queued or running on a batch scheduler.
//
// Each scheduler gets one QueueInspector implementation; every format-specific
// detail of talking to it stays behind that interface.
package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pubsweep/internal/config"
)

// ErrQueueUnavailable wraps every failure to query a scheduler.
var ErrQueueUnavailable = errors.New("scheduler queue unavailable")

// DescriptorRef is one active job and the text of the work it was submitted
// with.
type DescriptorRef struct {
	JobID string
	State string
	// Command is the job's command line as reported by the scheduler.
	Command string
	// Text is the resolved descriptor text: the command plus the contents of
	// any script or submission file it references.
	Text string
}

// QueueInspector enumerates the caller's active jobs.
type QueueInspector interface {
	Name() string
	ListActiveDescriptors(ctx context.Context) ([]DescriptorRef, error)
}

// New returns the inspector configured for the scheduler kind.
func New(cfg config.Scheduler) (QueueInspector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case config.SchedulerSlurm:
		return NewSlurm(cfg), nil
	case config.SchedulerNone, "":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler kind %q", cfg.Kind)
	}
}

// None is used when no scheduler is reachable from the orchestrating host.
// In-flight detection then relies on the retry ledger alone.
type None struct{}

func (None) Name() string { return config.SchedulerNone }

func (None) ListActiveDescriptors(context.Context) ([]DescriptorRef, error) {
	return nil, nil
}
