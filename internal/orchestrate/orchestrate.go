// Package orchestrate runs orchestration passes.
//
// A pass reads every partition manifest, plans chunks, measures output per
// chunk, classifies completeness, removes chunks already in flight and emits
// the remainder as a packed submission file. The store is opened at the start
// of a pass and closed at its end; nothing is held across passes.
package orchestrate

import (
	"errors"
	"log/slog"
	"time"

	"pubsweep/internal/config"
	"pubsweep/internal/logging"
	"pubsweep/internal/registry"
	"pubsweep/internal/sched"
)

// ErrEmitLocked is returned when another pass holds the emit lock.
var ErrEmitLocked = errors.New("another pass is emitting retries")

// StoreOpener opens the work item store for one pass.
type StoreOpener func() (*registry.Store, error)

// Orchestrator runs passes for a configuration.
type Orchestrator struct {
	cfg       *config.Config
	openStore StoreOpener
	inspector sched.QueueInspector
	logger    *slog.Logger
	now       func() time.Time
	lockWait  time.Duration
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithInspector overrides the queue inspector built from config.
func WithInspector(inspector sched.QueueInspector) Option {
	return func(o *Orchestrator) {
		if inspector != nil {
			o.inspector = inspector
		}
	}
}

// WithStoreOpener overrides how the store is opened.
func WithStoreOpener(open StoreOpener) Option {
	return func(o *Orchestrator) {
		if open != nil {
			o.openStore = open
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLockWait bounds how long a pass waits for the emit lock.
func WithLockWait(wait time.Duration) Option {
	return func(o *Orchestrator) {
		o.lockWait = wait
	}
}

// New builds an orchestrator. The queue inspector is chosen by
// scheduler.kind unless overridden.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:       cfg,
		openStore: func() (*registry.Store, error) { return registry.Open(cfg) },
		logger:    logging.NewComponentLogger(logger, "orchestrate"),
		now:       time.Now,
		lockWait:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.inspector == nil {
		inspector, err := sched.New(cfg.Scheduler)
		if err != nil {
			return nil, err
		}
		o.inspector = inspector
	}
	return o, nil
}
