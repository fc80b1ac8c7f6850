package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"pubsweep/internal/logging"
)

// WatchOptions controls recurring passes.
type WatchOptions struct {
	RunOptions
	// Schedule is a cron spec; descriptors such as "@every 1h" are accepted.
	Schedule string
	// Immediate runs one pass before waiting for the first tick.
	Immediate bool
	// OnPass receives every pass result.
	OnPass func(RunResult, error)
}

// Watch runs passes on a cron schedule until ctx is cancelled. A tick that
// arrives while a pass is still running is skipped.
func (o *Orchestrator) Watch(ctx context.Context, opts WatchOptions) error {
	spec := strings.TrimSpace(opts.Schedule)
	if spec == "" {
		spec = o.cfg.Watch.Schedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parse watch schedule %q: %w", spec, err)
	}
	if opts.OutPath != "" {
		return fmt.Errorf("watch writes one submission per pass; --out is not supported")
	}

	pass := func() {
		res, err := o.Run(ctx, opts.RunOptions)
		if err != nil && ctx.Err() == nil {
			o.logger.Error("orchestration pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "pass_failed"),
			)
		}
		if opts.OnPass != nil {
			opts.OnPass(res, err)
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(pass))

	if opts.Immediate {
		pass()
	}
	o.logger.Info("watching",
		logging.String("schedule", spec),
		logging.String("next", schedule.Next(o.now()).Format("2006-01-02 15:04:05")),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
