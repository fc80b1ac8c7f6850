package config

const (
	defaultStateDir          = "~/.local/share/pubsweep"
	defaultSubmissionDir     = "~/.local/share/pubsweep/submissions"
	defaultLedgerTTLHours    = 72
	defaultSchedulerKind     = SchedulerSlurm
	defaultSqueueBinary      = "squeue"
	defaultSchedulerTimeout  = 30
	defaultWatchSchedule     = "@every 1h"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultConventionName    = "current"
	defaultConventionPattern = "{{.Partition}}/{{.ChunkID}}.parquet"
)

// Scheduler kinds understood by the in-flight detector.
const (
	SchedulerSlurm = "slurm"
	SchedulerNone  = "none"
)

// Default returns a Config populated with repository defaults. Chunk size, output
// root, manifest directory and pipelines have no defaults and must be configured.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:      defaultStateDir,
			SubmissionDir: defaultSubmissionDir,
		},
		Planning: Planning{
			LedgerTTLHours: defaultLedgerTTLHours,
		},
		Scheduler: Scheduler{
			Kind:           defaultSchedulerKind,
			SqueueBinary:   defaultSqueueBinary,
			TimeoutSeconds: defaultSchedulerTimeout,
		},
		Watch: Watch{
			Schedule: defaultWatchSchedule,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
