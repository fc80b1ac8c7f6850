package config

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
)

var (
	// ErrMissingRequired marks top-level settings without which no pass can run.
	ErrMissingRequired = errors.New("missing required configuration")
	// ErrUnknownPipeline is returned when a pipeline name is not configured.
	ErrUnknownPipeline = errors.New("unknown pipeline")
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePlanning(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePipelines(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePlanning() error {
	if c.Planning.ChunkSize <= 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/pubsweep/config.toml"
		}
		return fmt.Errorf("%w: planning.chunk_size must be positive. Set PUBSWEEP_CHUNK_SIZE or edit %s (create with 'pubsweep config init')", ErrMissingRequired, defaultPath)
	}
	if c.Planning.Tolerance < 0 {
		return errors.New("planning.tolerance must not be negative")
	}
	if c.Planning.Tolerance >= c.Planning.ChunkSize {
		return errors.New("planning.tolerance must be smaller than planning.chunk_size")
	}
	if c.Planning.LedgerTTLHours < 0 {
		return errors.New("planning.ledger_ttl_hours must not be negative")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputRoot == "" {
		return fmt.Errorf("%w: paths.output_root must be set (or PUBSWEEP_OUTPUT_ROOT)", ErrMissingRequired)
	}
	if c.Paths.ManifestDir == "" {
		return fmt.Errorf("%w: paths.manifest_dir must be set (or PUBSWEEP_MANIFEST_DIR)", ErrMissingRequired)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	switch c.Scheduler.Kind {
	case SchedulerSlurm, SchedulerNone:
	default:
		return fmt.Errorf("scheduler.kind: unsupported value %q (want slurm or none)", c.Scheduler.Kind)
	}
	if c.Packing.Parallelism < 0 {
		return errors.New("packing.parallelism must not be negative")
	}
	if c.Packing.MaxUnitsPerFile < 0 {
		return errors.New("packing.max_units_per_file must not be negative")
	}
	if c.Report.GroupPrefixLen < 0 {
		return errors.New("report.group_prefix_len must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validatePipelines() error {
	if len(c.Pipelines) == 0 {
		return fmt.Errorf("%w: at least one [[pipelines]] entry is required", ErrMissingRequired)
	}
	seen := make(map[string]struct{}, len(c.Pipelines))
	for i, p := range c.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("pipelines[%d].name must be set", i)
		}
		if strings.ContainsAny(p.Name, `/\ `) {
			return fmt.Errorf("pipelines[%d].name %q must not contain path separators or spaces", i, p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("pipelines[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Command == "" {
			return fmt.Errorf("pipelines[%d].command must be set for pipeline %q", i, p.Name)
		}
		if _, err := template.New(p.Name).Option("missingkey=error").Parse(p.Command); err != nil {
			return fmt.Errorf("pipelines[%d].command: %w", i, err)
		}
		for j, conv := range p.Conventions {
			if conv.Pattern == "" {
				return fmt.Errorf("pipelines[%d].conventions[%d].pattern must be set", i, j)
			}
			if _, err := template.New(conv.Name).Option("missingkey=error").Parse(conv.Pattern); err != nil {
				return fmt.Errorf("pipelines[%d].conventions[%d].pattern: %w", i, j, err)
			}
		}
		if len(p.Conventions) > 0 && p.Conventions[0].SoleChunkOnly {
			return fmt.Errorf("pipelines[%d].conventions[0] %q must not be sole_chunk_only; the first convention names retry output for every chunk", i, p.Conventions[0].Name)
		}
	}
	return nil
}
