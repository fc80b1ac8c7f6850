package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ManifestDir   string `toml:"manifest_dir"`
	OutputRoot    string `toml:"output_root"`
	StateDir      string `toml:"state_dir"`
	SubmissionDir string `toml:"submission_dir"`
	EnvFile       string `toml:"env_file"`
}

// Planning contains chunk sizing and completeness settings.
type Planning struct {
	// ChunkSize is the number of items per chunk. It must be small enough that one
	// chunk finishes inside the cluster's per-job wall-clock limit.
	ChunkSize int `toml:"chunk_size"`
	// Tolerance is the absolute shortfall still classified complete. Default: 0
	Tolerance int `toml:"tolerance"`
	// LedgerTTLHours bounds how long an unresolved ledger entry suppresses
	// re-emission. Unset means 72; 0 keeps entries open until resolved.
	LedgerTTLHours int `toml:"ledger_ttl_hours"`
}

// Packing controls how retry descriptors are grouped into execution units.
type Packing struct {
	// Parallelism is the number of descriptors per unit. 0 uses the CPUs available
	// to this process.
	Parallelism     int `toml:"parallelism"`
	MaxUnitsPerFile int `toml:"max_units_per_file"`
}

// Scheduler contains batch scheduler introspection settings.
type Scheduler struct {
	Kind           string `toml:"kind"`
	User           string `toml:"user"`
	SqueueBinary   string `toml:"squeue_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Report contains status report settings.
type Report struct {
	GroupPrefixLen     int    `toml:"group_prefix_len"`
	PrometheusTextfile string `toml:"prometheus_textfile"`
}

// Watch contains the schedule for recurring orchestration passes.
type Watch struct {
	Schedule string `toml:"schedule"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Convention is one output naming generation. Pattern is a text/template rendered
// relative to the pipeline output directory.
type Convention struct {
	Name          string `toml:"name"`
	Pattern       string `toml:"pattern"`
	SoleChunkOnly bool   `toml:"sole_chunk_only"`
}

// Pipeline describes one independent batch pipeline.
type Pipeline struct {
	Name        string       `toml:"name"`
	OutputDir   string       `toml:"output_dir"`
	Command     string       `toml:"command"`
	Conventions []Convention `toml:"conventions"`
}

// Config encapsulates all configuration values for pubsweep.
//
// Configuration sections by subsystem:
//   - Paths: manifests, pipeline outputs, state database, submission files
//   - Planning: chunk size, completeness tolerance, retry ledger lifetime
//   - Packing: execution unit parallelism
//   - Scheduler: queue introspection backend
//   - Report: status grouping and metrics export
//   - Watch: cron schedule for recurring passes
//   - Logging: log format and level
//   - Pipelines: per-pipeline command templates and naming conventions
type Config struct {
	Paths     Paths      `toml:"paths"`
	Planning  Planning   `toml:"planning"`
	Packing   Packing    `toml:"packing"`
	Scheduler Scheduler  `toml:"scheduler"`
	Report    Report     `toml:"report"`
	Watch     Watch      `toml:"watch"`
	Logging   Logging    `toml:"logging"`
	Pipelines []Pipeline `toml:"pipelines"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pubsweep/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("pubsweep.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and submission directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.SubmissionDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorePath returns the location of the work item database.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.StateDir, "registry.db")
}

// EmitLockPath returns the lock file guarding retry emission.
func (c *Config) EmitLockPath() string {
	return filepath.Join(c.Paths.StateDir, "emit.lock")
}

// Pipeline returns the named pipeline.
func (c *Config) Pipeline(name string) (Pipeline, bool) {
	name = strings.TrimSpace(name)
	for _, p := range c.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return Pipeline{}, false
}

// SelectPipelines returns the named pipeline, or all pipelines when name is empty.
func (c *Config) SelectPipelines(name string) ([]Pipeline, error) {
	if strings.TrimSpace(name) == "" {
		return append([]Pipeline(nil), c.Pipelines...), nil
	}
	p, ok := c.Pipeline(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	return []Pipeline{p}, nil
}

// LedgerTTL is how long an unresolved retry ledger entry counts as in flight.
// Zero means no age bound.
func (c *Config) LedgerTTL() time.Duration {
	return time.Duration(c.Planning.LedgerTTLHours) * time.Hour
}

// SchedulerTimeout bounds a single queue introspection call.
func (c *Config) SchedulerTimeout() time.Duration {
	return time.Duration(c.Scheduler.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
