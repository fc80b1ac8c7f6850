package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// envSource resolves PUBSWEEP_* overrides from the process environment first,
// then from the optional env file.
type envSource struct {
	file map[string]string
}

func (e envSource) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), true
	}
	if value, ok := e.file[key]; ok {
		return strings.TrimSpace(value), true
	}
	return "", false
}

func (c *Config) normalize() error {
	env, err := c.loadEnvFile()
	if err != nil {
		return err
	}
	if err := c.normalizePaths(env); err != nil {
		return err
	}
	if err := c.normalizePlanning(env); err != nil {
		return err
	}
	c.normalizeScheduler(env)
	c.normalizeLogging()
	if err := c.normalizePipelines(); err != nil {
		return err
	}
	return nil
}

func (c *Config) loadEnvFile() (envSource, error) {
	path := strings.TrimSpace(c.Paths.EnvFile)
	if path == "" {
		if value, ok := os.LookupEnv("PUBSWEEP_ENV_FILE"); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path == "" {
		return envSource{}, nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return envSource{}, fmt.Errorf("paths.env_file: %w", err)
	}
	c.Paths.EnvFile = expanded
	values, err := godotenv.Read(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return envSource{}, nil
		}
		return envSource{}, fmt.Errorf("read env file %s: %w", expanded, err)
	}
	return envSource{file: values}, nil
}

func (c *Config) normalizePaths(env envSource) error {
	if strings.TrimSpace(c.Paths.OutputRoot) == "" {
		if value, ok := env.lookup("PUBSWEEP_OUTPUT_ROOT"); ok {
			c.Paths.OutputRoot = value
		}
	}
	if strings.TrimSpace(c.Paths.ManifestDir) == "" {
		if value, ok := env.lookup("PUBSWEEP_MANIFEST_DIR"); ok {
			c.Paths.ManifestDir = value
		}
	}
	var err error
	if c.Paths.ManifestDir, err = expandPath(strings.TrimSpace(c.Paths.ManifestDir)); err != nil {
		return fmt.Errorf("paths.manifest_dir: %w", err)
	}
	if c.Paths.OutputRoot, err = expandPath(strings.TrimSpace(c.Paths.OutputRoot)); err != nil {
		return fmt.Errorf("paths.output_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SubmissionDir) == "" {
		c.Paths.SubmissionDir = filepath.Join(c.Paths.StateDir, "submissions")
	}
	if c.Paths.SubmissionDir, err = expandPath(c.Paths.SubmissionDir); err != nil {
		return fmt.Errorf("paths.submission_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePlanning(env envSource) error {
	if c.Planning.ChunkSize == 0 {
		if value, ok := env.lookup("PUBSWEEP_CHUNK_SIZE"); ok && value != "" {
			size, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("PUBSWEEP_CHUNK_SIZE: %w", err)
			}
			c.Planning.ChunkSize = size
		}
	}
	return nil
}

func (c *Config) normalizeScheduler(env envSource) {
	c.Scheduler.Kind = strings.ToLower(strings.TrimSpace(c.Scheduler.Kind))
	if c.Scheduler.Kind == "" {
		c.Scheduler.Kind = defaultSchedulerKind
	}
	c.Scheduler.User = strings.TrimSpace(c.Scheduler.User)
	if c.Scheduler.User == "" {
		if value, ok := env.lookup("PUBSWEEP_SCHEDULER_USER"); ok {
			c.Scheduler.User = value
		}
	}
	c.Scheduler.SqueueBinary = strings.TrimSpace(c.Scheduler.SqueueBinary)
	if c.Scheduler.SqueueBinary == "" {
		c.Scheduler.SqueueBinary = defaultSqueueBinary
	}
	if c.Scheduler.TimeoutSeconds <= 0 {
		c.Scheduler.TimeoutSeconds = defaultSchedulerTimeout
	}
	c.Watch.Schedule = strings.TrimSpace(c.Watch.Schedule)
	if c.Watch.Schedule == "" {
		c.Watch.Schedule = defaultWatchSchedule
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizePipelines() error {
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Command = strings.TrimSpace(p.Command)
		if strings.TrimSpace(p.OutputDir) == "" && c.Paths.OutputRoot != "" && p.Name != "" {
			p.OutputDir = filepath.Join(c.Paths.OutputRoot, p.Name)
		}
		var err error
		if p.OutputDir, err = expandPath(strings.TrimSpace(p.OutputDir)); err != nil {
			return fmt.Errorf("pipelines[%d].output_dir: %w", i, err)
		}
		if len(p.Conventions) == 0 {
			p.Conventions = []Convention{{Name: defaultConventionName, Pattern: defaultConventionPattern}}
		}
		for j := range p.Conventions {
			p.Conventions[j].Name = strings.TrimSpace(p.Conventions[j].Name)
			p.Conventions[j].Pattern = strings.TrimSpace(p.Conventions[j].Pattern)
			if p.Conventions[j].Name == "" {
				p.Conventions[j].Name = fmt.Sprintf("convention-%d", j)
			}
		}
	}
	return nil
}
