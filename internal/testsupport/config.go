package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"pubsweep/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defines a single pipeline named "funders" with the default naming
// convention, no scheduler and a chunk size of 1000.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ManifestDir = filepath.Join(base, "manifests")
	cfgVal.Paths.OutputRoot = filepath.Join(base, "out")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.SubmissionDir = filepath.Join(base, "state", "submissions")
	cfgVal.Planning.ChunkSize = 1000
	cfgVal.Packing.Parallelism = 2
	cfgVal.Scheduler.Kind = config.SchedulerNone
	cfgVal.Pipelines = []config.Pipeline{{
		Name:      "funders",
		OutputDir: filepath.Join(base, "out", "funders"),
		Command:   "extract-funders {{.ManifestPath}} {{.Offset}} {{.Length}} {{.Output}}",
		Conventions: []config.Convention{{
			Name:    "current",
			Pattern: "{{.Partition}}/{{.ChunkID}}.parquet",
		}},
	}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{cfgVal.Paths.ManifestDir, cfgVal.Paths.OutputRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithChunkSize overrides the planning chunk size.
func WithChunkSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Planning.ChunkSize = size
	}
}

// WithTolerance overrides the completeness tolerance.
func WithTolerance(tolerance int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Planning.Tolerance = tolerance
	}
}

// WithConventions replaces the naming conventions of every pipeline.
func WithConventions(conventions ...config.Convention) ConfigOption {
	return func(b *configBuilder) {
		for i := range b.cfg.Pipelines {
			b.cfg.Pipelines[i].Conventions = append([]config.Convention(nil), conventions...)
		}
	}
}

// WithStubbedBinaries writes executables for the provided names and prepends
// them to PATH. Each entry maps a binary name to its shell script body.
func WithStubbedBinaries(scripts map[string]string) ConfigOption {
	return func(b *configBuilder) {
		binDir := StubBinaries(b.t, b.baseDir, scripts)
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// StubBinaries writes shell scripts under baseDir/bin and returns that directory.
func StubBinaries(t testing.TB, baseDir string, scripts map[string]string) string {
	t.Helper()

	binDir := filepath.Join(baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	for name, body := range scripts {
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}
	return binDir
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
