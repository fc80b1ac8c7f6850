package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"pubsweep/internal/config"
	"pubsweep/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	ids        []string
	outputDir  string
}

// setupCLITestEnv writes a config file for a single "funders" pipeline and
// one partition "p1" of 2,500 items whose chunks hold the given row counts.
// A negative count leaves the chunk without output.
func setupCLITestEnv(t *testing.T, rows ...int) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	home := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)

	ids := testsupport.ItemIDs("pm", 0, 2500)
	testsupport.WriteManifest(t, cfg.Paths.ManifestDir, "p1", ids)
	outputDir := cfg.Pipelines[0].OutputDir
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("mkdir output: %v", err)
	}
	for i, n := range rows {
		if n < 0 {
			continue
		}
		start := i * cfg.Planning.ChunkSize
		testsupport.WriteParquet(t, chunkPath(outputDir, i), ids[start:start+n])
	}

	configPath := filepath.Join(home, "pubsweep.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, ids: ids, outputDir: outputDir}
}

func chunkPath(outputDir string, index int) string {
	return filepath.Join(outputDir, "p1", fmt.Sprintf("p1_c%04d.parquet", index))
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
