package deps

import (
	"os"
	"path/filepath"
	"testing"

	"pubsweep/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected status for blank command: %#v", results[2])
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.Kind = config.SchedulerSlurm
	cfg.Scheduler.SqueueBinary = "/opt/slurm/bin/squeue"
	cfg.Pipelines = []config.Pipeline{
		{Name: "funders", Command: "extract-funders {{.ManifestPath}}"},
		{Name: "templated", Command: "{{.Pipeline}} run"},
	}

	reqs := Requirements(&cfg)
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requirements, got %#v", reqs)
	}
	if reqs[0].Command != "/opt/slurm/bin/squeue" || reqs[0].Optional {
		t.Fatalf("unexpected squeue requirement %#v", reqs[0])
	}
	if reqs[1].Command != "extract-funders" || !reqs[1].Optional {
		t.Fatalf("unexpected pipeline requirement %#v", reqs[1])
	}
	if reqs[2].Command != "" {
		t.Fatalf("templated program should not be resolved, got %q", reqs[2].Command)
	}

	cfg.Scheduler.Kind = config.SchedulerNone
	if reqs := Requirements(&cfg); len(reqs) != 2 {
		t.Fatalf("expected no squeue requirement without a scheduler, got %#v", reqs)
	}
}

func TestCommandBinary(t *testing.T) {
	cases := map[string]string{
		`python3 -m extract {{.Output}}`: "python3",
		`"/opt/tools/run" {{.Output}}`:   "/opt/tools/run",
		"":                               "",
	}
	for in, want := range cases {
		if got := CommandBinary(in); got != want {
			t.Errorf("CommandBinary(%q) = %q, want %q", in, got, want)
		}
	}
}
