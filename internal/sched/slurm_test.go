package sched

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pubsweep/internal/config"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestParseSqueue(t *testing.T) {
	input := strings.Join([]string{
		"101|RUNNING|/jobs/unit.sh /subs/a.txt",
		"",
		"102|PENDING|run --flag=a|b",
		"103|COMPLETED|/jobs/done.sh",
	}, "\n")
	refs, err := ParseSqueue(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseSqueue: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 active jobs, got %+v", refs)
	}
	if refs[0].JobID != "101" || refs[0].State != "RUNNING" || refs[0].Command != "/jobs/unit.sh /subs/a.txt" {
		t.Fatalf("unexpected first ref %+v", refs[0])
	}
	if refs[1].Command != "run --flag=a|b" {
		t.Fatalf("expected separator kept inside command, got %q", refs[1].Command)
	}

	if _, err := ParseSqueue(strings.NewReader("garbage\n")); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestResolveDescriptorExpandsSubmissionFile(t *testing.T) {
	dir := t.TempDir()
	submission := filepath.Join(dir, "batch.txt")
	unit := "extract /m/p1.csv 1000 1000 /out/p1/p1_c0001.parquet & extract /m/p1.csv 2000 500 /out/p1/p1_c0002.parquet & wait"
	if err := os.WriteFile(submission, []byte(unit+"\n"), 0o644); err != nil {
		t.Fatalf("write submission: %v", err)
	}
	script := filepath.Join(dir, "unit.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsed -n \"${SLURM_ARRAY_TASK_ID}p\" "+submission+" | sh\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	text := ResolveDescriptor(script + " --array")
	if !strings.Contains(text, "/out/p1/p1_c0002.parquet") {
		t.Fatalf("expected submission lines in descriptor text, got %q", text)
	}
	if text := ResolveDescriptor("relative.sh"); text != "relative.sh" {
		t.Fatalf("expected relative command unchanged, got %q", text)
	}
}

func TestSlurmListActiveDescriptors(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "job.sh")
	if err := os.WriteFile(script, []byte("extract /out/p1/p1_c0003.parquet\n"), 0o644); err != nil {
		t.Fatalf("write job script: %v", err)
	}
	argsFile := filepath.Join(dir, "args")
	squeue := writeStub(t, dir, "squeue",
		`echo "$@" > `+argsFile+`
echo "7|RUNNING|`+script+`"
echo "8|CANCELLED|`+script+`"`)

	inspector, err := New(config.Scheduler{Kind: "slurm", SqueueBinary: squeue, User: "alice", TimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	refs, err := inspector.ListActiveDescriptors(context.Background())
	if err != nil {
		t.Fatalf("ListActiveDescriptors: %v", err)
	}
	if len(refs) != 1 || refs[0].JobID != "7" {
		t.Fatalf("unexpected refs %+v", refs)
	}
	if !strings.Contains(refs[0].Text, "p1_c0003.parquet") {
		t.Fatalf("expected resolved script text, got %q", refs[0].Text)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if got := strings.TrimSpace(string(args)); got != "--noheader --format=%i|%T|%o --user=alice" {
		t.Fatalf("unexpected squeue args %q", got)
	}
}

func TestSlurmFailureIsQueueUnavailable(t *testing.T) {
	dir := t.TempDir()
	squeue := writeStub(t, dir, "squeue", `echo "slurm_load_jobs error: Unable to contact slurm controller" >&2
exit 1`)
	inspector := NewSlurm(config.Scheduler{SqueueBinary: squeue})
	_, err := inspector.ListActiveDescriptors(context.Background())
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "Unable to contact") {
		t.Fatalf("expected stderr detail in error, got %v", err)
	}

	missing := NewSlurm(config.Scheduler{SqueueBinary: filepath.Join(dir, "absent")})
	if _, err := missing.ListActiveDescriptors(context.Background()); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable for missing binary, got %v", err)
	}
}

func TestNewSchedulerKinds(t *testing.T) {
	inspector, err := New(config.Scheduler{Kind: "none"})
	if err != nil {
		t.Fatalf("New none: %v", err)
	}
	refs, err := inspector.ListActiveDescriptors(context.Background())
	if err != nil || len(refs) != 0 {
		t.Fatalf("expected empty result from none, got %v %v", refs, err)
	}
	if _, err := New(config.Scheduler{Kind: "pbs"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
