package sched

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"pubsweep/internal/config"
)

var commandContext = exec.CommandContext

const (
	squeueFormat = "%i|%T|%o"
	// maxReferencedFile bounds how much of a referenced script or submission
	// file is read into descriptor text.
	maxReferencedFile = 8 << 20
)

// terminalStates are job states squeue may still print that no longer
// represent queued or running work.
var terminalStates = map[string]struct{}{
	"COMPLETED":     {},
	"CANCELLED":     {},
	"FAILED":        {},
	"TIMEOUT":       {},
	"NODE_FAIL":     {},
	"OUT_OF_MEMORY": {},
	"PREEMPTED":     {},
	"BOOT_FAIL":     {},
	"DEADLINE":      {},
}

// Slurm inspects the queue with squeue.
type Slurm struct {
	binary  string
	user    string
	timeout time.Duration
}

// NewSlurm builds a Slurm inspector from scheduler settings.
func NewSlurm(cfg config.Scheduler) *Slurm {
	binary := strings.TrimSpace(cfg.SqueueBinary)
	if binary == "" {
		binary = "squeue"
	}
	return &Slurm{
		binary:  binary,
		user:    strings.TrimSpace(cfg.User),
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (s *Slurm) Name() string { return config.SchedulerSlurm }

// Binary returns the squeue executable in use.
func (s *Slurm) Binary() string { return s.binary }

// ListActiveDescriptors runs squeue and resolves every active job's command to
// descriptor text.
func (s *Slurm) ListActiveDescriptors(ctx context.Context) ([]DescriptorRef, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	args := []string{"--noheader", "--format=" + squeueFormat}
	if s.user != "" {
		args = append(args, "--user="+s.user)
	}

	cmd := commandContext(ctx, s.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrQueueUnavailable, s.binary, err, detail)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrQueueUnavailable, s.binary, err)
	}

	refs, err := ParseSqueue(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: parse squeue output: %v", ErrQueueUnavailable, err)
	}
	for i := range refs {
		refs[i].Text = ResolveDescriptor(refs[i].Command)
	}
	return refs, nil
}

// ParseSqueue parses `squeue --noheader --format=%i|%T|%o` output. Lines for
// jobs in a terminal state are dropped. The command column may itself contain
// the separator.
func ParseSqueue(r io.Reader) ([]DescriptorRef, error) {
	var refs []DescriptorRef
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		parts := strings.SplitN(text, "|", 3)
		if len(parts) != 3 {
			return refs, fmt.Errorf("line %d: expected 3 fields, got %q", line, text)
		}
		state := strings.ToUpper(strings.TrimSpace(parts[1]))
		if _, done := terminalStates[state]; done {
			continue
		}
		refs = append(refs, DescriptorRef{
			JobID:   strings.TrimSpace(parts[0]),
			State:   state,
			Command: strings.TrimSpace(parts[2]),
		})
	}
	return refs, scanner.Err()
}

// ResolveDescriptor returns the command followed by the contents of every
// regular file it names. A job whose command is a batch script resolves to the
// script body; a script that points at a submission file resolves to every
// unit line of that file.
func ResolveDescriptor(command string) string {
	var b strings.Builder
	b.WriteString(command)
	seen := make(map[string]struct{})
	queue := strings.Fields(command)
	// Follow references one level past the command so wrapper scripts that
	// name a submission file are expanded too.
	for depth := 0; depth < 2 && len(queue) > 0; depth++ {
		var next []string
		for _, token := range queue {
			path := strings.Trim(token, `"'`)
			if !filepath.IsAbs(path) {
				continue
			}
			path = filepath.Clean(path)
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}
			content, ok := readReferenced(path)
			if !ok {
				continue
			}
			b.WriteByte('\n')
			b.WriteString(content)
			next = append(next, strings.Fields(content)...)
		}
		queue = next
	}
	return b.String()
}

func readReferenced(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxReferencedFile {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil || bytes.IndexByte(data, 0) >= 0 {
		return "", false
	}
	return string(data), true
}
