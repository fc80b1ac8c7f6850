// Package deps reports whether the external binaries a configuration relies
// on can be found.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"pubsweep/internal/config"
)

// Requirement defines an external binary pubsweep or a pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Requirements lists the binaries a configuration needs: the queue client
// when a scheduler is configured, and the program each pipeline command
// starts with. Pipeline binaries are optional on the orchestrating host since
// descriptors usually run on compute nodes.
func Requirements(cfg *config.Config) []Requirement {
	var reqs []Requirement
	if cfg.Scheduler.Kind == config.SchedulerSlurm {
		reqs = append(reqs, Requirement{
			Name:        "squeue",
			Command:     cfg.Scheduler.SqueueBinary,
			Description: "Required for in-flight detection",
		})
	}
	for _, p := range cfg.Pipelines {
		reqs = append(reqs, Requirement{
			Name:        p.Name,
			Command:     CommandBinary(p.Command),
			Description: "Pipeline command",
			Optional:    true,
		})
	}
	return reqs
}

// CommandBinary returns the first word of a command template, or "" when the
// program itself is templated.
func CommandBinary(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 || strings.Contains(fields[0], "{{") {
		return ""
	}
	return strings.Trim(fields[0], `"'`)
}
