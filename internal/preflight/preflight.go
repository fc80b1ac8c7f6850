package preflight

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"pubsweep/internal/config"
	"pubsweep/internal/deps"
	"pubsweep/internal/manifest"
	"pubsweep/internal/registry"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckManifestDir(cfg.Paths.ManifestDir))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir, unix.R_OK|unix.W_OK|unix.X_OK))
	results = append(results, CheckDirectoryAccess("Submission directory", cfg.Paths.SubmissionDir, unix.R_OK|unix.W_OK|unix.X_OK))
	for _, p := range cfg.Pipelines {
		results = append(results, CheckDirectoryAccess("Output "+p.Name, p.OutputDir, unix.R_OK|unix.X_OK))
	}
	results = append(results, CheckStore(ctx, cfg))
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		results = append(results, fromDependency(status))
	}
	return results
}

// CheckDirectoryAccess verifies that the directory exists and grants mode
// (a combination of unix.R_OK, unix.W_OK and unix.X_OK).
func CheckDirectoryAccess(name, path string, mode uint32) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	access := "read ok"
	if mode&unix.W_OK != 0 {
		access = "read/write ok"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, access)}
}

// CheckManifestDir verifies the manifest directory is readable and holds at
// least one manifest.
func CheckManifestDir(path string) Result {
	const name = "Manifest directory"
	access := CheckDirectoryAccess(name, path, unix.R_OK|unix.X_OK)
	if !access.Passed {
		return access
	}
	paths, err := manifest.Discover(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if len(paths) == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (no manifests found)", path)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d manifests)", path, len(paths))}
}

// CheckStore opens the work item store, which also applies pending
// migrations, and reports how many partitions are registered.
func CheckStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Work item store"
	store, err := registry.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.StorePath(), err)}
	}
	defer store.Close()
	partitions, err := store.Partitions(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.StorePath(), err)}
	}
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.StorePath(), err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema %s, %d partitions registered)", cfg.StorePath(), version, len(partitions))}
}

func fromDependency(status deps.Status) Result {
	detail := status.Command
	if !status.Available {
		detail = status.Detail
	}
	if status.Description != "" {
		detail = fmt.Sprintf("%s (%s)", detail, status.Description)
	}
	return Result{
		Name:     "Binary " + status.Name,
		Passed:   status.Available,
		Optional: status.Optional,
		Detail:   detail,
	}
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}
