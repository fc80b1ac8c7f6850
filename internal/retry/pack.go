package retry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// Unit is a group of descriptors run concurrently as one scheduled job. It
// finishes when its slowest member does.
type Unit []Descriptor

// Line renders the unit as a single shell line: every command started in the
// background, then wait.
func (u Unit) Line() string {
	parts := make([]string, 0, len(u)+1)
	for _, d := range u {
		parts = append(parts, d.Command)
	}
	parts = append(parts, "wait")
	return strings.Join(parts, " & ")
}

// AvailableCPUs is the number of CPUs this process may run on, from its
// scheduler affinity mask.
func AvailableCPUs() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// Parallelism resolves the configured descriptors-per-unit. Zero or negative
// means one descriptor per available CPU.
func Parallelism(configured int) int {
	if configured > 0 {
		return configured
	}
	return AvailableCPUs()
}

// Pack groups descriptors into units of at most p members, in order.
func Pack(descriptors []Descriptor, p int) []Unit {
	if p <= 0 {
		p = 1
	}
	units := make([]Unit, 0, (len(descriptors)+p-1)/p)
	for start := 0; start < len(descriptors); start += p {
		end := min(start+p, len(descriptors))
		units = append(units, Unit(descriptors[start:end]))
	}
	return units
}

// Split breaks units into groups of at most maxUnits; maxUnits <= 0 keeps a
// single group.
func Split(units []Unit, maxUnits int) [][]Unit {
	if len(units) == 0 {
		return nil
	}
	if maxUnits <= 0 || len(units) <= maxUnits {
		return [][]Unit{units}
	}
	var groups [][]Unit
	for start := 0; start < len(units); start += maxUnits {
		groups = append(groups, units[start:min(start+maxUnits, len(units))])
	}
	return groups
}

// SubmissionPaths names the files for a batch split into n parts. A single
// part uses base unchanged.
func SubmissionPaths(base string, n int) []string {
	if n <= 1 {
		return []string{base}
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("%s.part%03d%s", stem, i+1, ext)
	}
	return paths
}

// WriteSubmission writes one line per unit to path. The file is written to a
// temporary name first and renamed into place so a reader never sees a
// partial submission.
func WriteSubmission(path string, units []Unit) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create submission dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create submission file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	w := bufio.NewWriter(tmp)
	for _, unit := range units {
		if _, err := w.WriteString(unit.Line() + "\n"); err != nil {
			_ = tmp.Close()
			cleanup()
			return fmt.Errorf("write submission: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("flush submission: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close submission: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod submission: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("install submission: %w", err)
	}
	return nil
}
