// Package manifest reads partition manifests: ordered lists of work item IDs,
// one file per partition.
package manifest

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrManifest classifies manifest failures. Callers skip the partition and continue.
var ErrManifest = errors.New("manifest unreadable")

// ManifestError reports a partition whose manifest could not be read.
type ManifestError struct {
	Partition string
	Path      string
	Err       error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest %s (%s): %v", e.Partition, e.Path, e.Err)
}

func (e *ManifestError) Unwrap() []error { return []error{ErrManifest, e.Err} }

// Partition is one immutable source grouping of work items.
type Partition struct {
	ID    string
	Path  string
	Items []string
	// TotalBytes sums the optional size column; zero when the manifest has none.
	TotalBytes int64
	// Duplicates counts repeated IDs dropped while reading.
	Duplicates int
}

// Len returns the number of items in the partition.
func (p Partition) Len() int { return len(p.Items) }

var extensions = []string{".csv.gz", ".tsv.gz", ".txt.gz", ".csv", ".tsv", ".txt"}

var headerNames = map[string]struct{}{
	"id":      {},
	"item_id": {},
	"pmid":    {},
}

// PartitionID derives the partition identifier from a manifest file name.
func PartitionID(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Discover lists manifest files in dir sorted by partition ID.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isManifestName(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Slice(paths, func(i, j int) bool {
		return PartitionID(paths[i]) < PartitionID(paths[j])
	})
	return paths, nil
}

// Find returns the manifest path for a partition ID.
func Find(dir, partitionID string) (string, error) {
	paths, err := Discover(dir)
	if err != nil {
		return "", err
	}
	for _, path := range paths {
		if PartitionID(path) == partitionID {
			return path, nil
		}
	}
	return "", &ManifestError{Partition: partitionID, Path: dir, Err: os.ErrNotExist}
}

func isManifestName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Read loads a manifest. The first column is the item ID; an optional second
// column carries the item size. A leading header row is skipped.
func Read(path string) (Partition, error) {
	partition := Partition{ID: PartitionID(path), Path: path}
	wrap := func(err error) error {
		return &ManifestError{Partition: partition.ID, Path: path, Err: err}
	}

	file, err := os.Open(path)
	if err != nil {
		return Partition{}, wrap(err)
	}
	defer file.Close()

	var reader io.Reader = bufio.NewReader(file)
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return Partition{}, wrap(err)
		}
		defer gz.Close()
		reader = gz
		lower = strings.TrimSuffix(lower, ".gz")
	}

	records := csv.NewReader(reader)
	records.FieldsPerRecord = -1
	records.ReuseRecord = true
	records.TrimLeadingSpace = true
	if strings.HasSuffix(lower, ".tsv") || strings.HasSuffix(lower, ".txt") {
		records.Comma = '\t'
	}

	seen := make(map[string]struct{})
	line := 0
	for {
		record, err := records.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Partition{}, wrap(err)
		}
		line++
		if len(record) == 0 {
			continue
		}
		id := strings.TrimSpace(record[0])
		if id == "" {
			continue
		}
		if line == 1 {
			if _, isHeader := headerNames[strings.ToLower(id)]; isHeader {
				continue
			}
		}
		if _, dup := seen[id]; dup {
			partition.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		partition.Items = append(partition.Items, id)
		if len(record) > 1 {
			if size, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64); err == nil {
				partition.TotalBytes += size
			}
		}
	}
	return partition, nil
}
