package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"pubsweep/internal/config"
	"pubsweep/internal/logging"
	"pubsweep/internal/planner"
)

// Result is the outcome of scanning one chunk.
type Result struct {
	Chunk planner.Chunk
	// Actual is the row count of the first readable candidate, or 0.
	Actual int
	// Provenance is the artifact Actual was read from; empty when nothing
	// readable exists.
	Provenance string
	Convention string
	// ReadErrors holds errors for candidates that existed but could not be read.
	ReadErrors []error
}

// Unreadable reports whether output existed for the chunk but none of it could
// be read.
func (r Result) Unreadable() bool {
	return r.Provenance == "" && len(r.ReadErrors) > 0
}

// Counter returns the number of rows in an artifact.
type Counter func(path string) (int64, error)

// Scanner measures per-chunk output for one pipeline.
type Scanner struct {
	pipeline string
	locators []Locator
	count    Counter
	logger   *slog.Logger
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithCounter replaces the row counter.
func WithCounter(counter Counter) Option {
	return func(s *Scanner) {
		if counter != nil {
			s.count = counter
		}
	}
}

// New builds a scanner from the pipeline's naming conventions.
func New(pipeline config.Pipeline, logger *slog.Logger, opts ...Option) (*Scanner, error) {
	locators, err := NewLocators(pipeline)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scanner{
		pipeline: pipeline.Name,
		locators: locators,
		count:    CountRows,
		logger:   logger.With(logging.String(logging.FieldPipeline, pipeline.Name)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Locators returns the ordered naming conventions.
func (s *Scanner) Locators() []Locator {
	return append([]Locator(nil), s.locators...)
}

// Destination is where new output for chunk should be written: the path under
// the current convention. Config validation keeps the first convention
// applicable to every chunk.
func (s *Scanner) Destination(chunk planner.Chunk) (string, error) {
	current := s.locators[0]
	if !current.Applies(chunk) {
		return "", fmt.Errorf("convention %q does not apply to chunk %s", current.Name, chunk.ID())
	}
	return current.Path(chunk)
}

// Candidates lists the chunk's candidate paths in priority order.
func (s *Scanner) Candidates(chunk planner.Chunk) ([]string, error) {
	paths := make([]string, 0, len(s.locators))
	for _, loc := range s.locators {
		if !loc.Applies(chunk) {
			continue
		}
		path, err := loc.Path(chunk)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Scan returns the row count of the first existing candidate for the chunk.
// A candidate that exists but cannot be read counts as 0 and the next
// convention is tried.
func (s *Scanner) Scan(ctx context.Context, chunk planner.Chunk) (Result, error) {
	result := Result{Chunk: chunk}
	for _, loc := range s.locators {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !loc.Applies(chunk) {
			continue
		}
		path, err := loc.Path(chunk)
		if err != nil {
			return result, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			result.ReadErrors = append(result.ReadErrors, fmt.Errorf("stat %s: %w", path, err))
			continue
		}
		rows, err := s.count(path)
		if err != nil {
			s.logger.Warn("output artifact unreadable; trying next convention",
				logging.String(logging.FieldChunk, chunk.ID()),
				logging.String("path", path),
				logging.String("convention", loc.Name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "artifact_unreadable"),
				logging.String(logging.FieldErrorHint, "check the file is fully written and not truncated"),
			)
			result.ReadErrors = append(result.ReadErrors, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		result.Actual = int(rows)
		result.Provenance = path
		result.Convention = loc.Name
		return result, nil
	}
	return result, nil
}

// ScanAll scans chunks in order. It stops only on context cancellation or a
// template error; read failures are reported per chunk.
func (s *Scanner) ScanAll(ctx context.Context, chunks []planner.Chunk) ([]Result, error) {
	results := make([]Result, 0, len(chunks))
	for _, chunk := range chunks {
		res, err := s.Scan(ctx, chunk)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// PathIndex maps every candidate path of every chunk, under every applicable
// convention, back to the chunk identity.
func (s *Scanner) PathIndex(chunks []planner.Chunk) (map[string]string, error) {
	index := make(map[string]string, len(chunks)*len(s.locators))
	for _, chunk := range chunks {
		paths, err := s.Candidates(chunk)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			index[path] = chunk.ID()
		}
	}
	return index, nil
}
