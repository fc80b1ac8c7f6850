// Package inflight decides which chunks already have work queued or running.
//
// Two sources are combined with OR: the batch scheduler's queue and the retry
// ledger of descriptors emitted by earlier passes. When the queue cannot be
// read, detection continues with the ledger alone and the result says so.
package inflight

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pubsweep/internal/logging"
	"pubsweep/internal/sched"
)

// Source identifies where an in-flight signal came from.
type Source string

const (
	SourceQueue  Source = "queue"
	SourceLedger Source = "ledger"
)

// LedgerReader exposes unresolved retry ledger entries.
type LedgerReader interface {
	OpenChunks(ctx context.Context, pipeline string, since time.Time) (map[string]bool, error)
}

// Set is the in-flight markers of one pipeline for one pass.
type Set struct {
	markers map[string][]Source
	// Degraded is true when the queue could not be read.
	Degraded bool
	QueueErr error
}

// NewSet returns a set holding the given chunks, attributed to source.
func NewSet(source Source, chunkIDs ...string) Set {
	s := Set{markers: make(map[string][]Source, len(chunkIDs))}
	for _, id := range chunkIDs {
		s.add(id, source)
	}
	return s
}

func (s *Set) add(chunkID string, source Source) {
	if s.markers == nil {
		s.markers = make(map[string][]Source)
	}
	for _, existing := range s.markers[chunkID] {
		if existing == source {
			return
		}
	}
	s.markers[chunkID] = append(s.markers[chunkID], source)
}

// Contains reports whether chunkID is in flight.
func (s Set) Contains(chunkID string) bool {
	return len(s.markers[chunkID]) > 0
}

// Sources lists why chunkID is considered in flight.
func (s Set) Sources(chunkID string) []Source {
	return append([]Source(nil), s.markers[chunkID]...)
}

// Len is the number of in-flight chunks.
func (s Set) Len() int { return len(s.markers) }

// IDs returns the in-flight chunk IDs in sorted order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s.markers))
	for id := range s.markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Detector combines queue and ledger sources. One Detector serves one pass:
// the queue is listed at most once and reused for every pipeline.
type Detector struct {
	inspector sched.QueueInspector
	ledger    LedgerReader
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	listed   bool
	refs     []sched.DescriptorRef
	queueErr error
}

// Option customizes a Detector.
type Option func(*Detector)

// WithClock overrides the time source used for ledger expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDetector builds a detector. A nil inspector disables queue introspection;
// ttl <= 0 disables the ledger age bound.
func NewDetector(inspector sched.QueueInspector, ledger LedgerReader, ttl time.Duration, logger *slog.Logger, opts ...Option) *Detector {
	if inspector == nil {
		inspector = sched.None{}
	}
	d := &Detector{
		inspector: inspector,
		ledger:    ledger,
		ttl:       ttl,
		logger:    logging.NewComponentLogger(logger, "inflight"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the in-flight chunks of pipeline. pathIndex maps every
// candidate output path of the chunks under consideration to its chunk ID.
// Only ledger failures are returned as errors; a queue failure degrades the
// result.
func (d *Detector) Detect(ctx context.Context, pipeline string, pathIndex map[string]string) (Set, error) {
	set := Set{markers: make(map[string][]Source)}

	refs, err := d.descriptors(ctx)
	if err != nil {
		set.Degraded = true
		set.QueueErr = err
	} else {
		for _, id := range MatchDescriptors(refs, pathIndex) {
			set.add(id, SourceQueue)
		}
	}

	if d.ledger != nil {
		var since time.Time
		if d.ttl > 0 {
			since = d.now().Add(-d.ttl)
		}
		open, err := d.ledger.OpenChunks(ctx, pipeline, since)
		if err != nil {
			return set, err
		}
		for id := range open {
			set.add(id, SourceLedger)
		}
	}
	return set, nil
}

func (d *Detector) descriptors(ctx context.Context) ([]sched.DescriptorRef, error) {
	if d.listed {
		return d.refs, d.queueErr
	}
	d.listed = true
	d.refs, d.queueErr = d.inspector.ListActiveDescriptors(ctx)
	if d.queueErr != nil {
		if errors.Is(d.queueErr, context.Canceled) {
			return nil, d.queueErr
		}
		logging.WarnWithContext(d.logger, "queue introspection failed; using retry ledger only", "queue_unavailable",
			logging.String("scheduler", d.inspector.Name()),
			logging.Error(d.queueErr),
			logging.String(logging.FieldErrorHint, "check the scheduler CLI is on PATH and the controller is reachable"),
			logging.String(logging.FieldImpact, "chunks queued outside pubsweep may be emitted again"),
		)
		return nil, d.queueErr
	}
	d.logger.Debug("queue listed",
		logging.String("scheduler", d.inspector.Name()),
		logging.Int("active_jobs", len(d.refs)),
	)
	return d.refs, nil
}

// MatchDescriptors extracts output paths from descriptor text and maps them
// to chunk IDs through pathIndex. Results are sorted and unique.
func MatchDescriptors(refs []sched.DescriptorRef, pathIndex map[string]string) []string {
	found := make(map[string]struct{})
	for _, ref := range refs {
		text := ref.Text
		if text == "" {
			text = ref.Command
		}
		for _, token := range pathTokens(text) {
			if id, ok := pathIndex[token]; ok {
				found[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pathTokens splits descriptor text into candidate absolute paths, including
// values of --flag=path arguments.
func pathTokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ';', '&', '|', '(', ')', '<', '>':
			return true
		}
		return false
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if eq := strings.IndexByte(field, '='); eq >= 0 {
			field = field[eq+1:]
		}
		field = strings.Trim(field, `"'`)
		if !filepath.IsAbs(field) {
			continue
		}
		out = append(out, filepath.Clean(field))
	}
	return out
}
