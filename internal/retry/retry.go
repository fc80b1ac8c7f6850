// Package retry turns incomplete chunks into self-contained work descriptors
// and packs them into fan-out/fan-in execution units.
package retry

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"pubsweep/internal/config"
	"pubsweep/internal/inflight"
	"pubsweep/internal/planner"
	"pubsweep/internal/verify"
)

// CommandData is the value rendered by a pipeline's command template.
type CommandData struct {
	Pipeline     string
	ManifestPath string
	Partition    string
	ChunkID      string
	Index        int
	Offset       int
	Length       int
	End          int
	Output       string
}

// Descriptor is one independently re-runnable command for one chunk.
type Descriptor struct {
	Pipeline     string
	Chunk        planner.Chunk
	ManifestPath string
	Output       string
	Command      string
	// Status is the classification that caused the retry.
	Status verify.Status
}

// ChunkID returns the descriptor's chunk identity.
func (d Descriptor) ChunkID() string { return d.Chunk.ID() }

// Candidate is a classified chunk together with what a descriptor needs.
type Candidate struct {
	Outcome      verify.Outcome
	ManifestPath string
	Output       string
}

// Generator renders descriptors for one pipeline.
type Generator struct {
	pipeline string
	tmpl     *template.Template
}

// NewGenerator parses the pipeline's command template.
func NewGenerator(pipeline config.Pipeline) (*Generator, error) {
	tmpl, err := template.New(pipeline.Name).Option("missingkey=error").Parse(pipeline.Command)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q command: %w", pipeline.Name, err)
	}
	return &Generator{pipeline: pipeline.Name, tmpl: tmpl}, nil
}

// Generate returns descriptors for candidates that are partial or missing and
// not in flight. Each chunk appears at most once and results are sorted by
// chunk identity.
func (g *Generator) Generate(candidates []Candidate, inFlight inflight.Set) ([]Descriptor, error) {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Descriptor, 0, len(candidates))
	for _, c := range candidates {
		chunk := c.Outcome.Chunk
		id := chunk.ID()
		if !c.Outcome.Status.Incomplete() || inFlight.Contains(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		command, err := g.render(CommandData{
			Pipeline:     g.pipeline,
			ManifestPath: c.ManifestPath,
			Partition:    chunk.Partition,
			ChunkID:      id,
			Index:        chunk.Index,
			Offset:       chunk.Offset,
			Length:       chunk.Length,
			End:          chunk.End(),
			Output:       c.Output,
		})
		if err != nil {
			return nil, fmt.Errorf("render descriptor for %s: %w", id, err)
		}
		out = append(out, Descriptor{
			Pipeline:     g.pipeline,
			Chunk:        chunk,
			ManifestPath: c.ManifestPath,
			Output:       c.Output,
			Command:      command,
			Status:       c.Outcome.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return lessChunk(out[i].Chunk, out[j].Chunk) })
	return out, nil
}

func (g *Generator) render(data CommandData) (string, error) {
	var b strings.Builder
	if err := g.tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	command := strings.TrimSpace(b.String())
	if strings.ContainsAny(command, "\n\r") {
		return "", fmt.Errorf("command spans multiple lines")
	}
	return command, nil
}

func lessChunk(a, b planner.Chunk) bool {
	if a.Partition != b.Partition {
		return a.Partition < b.Partition
	}
	return a.Index < b.Index
}

// Batch is the descriptors emitted by one orchestration pass.
type Batch struct {
	ID          string
	CreatedAt   time.Time
	Descriptors []Descriptor
}

// NewBatch assigns a fresh batch ID. Descriptors are ordered by pipeline and
// then chunk identity; duplicates of a (pipeline, chunk) pair are dropped.
func NewBatch(descriptors []Descriptor) Batch {
	seen := make(map[string]struct{}, len(descriptors))
	unique := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		key := d.Pipeline + "\x00" + d.ChunkID()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, d)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].Pipeline != unique[j].Pipeline {
			return unique[i].Pipeline < unique[j].Pipeline
		}
		return lessChunk(unique[i].Chunk, unique[j].Chunk)
	})
	return Batch{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Descriptors: unique,
	}
}

// Len is the number of descriptors in the batch.
func (b Batch) Len() int { return len(b.Descriptors) }
