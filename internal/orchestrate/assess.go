package orchestrate

import (
	"context"
	"fmt"

	"pubsweep/internal/config"
	"pubsweep/internal/inflight"
	"pubsweep/internal/logging"
	"pubsweep/internal/manifest"
	"pubsweep/internal/planner"
	"pubsweep/internal/registry"
	"pubsweep/internal/report"
	"pubsweep/internal/scanner"
	"pubsweep/internal/verify"
)

// Partition is a manifest read during a pass together with its chunk plan.
type Partition struct {
	manifest.Partition
	Chunks []planner.Chunk
}

// PipelineResult is the per-chunk state of one pipeline.
type PipelineResult struct {
	Pipeline config.Pipeline
	Outcomes []verify.Outcome
	InFlight inflight.Set
	Skipped  []report.Skip

	scanner   *scanner.Scanner
	manifests map[string]string
}

// Incomplete returns outcomes classified partial or missing.
func (p PipelineResult) Incomplete() []verify.Outcome {
	var out []verify.Outcome
	for _, o := range p.Outcomes {
		if o.Status.Incomplete() {
			out = append(out, o)
		}
	}
	return out
}

// Assessment is the classified state of every selected pipeline.
type Assessment struct {
	Partitions []Partition
	Pipelines  []PipelineResult
}

// ReportInput converts the assessment for the status reporter.
func (a Assessment) ReportInput() report.Input {
	in := report.Input{Degraded: make(map[string]bool)}
	for _, p := range a.Pipelines {
		for _, o := range p.Outcomes {
			in.Entries = append(in.Entries, report.Entry{
				Pipeline: p.Pipeline.Name,
				Outcome:  o,
				InFlight: o.Status.Incomplete() && p.InFlight.Contains(o.Chunk.ID()),
			})
		}
		in.Skipped = append(in.Skipped, p.Skipped...)
		if p.InFlight.Degraded {
			in.Degraded[p.Pipeline.Name] = true
		}
	}
	return in
}

// Assess classifies every chunk of the selected pipelines without writing
// anything. An empty pipeline name selects all pipelines.
func (o *Orchestrator) Assess(ctx context.Context, pipelineName string) (Assessment, error) {
	pipelines, err := o.cfg.SelectPipelines(pipelineName)
	if err != nil {
		return Assessment{}, err
	}
	store, err := o.openStore()
	if err != nil {
		return Assessment{}, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	assessment, err := o.assess(ctx, store, pipelines, false)
	if err != nil {
		return assessment, err
	}
	if err := o.detect(ctx, store, &assessment); err != nil {
		return assessment, err
	}
	return assessment, nil
}

// assess reads manifests, plans and classifies. With register set, every
// partition's items are recorded in the store.
func (o *Orchestrator) assess(ctx context.Context, store *registry.Store, pipelines []config.Pipeline, register bool) (Assessment, error) {
	var assessment Assessment
	partitions, skipped, err := o.readPartitions(ctx, store, register)
	if err != nil {
		return assessment, err
	}
	assessment.Partitions = partitions

	for _, pipeline := range pipelines {
		if err := ctx.Err(); err != nil {
			return assessment, err
		}
		result, err := o.assessPipeline(ctx, store, pipeline, partitions)
		if err != nil {
			return assessment, err
		}
		for _, s := range skipped {
			s.Pipeline = pipeline.Name
			result.Skipped = append(result.Skipped, s)
		}
		assessment.Pipelines = append(assessment.Pipelines, result)
	}
	return assessment, nil
}

func (o *Orchestrator) readPartitions(ctx context.Context, store *registry.Store, register bool) ([]Partition, []report.Skip, error) {
	paths, err := manifest.Discover(o.cfg.Paths.ManifestDir)
	if err != nil {
		return nil, nil, err
	}
	var (
		partitions []Partition
		skipped    []report.Skip
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		p, err := manifest.Read(path)
		if err != nil {
			logging.WarnWithContext(o.logger, "skipping unreadable manifest", "manifest_unreadable",
				logging.String(logging.FieldPartition, manifest.PartitionID(path)),
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix or regenerate the manifest file"),
				logging.String(logging.FieldImpact, "partition excluded from this pass"),
			)
			skipped = append(skipped, report.Skip{Partition: manifest.PartitionID(path), Reason: err.Error()})
			continue
		}
		chunks, err := planner.PlanPartition(p, o.cfg.Planning.ChunkSize)
		if err != nil {
			return nil, nil, err
		}
		if register {
			inserted, err := store.Register(ctx, p.ID, p.Path, p.Items)
			if err != nil {
				return nil, nil, fmt.Errorf("register partition %s: %w", p.ID, err)
			}
			if inserted > 0 {
				o.logger.Info("registered new items",
					logging.String(logging.FieldPartition, p.ID),
					logging.Int64("items", inserted),
				)
			}
		}
		if p.Duplicates > 0 {
			o.logger.Debug("manifest contains duplicate ids",
				logging.String(logging.FieldPartition, p.ID),
				logging.Int("duplicates", p.Duplicates),
			)
		}
		partitions = append(partitions, Partition{Partition: p, Chunks: chunks})
	}
	return partitions, skipped, nil
}

func (o *Orchestrator) assessPipeline(ctx context.Context, store *registry.Store, pipeline config.Pipeline, partitions []Partition) (PipelineResult, error) {
	logger := o.logger.With(logging.String(logging.FieldPipeline, pipeline.Name))
	sc, err := scanner.New(pipeline, logger)
	if err != nil {
		return PipelineResult{}, err
	}
	result := PipelineResult{
		Pipeline:  pipeline,
		scanner:   sc,
		manifests: make(map[string]string, len(partitions)),
	}

	for _, p := range partitions {
		failed, err := store.FailedCounts(ctx, pipeline.Name, p.ID, o.cfg.Planning.ChunkSize)
		if err != nil {
			return result, err
		}
		scans, err := sc.ScanAll(ctx, p.Chunks)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logging.WarnWithContext(logger, "skipping partition; output scan failed", "scan_failed",
				logging.String(logging.FieldPartition, p.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the pipeline's naming convention templates"),
			)
			result.Skipped = append(result.Skipped, report.Skip{Pipeline: pipeline.Name, Partition: p.ID, Reason: err.Error()})
			continue
		}
		result.manifests[p.ID] = p.Path
		for _, res := range scans {
			result.Outcomes = append(result.Outcomes, verify.Classify(res, failed[res.Chunk.Index], o.cfg.Planning.Tolerance))
		}
	}
	return result, nil
}

// detect attaches in-flight markers to every pipeline of the assessment.
func (o *Orchestrator) detect(ctx context.Context, store *registry.Store, a *Assessment) error {
	detector := inflight.NewDetector(o.inspector, store, o.cfg.LedgerTTL(), o.logger, inflight.WithClock(o.now))
	for i := range a.Pipelines {
		p := &a.Pipelines[i]
		chunks := make([]planner.Chunk, 0)
		for _, outcome := range p.Incomplete() {
			chunks = append(chunks, outcome.Chunk)
		}
		index, err := p.scanner.PathIndex(chunks)
		if err != nil {
			return err
		}
		set, err := detector.Detect(ctx, p.Pipeline.Name, index)
		if err != nil {
			return fmt.Errorf("detect in-flight work for %s: %w", p.Pipeline.Name, err)
		}
		p.InFlight = set
	}
	return nil
}
