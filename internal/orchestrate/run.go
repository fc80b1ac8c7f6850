package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"pubsweep/internal/logging"
	"pubsweep/internal/manifest"
	"pubsweep/internal/registry"
	"pubsweep/internal/report"
	"pubsweep/internal/retry"
	"pubsweep/internal/verify"
)

// RunOptions controls one orchestration pass.
type RunOptions struct {
	// Pipeline limits the pass to one pipeline; empty runs all.
	Pipeline string
	// DryRun classifies and generates descriptors without writing the
	// submission file, the ledger or item statuses.
	DryRun bool
	// OutPath overrides the submission file location.
	OutPath string
}

// RunResult summarizes a pass.
type RunResult struct {
	BatchID         string
	Descriptors     []retry.Descriptor
	Units           []retry.Unit
	SubmissionPaths []string
	Report          report.Report
	ItemsMarked     int64
	Inconsistencies int
	LedgerResolved  int64
	LedgerExpired   int64
	DryRun          bool
}

// Run performs one orchestration pass.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	result := RunResult{DryRun: opts.DryRun}
	pipelines, err := o.cfg.SelectPipelines(opts.Pipeline)
	if err != nil {
		return result, err
	}
	store, err := o.openStore()
	if err != nil {
		return result, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	started := o.now()
	assessment, err := o.assess(ctx, store, pipelines, !opts.DryRun)
	if err != nil {
		return result, err
	}

	if !opts.DryRun {
		if err := o.reconcile(ctx, store, assessment, &result); err != nil {
			return result, err
		}
	}

	if err := o.emit(ctx, store, &assessment, opts, &result); err != nil {
		return result, err
	}
	result.Report = report.Build(assessment.ReportInput(), o.cfg.Report.GroupPrefixLen)

	o.logger.Info("orchestration pass finished",
		logging.String("batch_id", result.BatchID),
		logging.Int("descriptors", len(result.Descriptors)),
		logging.Int("units", len(result.Units)),
		logging.Int64("items_marked", result.ItemsMarked),
		logging.Int("inconsistencies", result.Inconsistencies),
		logging.Bool("dry_run", opts.DryRun),
		logging.Duration("elapsed", o.now().Sub(started)),
	)
	return result, nil
}

// reconcile feeds fresh observations back into the store: fully produced
// chunks mark their items complete and resolve ledger entries, missing chunks
// are checked for regressions, and stale ledger entries are expired.
func (o *Orchestrator) reconcile(ctx context.Context, store *registry.Store, a Assessment, result *RunResult) error {
	partitions := make(map[string]manifest.Partition, len(a.Partitions))
	for _, p := range a.Partitions {
		partitions[p.ID] = p.Partition
	}

	for _, p := range a.Pipelines {
		name := p.Pipeline.Name
		var resolved []string
		for _, outcome := range p.Outcomes {
			chunkItems := outcome.Chunk.Items(partitions[outcome.Chunk.Partition])
			switch {
			case outcome.Status == verify.StatusComplete:
				resolved = append(resolved, outcome.Chunk.ID())
				// Item-level completion needs every item present; chunks that
				// rely on tolerance or failed items leave item status alone.
				if outcome.Failed == 0 && outcome.Actual >= outcome.Chunk.Length {
					n, err := store.MarkProcessed(ctx, name, chunkItems, outcome.Scan.Provenance)
					if err != nil {
						return err
					}
					result.ItemsMarked += n
				}
			case outcome.Status == verify.StatusMissing:
				found, err := store.ObservePending(ctx, name, chunkItems, "no output for chunk "+outcome.Chunk.ID())
				if err != nil {
					return err
				}
				if len(found) > 0 {
					logging.WarnWithContext(o.logger, "complete items have no output; not reverting", "status_regression",
						logging.String(logging.FieldPipeline, name),
						logging.String(logging.FieldChunk, outcome.Chunk.ID()),
						logging.Int("items", len(found)),
						logging.String(logging.FieldErrorHint, "inspect the output directory; run `pubsweep items --inconsistencies`"),
						logging.String(logging.FieldImpact, "chunk will be retried; recorded status stays complete"),
					)
					result.Inconsistencies += len(found)
				}
			}
		}
		n, err := store.ResolveChunks(ctx, name, resolved, registry.ResolutionComplete)
		if err != nil {
			return err
		}
		result.LedgerResolved += n

		if ttl := o.cfg.LedgerTTL(); ttl > 0 {
			n, err := store.Expire(ctx, name, o.now().Add(-ttl))
			if err != nil {
				return err
			}
			result.LedgerExpired += n
		}
	}
	return nil
}

// emit detects in-flight work, generates descriptors and, unless dry-running,
// records them in the ledger and writes the submission. Detection, recording
// and writing happen under one lock so two concurrent passes cannot both emit
// a chunk.
func (o *Orchestrator) emit(ctx context.Context, store *registry.Store, a *Assessment, opts RunOptions, result *RunResult) error {
	if !opts.DryRun {
		lock, err := o.acquireEmitLock(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				o.logger.Warn("failed to release emit lock", logging.Error(err))
			}
		}()
	}

	if err := o.detect(ctx, store, a); err != nil {
		return err
	}

	var descriptors []retry.Descriptor
	for _, p := range a.Pipelines {
		gen, err := retry.NewGenerator(p.Pipeline)
		if err != nil {
			return err
		}
		candidates := make([]retry.Candidate, 0)
		for _, outcome := range p.Incomplete() {
			output, err := p.scanner.Destination(outcome.Chunk)
			if err != nil {
				return err
			}
			candidates = append(candidates, retry.Candidate{
				Outcome:      outcome,
				ManifestPath: p.manifests[outcome.Chunk.Partition],
				Output:       output,
			})
		}
		descs, err := gen.Generate(candidates, p.InFlight)
		if err != nil {
			return err
		}
		if skippedInFlight := len(candidates) - len(descs); skippedInFlight > 0 {
			o.logger.Info("incomplete chunks already in flight",
				logging.String(logging.FieldPipeline, p.Pipeline.Name),
				logging.Int("chunks", skippedInFlight),
			)
		}
		descriptors = append(descriptors, descs...)
	}

	batch := retry.NewBatch(descriptors)
	result.BatchID = batch.ID
	result.Descriptors = batch.Descriptors
	result.Units = retry.Pack(batch.Descriptors, retry.Parallelism(o.cfg.Packing.Parallelism))
	if opts.DryRun || batch.Len() == 0 {
		return nil
	}

	base := opts.OutPath
	if base == "" {
		name := fmt.Sprintf("batch-%s-%s.txt", batch.CreatedAt.Format("20060102T150405Z"), batch.ID[:8])
		base = filepath.Join(o.cfg.Paths.SubmissionDir, name)
	}
	groups := retry.Split(result.Units, o.cfg.Packing.MaxUnitsPerFile)
	paths := retry.SubmissionPaths(base, len(groups))

	var entries []registry.LedgerEntry
	for i, group := range groups {
		for _, unit := range group {
			for _, d := range unit {
				entries = append(entries, registry.LedgerEntry{
					BatchID:        batch.ID,
					Pipeline:       d.Pipeline,
					ChunkID:        d.ChunkID(),
					Descriptor:     d.Command,
					SubmissionPath: paths[i],
					EmittedAt:      batch.CreatedAt,
				})
			}
		}
	}
	// The ledger is written before any submission file exists, so a file on
	// disk always has ledger entries behind it.
	if err := store.RecordEmission(ctx, entries); err != nil {
		return fmt.Errorf("record emitted batch: %w", err)
	}
	for i, group := range groups {
		if err := retry.WriteSubmission(paths[i], group); err != nil {
			o.rollbackEmission(store, batch.ID, paths[:i])
			return err
		}
	}
	result.SubmissionPaths = paths
	o.logger.Info("retry batch written",
		logging.String("batch_id", batch.ID),
		logging.Int("descriptors", batch.Len()),
		logging.Int("units", len(result.Units)),
		logging.String("path", base),
	)
	return nil
}

// acquireEmitLock takes the cross-process emit lock, waiting up to lockWait.
// Only a timeout is reported as ErrEmitLocked; other failures are returned
// as they are.
func (o *Orchestrator) acquireEmitLock(ctx context.Context) (*flock.Flock, error) {
	lock := flock.New(o.cfg.EmitLockPath())
	lockCtx, cancel := context.WithTimeout(ctx, o.lockWait)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, fmt.Errorf("%w: %s", ErrEmitLocked, o.cfg.EmitLockPath())
	case err != nil:
		return nil, fmt.Errorf("acquire emit lock: %w", err)
	case !locked:
		return nil, fmt.Errorf("%w: %s", ErrEmitLocked, o.cfg.EmitLockPath())
	}
	return lock, nil
}

// rollbackEmission removes the parts of a batch already written and its
// ledger entries after a later part could not be written.
func (o *Orchestrator) rollbackEmission(store *registry.Store, batchID string, written []string) {
	for _, path := range written {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(o.logger, "failed to remove partial submission", "submission_cleanup",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the file before submitting anything from this batch"),
				logging.String(logging.FieldImpact, "file lists chunks that have no ledger entry"),
			)
		}
	}
	// The caller's context may already be done; the rollback still has to land.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := store.DiscardBatch(ctx, batchID); err != nil {
		logging.WarnWithContext(o.logger, "failed to discard ledger entries of unwritten batch", "ledger_rollback",
			logging.String("batch_id", batchID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `pubsweep ledger expire --older-than` to release the chunks sooner"),
			logging.String(logging.FieldImpact, "chunks stay suppressed until the ledger TTL passes"),
		)
	}
}
