package orchestrate_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"pubsweep/internal/config"
	"pubsweep/internal/orchestrate"
	"pubsweep/internal/registry"
	"pubsweep/internal/sched"
	"pubsweep/internal/testsupport"
	"pubsweep/internal/verify"
)

type fixture struct {
	cfg *config.Config
	ids []string
	out string
}

// newFixture registers one manifest "p1" of 2,500 items with a chunk size of
// 1,000 and writes output rows per chunk.
func newFixture(t *testing.T, rows []int, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	ids := testsupport.ItemIDs("pm", 0, 2500)
	testsupport.WriteManifest(t, cfg.Paths.ManifestDir, "p1", ids)
	out := cfg.Pipelines[0].OutputDir
	for i, n := range rows {
		if n < 0 {
			continue
		}
		start := i * 1000
		path := filepath.Join(out, "p1", fmt.Sprintf("p1_c%04d.parquet", i))
		testsupport.WriteParquet(t, path, ids[start:start+n])
	}
	return fixture{cfg: cfg, ids: ids, out: out}
}

type stubInspector struct {
	refs []sched.DescriptorRef
	err  error
}

func (s stubInspector) Name() string { return "stub" }

func (s stubInspector) ListActiveDescriptors(context.Context) ([]sched.DescriptorRef, error) {
	return s.refs, s.err
}

func newOrchestrator(t *testing.T, cfg *config.Config, inspector sched.QueueInspector) *orchestrate.Orchestrator {
	t.Helper()
	o, err := orchestrate.New(cfg, nil, orchestrate.WithInspector(inspector))
	if err != nil {
		t.Fatalf("orchestrate.New: %v", err)
	}
	return o
}

func chunkIDs(res orchestrate.RunResult) []string {
	ids := make([]string, 0, len(res.Descriptors))
	for _, d := range res.Descriptors {
		ids = append(ids, d.ChunkID())
	}
	return ids
}

func TestScenarioAAllComplete(t *testing.T) {
	f := newFixture(t, []int{1000, 1000, 500})
	o := newOrchestrator(t, f.cfg, stubInspector{})

	res, err := o.Run(context.Background(), orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Descriptors) != 0 || len(res.SubmissionPaths) != 0 {
		t.Fatalf("expected no retries, got %v", chunkIDs(res))
	}
	total := res.Report.Pipelines[0].Total
	if total.Expected != 2500 || total.Complete != 2500 || total.Percent(total.Complete) != 100 {
		t.Fatalf("expected 100%% complete, got %+v", total)
	}
	if res.ItemsMarked != 2500 {
		t.Fatalf("expected 2500 items marked, got %d", res.ItemsMarked)
	}

	store, err := registry.Open(f.cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	summary, err := store.QueryStatus(context.Background(), "funders", registry.Filter{PartitionID: "p1"})
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if summary.Complete != 2500 || summary.Pending != 0 {
		t.Fatalf("unexpected store summary %+v", summary)
	}
}

func TestScenarioBRetriesPartialAndMissing(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	o := newOrchestrator(t, f.cfg, stubInspector{})

	res, err := o.Run(context.Background(), orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Join(chunkIDs(res), ","); got != "p1_c0001,p1_c0002" {
		t.Fatalf("expected chunks 1 and 2, got %s", got)
	}
	if res.Descriptors[0].Status != verify.StatusPartial || res.Descriptors[1].Status != verify.StatusMissing {
		t.Fatalf("unexpected statuses %s %s", res.Descriptors[0].Status, res.Descriptors[1].Status)
	}
	if len(res.SubmissionPaths) != 1 {
		t.Fatalf("expected one submission file, got %v", res.SubmissionPaths)
	}
	data, err := os.ReadFile(res.SubmissionPaths[0])
	if err != nil {
		t.Fatalf("read submission: %v", err)
	}
	// Parallelism 2 packs both descriptors into one unit.
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 || !strings.HasSuffix(lines[0], " & wait") || strings.Count(lines[0], " & ") != 2 {
		t.Fatalf("unexpected submission %q", data)
	}
	wantOut := filepath.Join(f.out, "p1", "p1_c0002.parquet")
	if !strings.Contains(lines[0], "2000 500 "+wantOut) {
		t.Fatalf("descriptor missing range or output: %q", lines[0])
	}
}

func TestScenarioCSkipsQueuedChunk(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	queued := filepath.Join(f.out, "p1", "p1_c0002.parquet")
	inspector := stubInspector{refs: []sched.DescriptorRef{{JobID: "42", State: "RUNNING", Text: "extract-funders x 2000 500 " + queued}}}
	o := newOrchestrator(t, f.cfg, inspector)

	res, err := o.Run(context.Background(), orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Join(chunkIDs(res), ","); got != "p1_c0001" {
		t.Fatalf("expected only chunk 1, got %s", got)
	}
	total := res.Report.Pipelines[0].Total
	if total.InFlight != 500 || total.Partial != 1000 {
		t.Fatalf("unexpected report split %+v", total)
	}
}

func TestLedgerSuppressesReemission(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	o := newOrchestrator(t, f.cfg, stubInspector{})
	ctx := context.Background()

	first, err := o.Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(first.Descriptors) != 2 {
		t.Fatalf("expected 2 descriptors in first pass, got %v", chunkIDs(first))
	}
	second, err := o.Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(second.Descriptors) != 0 {
		t.Fatalf("expected ledger to suppress re-emission, got %v", chunkIDs(second))
	}

	// Chunk 2 finishes; its ledger entry resolves. Chunk 1 stays in flight.
	testsupport.WriteParquet(t, filepath.Join(f.out, "p1", "p1_c0002.parquet"), f.ids[2000:2500])
	third, err := o.Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if third.LedgerResolved != 1 || len(third.Descriptors) != 0 {
		t.Fatalf("unexpected third pass %+v", third)
	}

	// Once the ledger entry ages past the TTL, chunk 1 is retried again.
	later := orchestrate.WithClock(func() time.Time { return time.Now().Add(f.cfg.LedgerTTL() + time.Hour) })
	aged, err := orchestrate.New(f.cfg, nil, orchestrate.WithInspector(stubInspector{}), later)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fourth, err := aged.Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("fourth Run: %v", err)
	}
	if fourth.LedgerExpired != 1 || strings.Join(chunkIDs(fourth), ",") != "p1_c0001" {
		t.Fatalf("expected expired entry to be retried, got %+v", fourth)
	}
}

func TestZeroLedgerTTLNeverExpires(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	f.cfg.Planning.LedgerTTLHours = 0
	ctx := context.Background()

	first, err := newOrchestrator(t, f.cfg, stubInspector{}).Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(first.Descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %v", chunkIDs(first))
	}

	later := orchestrate.WithClock(func() time.Time { return time.Now().Add(1000 * time.Hour) })
	aged, err := orchestrate.New(f.cfg, nil, orchestrate.WithInspector(stubInspector{}), later)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := aged.Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.LedgerExpired != 0 || len(second.Descriptors) != 0 {
		t.Fatalf("expected open entries to keep suppressing retries, got %+v", second)
	}
}

func TestLegacyFallbackCountsComplete(t *testing.T) {
	f := newFixture(t, []int{-1, 1000, 500}, testsupport.WithConventions(
		config.Convention{Name: "current", Pattern: "{{.Partition}}/{{.ChunkID}}.parquet"},
		config.Convention{Name: "range", Pattern: "legacy/{{.Partition}}_{{.Offset}}_{{.End}}.parquet"},
	))
	testsupport.WriteParquet(t, filepath.Join(f.out, "legacy", "p1_0_1000.parquet"), f.ids[:1000])
	o := newOrchestrator(t, f.cfg, stubInspector{})

	assessment, err := o.Assess(context.Background(), "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	outcome := assessment.Pipelines[0].Outcomes[0]
	if outcome.Actual != 1000 || outcome.Status != verify.StatusComplete || outcome.Scan.Convention != "range" {
		t.Fatalf("expected legacy fallback to complete chunk 0, got %+v", outcome)
	}
}

func TestQueueFailureDegradesToLedger(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	ctx := context.Background()

	healthy := newOrchestrator(t, f.cfg, stubInspector{})
	if _, err := healthy.Run(ctx, orchestrate.RunOptions{}); err != nil {
		t.Fatalf("seed Run: %v", err)
	}

	broken := newOrchestrator(t, f.cfg, stubInspector{err: sched.ErrQueueUnavailable})
	res, err := broken.Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("Run must not fail when the queue is unavailable: %v", err)
	}
	if len(res.Descriptors) != 0 {
		t.Fatalf("expected ledger to keep chunks in flight, got %v", chunkIDs(res))
	}
	if !res.Report.Pipelines[0].QueueDegraded {
		t.Fatal("expected report to flag degraded detection")
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	o := newOrchestrator(t, f.cfg, stubInspector{})

	res, err := o.Run(context.Background(), orchestrate.RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Descriptors) != 2 || len(res.SubmissionPaths) != 0 || res.ItemsMarked != 0 {
		t.Fatalf("unexpected dry run result %+v", res)
	}
	entries, err := os.ReadDir(f.cfg.Paths.SubmissionDir)
	if err != nil {
		t.Fatalf("read submission dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("dry run wrote %d submission files", len(entries))
	}
}

func TestUnreadableManifestIsSkipped(t *testing.T) {
	f := newFixture(t, []int{1000, 1000, 500})
	broken := filepath.Join(f.cfg.Paths.ManifestDir, "p0.csv.gz")
	if err := os.WriteFile(broken, []byte("not gzip"), 0o644); err != nil {
		t.Fatalf("write broken manifest: %v", err)
	}
	o := newOrchestrator(t, f.cfg, stubInspector{})

	res, err := o.Run(context.Background(), orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	p := res.Report.Pipelines[0]
	if len(p.Skipped) != 1 || p.Skipped[0].Partition != "p0" {
		t.Fatalf("expected p0 skipped, got %+v", p.Skipped)
	}
	if p.Total.Complete != 2500 || p.Total.Missing != 0 {
		t.Fatalf("skipped partition must not count as missing, got %+v", p.Total)
	}
}

func TestPermanentFailuresCountAgainstExpected(t *testing.T) {
	f := newFixture(t, []int{1000, 997, 500})
	ctx := context.Background()
	o := newOrchestrator(t, f.cfg, stubInspector{})

	store, err := registry.Open(f.cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	testsupport.MustRegister(t, store, "p1", f.ids)
	if _, err := store.MarkFailed(ctx, "funders", f.ids[1997:2000], "corrupt xml"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	store.Close()

	res, err := o.Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Descriptors) != 0 {
		t.Fatalf("expected no retry once failures are excluded, got %v", chunkIDs(res))
	}
	if res.Report.Pipelines[0].Total.Failed != 3 {
		t.Fatalf("expected 3 failed items in report, got %+v", res.Report.Pipelines[0].Total)
	}
}

func TestRegressionIsRecordedNotReverted(t *testing.T) {
	f := newFixture(t, []int{1000, 1000, 500})
	ctx := context.Background()
	o := newOrchestrator(t, f.cfg, stubInspector{})
	if _, err := o.Run(ctx, orchestrate.RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := os.Remove(filepath.Join(f.out, "p1", "p1_c0002.parquet")); err != nil {
		t.Fatalf("remove output: %v", err)
	}
	res, err := o.Run(ctx, orchestrate.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Inconsistencies != 500 {
		t.Fatalf("expected 500 inconsistencies, got %d", res.Inconsistencies)
	}
	if strings.Join(chunkIDs(res), ",") != "p1_c0002" {
		t.Fatalf("expected missing chunk retried, got %v", chunkIDs(res))
	}

	store, err := registry.Open(f.cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	summary, err := store.QueryStatus(ctx, "funders", registry.Filter{})
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if summary.Complete != 2500 {
		t.Fatalf("complete items must never revert, got %+v", summary)
	}
}

func TestConcurrentRunsNeverEmitTwice(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		emitted []string
		errs    []error
	)
	for i := 0; i < 3; i++ {
		o := newOrchestrator(t, f.cfg, stubInspector{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Run(ctx, orchestrate.RunOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			emitted = append(emitted, chunkIDs(res)...)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		t.Fatalf("Run: %v", err)
	}
	if len(emitted) != 2 {
		t.Fatalf("expected each incomplete chunk emitted once across runs, got %v", emitted)
	}
}

func TestEmitLockTimeout(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	if err := f.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	holder := flock.New(f.cfg.EmitLockPath())
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer holder.Unlock()

	o, err := orchestrate.New(f.cfg, nil, orchestrate.WithInspector(stubInspector{}), orchestrate.WithLockWait(200*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := o.Run(context.Background(), orchestrate.RunOptions{}); !errors.Is(err, orchestrate.ErrEmitLocked) {
		t.Fatalf("expected ErrEmitLocked, got %v", err)
	}
}

func TestEmitLockFailureIsNotReportedAsContention(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	if err := f.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	// A lock file that cannot be created fails immediately, not by timeout.
	if err := os.Symlink(filepath.Join(t.TempDir(), "missing", "emit.lock"), f.cfg.EmitLockPath()); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	o, err := orchestrate.New(f.cfg, nil, orchestrate.WithInspector(stubInspector{}), orchestrate.WithLockWait(200*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = o.Run(context.Background(), orchestrate.RunOptions{})
	if err == nil {
		t.Fatal("expected lock error")
	}
	if errors.Is(err, orchestrate.ErrEmitLocked) {
		t.Fatalf("open failure reported as contention: %v", err)
	}
	if !strings.Contains(err.Error(), "acquire emit lock") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFailedPartWriteLeavesNoSubmissionOrLedger(t *testing.T) {
	f := newFixture(t, []int{1000, 400, -1})
	f.cfg.Packing.Parallelism = 1
	f.cfg.Packing.MaxUnitsPerFile = 1

	dir := t.TempDir()
	base := filepath.Join(dir, "retry.txt")
	first := filepath.Join(dir, "retry.part001.txt")
	second := filepath.Join(dir, "retry.part002.txt")
	// A directory in the way of the second part makes its rename fail.
	if err := os.Mkdir(second, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	o := newOrchestrator(t, f.cfg, stubInspector{})
	res, err := o.Run(context.Background(), orchestrate.RunOptions{OutPath: base})
	if err == nil {
		t.Fatal("expected write failure for second part")
	}
	if len(res.SubmissionPaths) != 0 {
		t.Fatalf("expected no submission paths reported, got %v", res.SubmissionPaths)
	}
	if _, err := os.Stat(first); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected first part removed, stat err=%v", err)
	}

	store, err := registry.Open(f.cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	open, err := store.ListLedger(context.Background(), "", true)
	if err != nil {
		t.Fatalf("ListLedger: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no ledger entries for the failed batch, got %+v", open)
	}

	// With the obstruction gone the same chunks are emitted again.
	if err := os.Remove(second); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	res, err = o.Run(context.Background(), orchestrate.RunOptions{OutPath: base})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Join(chunkIDs(res), ","); got != "p1_c0001,p1_c0002" || len(res.SubmissionPaths) != 2 {
		t.Fatalf("expected both chunks re-emitted in two parts, got %s %v", got, res.SubmissionPaths)
	}
}

func TestWatchRunsImmediatelyAndStops(t *testing.T) {
	f := newFixture(t, []int{1000, 1000, 500})
	o := newOrchestrator(t, f.cfg, stubInspector{})

	ctx, cancel := context.WithCancel(context.Background())
	passes := 0
	err := o.Watch(ctx, orchestrate.WatchOptions{
		Schedule:  "@every 1h",
		Immediate: true,
		OnPass: func(res orchestrate.RunResult, err error) {
			passes++
			if err != nil {
				t.Errorf("pass failed: %v", err)
			}
			cancel()
		},
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if passes != 1 {
		t.Fatalf("expected one pass, got %d", passes)
	}

	if err := o.Watch(context.Background(), orchestrate.WatchOptions{Schedule: "not a schedule"}); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
