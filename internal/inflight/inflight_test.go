package inflight

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pubsweep/internal/sched"
)

type fakeInspector struct {
	refs  []sched.DescriptorRef
	err   error
	calls int
}

func (f *fakeInspector) Name() string { return "fake" }

func (f *fakeInspector) ListActiveDescriptors(context.Context) ([]sched.DescriptorRef, error) {
	f.calls++
	return f.refs, f.err
}

type fakeLedger struct {
	open  map[string]map[string]bool
	since time.Time
	err   error
}

func (f *fakeLedger) OpenChunks(_ context.Context, pipeline string, since time.Time) (map[string]bool, error) {
	f.since = since
	return f.open[pipeline], f.err
}

var index = map[string]string{
	"/out/funders/p1/p1_c0001.parquet": "p1_c0001",
	"/out/funders/p1_1000_2000.csv":    "p1_c0001",
	"/out/funders/p1/p1_c0002.parquet": "p1_c0002",
	"/out/funders/tiny.parquet":        "tiny_c0000",
}

func TestMatchDescriptors(t *testing.T) {
	refs := []sched.DescriptorRef{
		{Command: "extract --output=/out/funders/p1/p1_c0002.parquet"},
		{Text: "extract /m/tiny.csv 0 5 '/out/funders/tiny.parquet' & wait"},
		{Text: "extract /out/funders/p1_1000_2000.csv;echo done"},
		{Text: "extract relative/p1/p1_c0001.parquet"},
	}
	got := MatchDescriptors(refs, index)
	want := []string{"p1_c0001", "p1_c0002", "tiny_c0000"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("MatchDescriptors = %v, want %v", got, want)
	}
}

func TestDetectCombinesSources(t *testing.T) {
	inspector := &fakeInspector{refs: []sched.DescriptorRef{{Text: "x /out/funders/p1/p1_c0002.parquet"}}}
	ledger := &fakeLedger{open: map[string]map[string]bool{
		"funders": {"p1_c0001": true, "p1_c0002": true},
	}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(inspector, ledger, 72*time.Hour, nil, WithClock(func() time.Time { return now }))

	set, err := d.Detect(context.Background(), "funders", index)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if set.Degraded {
		t.Fatal("did not expect degraded result")
	}
	if set.Len() != 2 || !set.Contains("p1_c0001") || set.Contains("tiny_c0000") {
		t.Fatalf("unexpected set %v", set.IDs())
	}
	if got := set.Sources("p1_c0002"); len(got) != 2 {
		t.Fatalf("expected both sources for p1_c0002, got %v", got)
	}
	if !ledger.since.Equal(now.Add(-72 * time.Hour)) {
		t.Fatalf("unexpected ledger bound %v", ledger.since)
	}

	// A second pipeline in the same pass reuses the queue listing.
	if _, err := d.Detect(context.Background(), "affiliations", index); err != nil {
		t.Fatalf("Detect second pipeline: %v", err)
	}
	if inspector.calls != 1 {
		t.Fatalf("expected queue listed once, got %d calls", inspector.calls)
	}
}

func TestDetectDegradesWhenQueueFails(t *testing.T) {
	inspector := &fakeInspector{err: fmt.Errorf("%w: controller down", sched.ErrQueueUnavailable)}
	ledger := &fakeLedger{open: map[string]map[string]bool{"funders": {"p1_c0001": true}}}
	d := NewDetector(inspector, ledger, 0, nil)

	set, err := d.Detect(context.Background(), "funders", index)
	if err != nil {
		t.Fatalf("Detect should not fail on queue errors: %v", err)
	}
	if !set.Degraded || !errors.Is(set.QueueErr, sched.ErrQueueUnavailable) {
		t.Fatalf("expected degraded result, got %+v", set)
	}
	if !set.Contains("p1_c0001") {
		t.Fatal("expected ledger markers to survive queue failure")
	}
	if !ledger.since.IsZero() {
		t.Fatalf("expected no age bound with zero ttl, got %v", ledger.since)
	}
}

func TestDetectReturnsLedgerErrors(t *testing.T) {
	d := NewDetector(nil, &fakeLedger{err: errors.New("disk I/O error")}, time.Hour, nil)
	if _, err := d.Detect(context.Background(), "funders", index); err == nil {
		t.Fatal("expected ledger error")
	}
}

func TestNewSet(t *testing.T) {
	set := NewSet(SourceQueue, "b", "a", "a")
	if set.Len() != 2 || fmt.Sprint(set.IDs()) != "[a b]" {
		t.Fatalf("unexpected set %v", set.IDs())
	}
	var empty Set
	if empty.Contains("a") || empty.Len() != 0 {
		t.Fatal("zero Set must be empty")
	}
}
