package retry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pubsweep/internal/config"
	"pubsweep/internal/inflight"
	"pubsweep/internal/planner"
	"pubsweep/internal/scanner"
	"pubsweep/internal/verify"
)

func testPipeline() config.Pipeline {
	return config.Pipeline{
		Name:    "funders",
		Command: "extract {{.ManifestPath}} {{.Offset}} {{.Length}} {{.Output}}",
	}
}

func candidates(t *testing.T, actual []int) []Candidate {
	t.Helper()
	chunks, err := planner.Plan("p1", 2500, 1000)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	out := make([]Candidate, len(chunks))
	for i, chunk := range chunks {
		res := scanner.Result{Chunk: chunk, Actual: actual[i]}
		if actual[i] > 0 {
			res.Provenance = "/out/" + chunk.ID() + ".parquet"
		}
		out[i] = Candidate{
			Outcome:      verify.Classify(res, 0, 0),
			ManifestPath: "/m/p1.csv",
			Output:       "/out/" + chunk.ID() + ".parquet",
		}
	}
	return out
}

func TestGenerateScenarioB(t *testing.T) {
	gen, err := NewGenerator(testPipeline())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	descs, err := gen.Generate(candidates(t, []int{1000, 400, 0}), inflight.Set{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(descs) != 2 || descs[0].ChunkID() != "p1_c0001" || descs[1].ChunkID() != "p1_c0002" {
		t.Fatalf("unexpected descriptors %+v", descs)
	}
	if descs[0].Status != verify.StatusPartial || descs[1].Status != verify.StatusMissing {
		t.Fatalf("unexpected statuses %s %s", descs[0].Status, descs[1].Status)
	}
	if want := "extract /m/p1.csv 2000 500 /out/p1_c0002.parquet"; descs[1].Command != want {
		t.Fatalf("command = %q, want %q", descs[1].Command, want)
	}
}

func TestGenerateScenarioCSkipsInFlight(t *testing.T) {
	gen, err := NewGenerator(testPipeline())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	descs, err := gen.Generate(candidates(t, []int{1000, 400, 0}), inflight.NewSet(inflight.SourceQueue, "p1_c0002"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(descs) != 1 || descs[0].ChunkID() != "p1_c0001" {
		t.Fatalf("expected only chunk 1, got %+v", descs)
	}
}

func TestGenerateDeduplicates(t *testing.T) {
	gen, err := NewGenerator(testPipeline())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	c := candidates(t, []int{0, 0, 0})
	doubled := append(append([]Candidate{}, c[2], c[0]), c...)
	descs, err := gen.Generate(doubled, inflight.Set{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(descs) != 3 {
		t.Fatalf("expected 3 unique descriptors, got %d", len(descs))
	}
	for i, d := range descs {
		if d.Chunk.Index != i {
			t.Fatalf("expected sorted by chunk, got %s at %d", d.ChunkID(), i)
		}
	}

	batch := NewBatch(append(descs, descs[0]))
	if batch.Len() != 3 || batch.ID == "" {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestGenerateRejectsMissingTemplateField(t *testing.T) {
	p := testPipeline()
	p.Command = "extract {{.Manifest}}"
	gen, err := NewGenerator(p)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, err := gen.Generate(candidates(t, []int{0, 0, 0}), inflight.Set{}); err == nil {
		t.Fatal("expected render error")
	}
}

func TestPack(t *testing.T) {
	descs := make([]Descriptor, 7)
	for i := range descs {
		descs[i] = Descriptor{Command: "cmd" + string(rune('a'+i))}
	}
	units := Pack(descs, 3)
	if len(units) != 3 || len(units[0]) != 3 || len(units[2]) != 1 {
		t.Fatalf("unexpected packing %v", units)
	}
	if got := units[0].Line(); got != "cmda & cmdb & cmdc & wait" {
		t.Fatalf("unexpected unit line %q", got)
	}
	if got := units[2].Line(); got != "cmdg & wait" {
		t.Fatalf("unexpected tail line %q", got)
	}
	if len(Pack(nil, 4)) != 0 {
		t.Fatal("expected no units for no descriptors")
	}
	if len(Pack(descs, 0)) != 7 {
		t.Fatal("expected non-positive parallelism to fall back to 1")
	}
	if Parallelism(5) != 5 || Parallelism(0) < 1 {
		t.Fatal("unexpected parallelism resolution")
	}
}

func TestSplitAndSubmissionPaths(t *testing.T) {
	units := Pack(make([]Descriptor, 5), 1)
	groups := Split(units, 2)
	if len(groups) != 3 || len(groups[2]) != 1 {
		t.Fatalf("unexpected split %v", groups)
	}
	if len(Split(units, 0)) != 1 {
		t.Fatal("expected single group without limit")
	}
	paths := SubmissionPaths("/s/batch.txt", 3)
	if paths[0] != "/s/batch.part001.txt" || paths[2] != "/s/batch.part003.txt" {
		t.Fatalf("unexpected paths %v", paths)
	}
	if got := SubmissionPaths("/s/batch.txt", 1); got[0] != "/s/batch.txt" {
		t.Fatalf("unexpected single path %v", got)
	}
}

func TestWriteSubmission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs", "batch.txt")
	units := []Unit{
		{{Command: "a 1"}, {Command: "a 2"}},
		{{Command: "b 1"}},
	}
	if err := WriteSubmission(path, units); err != nil {
		t.Fatalf("WriteSubmission: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read submission: %v", err)
	}
	want := "a 1 & a 2 & wait\nb 1 & wait\n"
	if string(data) != want {
		t.Fatalf("submission = %q, want %q", data, want)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
	}
}
