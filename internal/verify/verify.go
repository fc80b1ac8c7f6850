// Package verify classifies chunks as complete, partial or missing.
package verify

import (
	"fmt"

	"pubsweep/internal/planner"
	"pubsweep/internal/scanner"
)

// Status is the derived completeness of one chunk. It is recomputed every pass
// and never stored as primary truth.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusMissing  Status = "missing"
)

// Incomplete reports whether the chunk needs a retry.
func (s Status) Incomplete() bool {
	return s == StatusPartial || s == StatusMissing
}

// Verify classifies a chunk. The chunk is complete iff
// actual >= expected - tolerance, missing iff actual is 0 and no artifact was
// found, partial otherwise.
func Verify(expected, actual int, provenance string, tolerance int) Status {
	if tolerance < 0 {
		tolerance = 0
	}
	switch {
	case actual >= expected-tolerance:
		return StatusComplete
	case actual == 0 && provenance == "":
		return StatusMissing
	default:
		return StatusPartial
	}
}

// Outcome is the classification of one chunk together with its inputs.
type Outcome struct {
	Chunk planner.Chunk
	// Expected is the chunk length minus items marked permanently failed.
	Expected int
	Failed   int
	Actual   int
	Status   Status
	Scan     scanner.Result
}

// Classify verifies a scan result. failed is the number of the chunk's items
// marked permanently failed; they are removed from the expected count before
// tolerance applies.
func Classify(result scanner.Result, failed, tolerance int) Outcome {
	if failed < 0 {
		failed = 0
	}
	if failed > result.Chunk.Length {
		failed = result.Chunk.Length
	}
	expected := result.Chunk.Expected() - failed
	return Outcome{
		Chunk:    result.Chunk,
		Expected: expected,
		Failed:   failed,
		Actual:   result.Actual,
		Status:   Verify(expected, result.Actual, result.Provenance, tolerance),
		Scan:     result,
	}
}

// Totals sums outcomes. Complete counts rows found in complete chunks, capped
// at their expected size, so a chunk complete only by tolerance contributes
// what it holds. Present counts rows found in every chunk.
type Totals struct {
	Chunks         int
	Expected       int
	Failed         int
	Present        int
	Complete       int
	CompleteChunks int
	PartialChunks  int
	MissingChunks  int
	// UnreadableChunks are missing only because existing output could not be read.
	UnreadableChunks int
}

// Aggregate sums outcomes.
func Aggregate(outcomes []Outcome) Totals {
	var t Totals
	for _, o := range outcomes {
		t.Chunks++
		t.Expected += o.Expected
		t.Failed += o.Failed
		t.Present += min(o.Actual, o.Expected)
		switch o.Status {
		case StatusComplete:
			t.CompleteChunks++
			t.Complete += min(o.Actual, o.Expected)
		case StatusPartial:
			t.PartialChunks++
		case StatusMissing:
			t.MissingChunks++
			if o.Scan.Unreadable() {
				t.UnreadableChunks++
			}
		}
	}
	return t
}

// Percent returns part as a percentage of the expected total. Percentages are
// always relative to expected, never to what was found.
func Percent(part, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	return float64(part) * 100 / float64(expected)
}

// CompletePercent is the share of expected items in complete chunks.
func (t Totals) CompletePercent() float64 {
	return Percent(t.Complete, t.Expected)
}

func (t Totals) String() string {
	return fmt.Sprintf("%d/%d items complete (%.1f%%), %d partial, %d missing chunks",
		t.Complete, t.Expected, t.CompletePercent(), t.PartialChunks, t.MissingChunks)
}
