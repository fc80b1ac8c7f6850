// Package report aggregates chunk outcomes into read-only status summaries.
package report

import (
	"sort"
	"time"

	"pubsweep/internal/verify"
)

// Entry is one classified chunk of one pipeline.
type Entry struct {
	Pipeline string
	Outcome  verify.Outcome
	InFlight bool
}

// Skip records a partition left out of a pass because of an error.
type Skip struct {
	Pipeline  string `json:"pipeline"`
	Partition string `json:"partition"`
	Reason    string `json:"reason"`
}

// Input is everything a report is built from.
type Input struct {
	Entries []Entry
	Skipped []Skip
	// Degraded lists pipelines whose in-flight detection ran without the queue.
	Degraded map[string]bool
}

// Group is a set of counts for one partition-prefix group. Item counts split
// the expected total exactly: Complete + InFlight + Partial + Missing equals
// Expected. Rows a tolerance-complete chunk lacks count as Partial.
type Group struct {
	Key        string `json:"key"`
	Partitions int    `json:"partitions"`
	Chunks     int    `json:"chunks"`
	Expected   int    `json:"expected"`
	Complete   int    `json:"complete"`
	InFlight   int    `json:"in_flight"`
	Partial    int    `json:"partial"`
	Missing    int    `json:"missing"`
	// Present is rows found in output, capped per chunk at the expected count.
	Present int `json:"present"`
	// Failed is items marked permanently failed; they are not part of Expected.
	Failed int `json:"failed"`
	// Unreadable counts chunks whose output exists but could not be read.
	Unreadable int `json:"unreadable_chunks"`

	partitions map[string]struct{}
}

// Percent returns n as a percentage of the group's expected items.
func (g Group) Percent(n int) float64 {
	return verify.Percent(n, g.Expected)
}

func (g *Group) add(e Entry) {
	o := e.Outcome
	if g.partitions == nil {
		g.partitions = make(map[string]struct{})
	}
	if _, ok := g.partitions[o.Chunk.Partition]; !ok {
		g.partitions[o.Chunk.Partition] = struct{}{}
		g.Partitions++
	}
	g.Chunks++
	g.Expected += o.Expected
	g.Failed += o.Failed
	g.Present += min(o.Actual, o.Expected)
	switch {
	case o.Status == verify.StatusComplete:
		found := min(o.Actual, o.Expected)
		g.Complete += found
		g.Partial += o.Expected - found
	case e.InFlight:
		g.InFlight += o.Expected
	case o.Status == verify.StatusPartial:
		g.Partial += o.Expected
	default:
		g.Missing += o.Expected
		if o.Scan.Unreadable() {
			g.Unreadable++
		}
	}
}

// Pipeline is the report for one pipeline.
type Pipeline struct {
	Name          string  `json:"name"`
	Groups        []Group `json:"groups"`
	Total         Group   `json:"total"`
	Skipped       []Skip  `json:"skipped,omitempty"`
	QueueDegraded bool    `json:"queue_degraded,omitempty"`
}

// Report is a complete status snapshot.
type Report struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Pipelines   []Pipeline `json:"pipelines"`
}

// GroupKey returns the first prefixLen characters of a partition ID, or the
// whole ID when prefixLen is not positive.
func GroupKey(partition string, prefixLen int) string {
	if prefixLen <= 0 {
		return partition
	}
	runes := []rune(partition)
	if len(runes) <= prefixLen {
		return partition
	}
	return string(runes[:prefixLen])
}

// Build aggregates entries by pipeline and partition-prefix group.
func Build(in Input, prefixLen int) Report {
	type acc struct {
		groups  map[string]*Group
		total   Group
		skipped []Skip
	}
	pipelines := make(map[string]*acc)
	get := func(name string) *acc {
		a, ok := pipelines[name]
		if !ok {
			a = &acc{groups: make(map[string]*Group), total: Group{Key: "total"}}
			pipelines[name] = a
		}
		return a
	}

	for _, e := range in.Entries {
		a := get(e.Pipeline)
		key := GroupKey(e.Outcome.Chunk.Partition, prefixLen)
		g, ok := a.groups[key]
		if !ok {
			g = &Group{Key: key}
			a.groups[key] = g
		}
		g.add(e)
		a.total.add(e)
	}
	for _, s := range in.Skipped {
		a := get(s.Pipeline)
		a.skipped = append(a.skipped, s)
	}

	names := make([]string, 0, len(pipelines))
	for name := range pipelines {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{GeneratedAt: time.Now().UTC()}
	for _, name := range names {
		a := pipelines[name]
		keys := make([]string, 0, len(a.groups))
		for key := range a.groups {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		groups := make([]Group, 0, len(keys))
		for _, key := range keys {
			groups = append(groups, *a.groups[key])
		}
		sort.Slice(a.skipped, func(i, j int) bool { return a.skipped[i].Partition < a.skipped[j].Partition })
		report.Pipelines = append(report.Pipelines, Pipeline{
			Name:          name,
			Groups:        groups,
			Total:         a.total,
			Skipped:       a.skipped,
			QueueDegraded: in.Degraded[name],
		})
	}
	return report
}
