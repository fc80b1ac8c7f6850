package registry

import (
	"strings"
	"time"
)

// Status is the per-pipeline state of a work item.
type Status string

const (
	StatusPending Status = "pending"
	// StatusFailed marks an item that can never be processed (corrupt source
	// record). It is excluded from a chunk's expected count instead of being
	// absorbed by tolerance.
	StatusFailed   Status = "failed"
	StatusComplete Status = "complete"
)

var statusRank = map[Status]int{
	StatusPending:  0,
	StatusFailed:   1,
	StatusComplete: 2,
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusRank[status]
	return status, ok
}

// Rank orders statuses; transitions only ever move to a higher rank.
func (s Status) Rank() int { return statusRank[s] }

// Filter scopes a status query. Empty fields do not constrain the query.
type Filter struct {
	PartitionID string
	IDPrefix    string
	// IDFrom and IDTo bound a lexicographic half-open ID range [IDFrom, IDTo).
	IDFrom string
	IDTo   string
	// WithIDs asks for ID lists in addition to counts, capped by Limit.
	WithIDs bool
	Limit   int
}

// StatusSummary holds counts and, optionally, ID lists per status.
type StatusSummary struct {
	Pipeline string
	Total    int
	Pending  int
	Failed   int
	Complete int
	IDs      map[Status][]string
}

// Inconsistency records an attempted regression of a complete item.
type Inconsistency struct {
	ID             int64
	Pipeline       string
	ItemID         string
	RecordedStatus Status
	ObservedStatus Status
	Detail         string
	ObservedAt     time.Time
}

// PartitionRecord describes a registered partition.
type PartitionRecord struct {
	ID           string
	ManifestPath string
	ItemCount    int
	RegisteredAt time.Time
}

// LedgerEntry is one descriptor emitted by an orchestration pass.
type LedgerEntry struct {
	BatchID        string
	Pipeline       string
	ChunkID        string
	Descriptor     string
	SubmissionPath string
	EmittedAt      time.Time
	ResolvedAt     *time.Time
	Resolution     string
}

// Ledger resolutions.
const (
	ResolutionComplete = "complete"
	ResolutionDead     = "dead"
)

// Open reports whether the entry still counts toward in-flight work.
func (e LedgerEntry) Open() bool { return e.ResolvedAt == nil }
