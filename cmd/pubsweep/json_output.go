package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"pubsweep/internal/registry"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type ledgerEntryJSON struct {
	BatchID        string     `json:"batch_id"`
	Pipeline       string     `json:"pipeline"`
	ChunkID        string     `json:"chunk_id"`
	State          string     `json:"state"`
	Descriptor     string     `json:"descriptor"`
	SubmissionPath string     `json:"submission_path,omitempty"`
	EmittedAt      time.Time  `json:"emitted_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// ledgerJSON converts entries for output. State is open, stale or the
// resolution, judged against ttl at now. An empty ledger encodes as [].
func ledgerJSON(entries []registry.LedgerEntry, now time.Time, ttl time.Duration) []ledgerEntryJSON {
	out := make([]ledgerEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryJSON{
			BatchID:        e.BatchID,
			Pipeline:       e.Pipeline,
			ChunkID:        e.ChunkID,
			State:          ledgerState(e, now, ttl),
			Descriptor:     e.Descriptor,
			SubmissionPath: e.SubmissionPath,
			EmittedAt:      e.EmittedAt.UTC(),
			ResolvedAt:     e.ResolvedAt,
		})
	}
	return out
}

type inconsistencyJSON struct {
	Pipeline   string    `json:"pipeline"`
	ItemID     string    `json:"item_id"`
	Recorded   string    `json:"recorded_status"`
	Observed   string    `json:"observed_status"`
	Detail     string    `json:"detail,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

func inconsistenciesJSON(found []registry.Inconsistency) []inconsistencyJSON {
	out := make([]inconsistencyJSON, 0, len(found))
	for _, inc := range found {
		out = append(out, inconsistencyJSON{
			Pipeline:   inc.Pipeline,
			ItemID:     inc.ItemID,
			Recorded:   string(inc.RecordedStatus),
			Observed:   string(inc.ObservedStatus),
			Detail:     inc.Detail,
			ObservedAt: inc.ObservedAt.UTC(),
		})
	}
	return out
}
