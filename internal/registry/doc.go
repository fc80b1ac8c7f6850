// Package registry is the durable work item store.
//
// It records which items belong to which partition, the per-pipeline status of
// every item and a ledger of retry descriptors emitted by orchestration passes.
// Status only moves upward (pending, failed, complete); observations that would
// revert a complete item are recorded as inconsistencies instead of applied.
// The store is a SQLite database in WAL mode and tolerates concurrent
// invocations through busy retries and bounded write transactions.
package registry
