package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecordEmission stores the descriptors of one orchestration pass under a
// shared batch ID.
func (s *Store) RecordEmission(ctx context.Context, entries []LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO retry_ledger (batch_id, pipeline, chunk_id, descriptor, submission_path, emitted_at)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT(batch_id, chunk_id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare ledger insert: %w", err)
		}
		defer stmt.Close()
		for _, entry := range entries {
			if strings.TrimSpace(entry.BatchID) == "" || strings.TrimSpace(entry.ChunkID) == "" {
				return errors.New("ledger entry requires batch and chunk id")
			}
			emitted := entry.EmittedAt
			if emitted.IsZero() {
				emitted = time.Now()
			}
			if _, err := stmt.ExecContext(ctx,
				entry.BatchID, entry.Pipeline, entry.ChunkID, entry.Descriptor,
				nullableString(entry.SubmissionPath), formatTime(emitted),
			); err != nil {
				return fmt.Errorf("insert ledger entry %s: %w", entry.ChunkID, err)
			}
		}
		return nil
	})
}

// OpenChunks returns the chunk IDs of unresolved ledger entries for a pipeline
// emitted at or after since. A zero since disables the age bound.
func (s *Store) OpenChunks(ctx context.Context, pipeline string, since time.Time) (map[string]bool, error) {
	query := `SELECT DISTINCT chunk_id FROM retry_ledger WHERE pipeline = ? AND resolved_at IS NULL`
	args := []any{pipeline}
	if !since.IsZero() {
		query += ` AND emitted_at >= ?`
		args = append(args, formatTime(since))
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open ledger entries: %w", err)
	}
	defer rows.Close()
	open := make(map[string]bool)
	for rows.Next() {
		var chunkID string
		if err := rows.Scan(&chunkID); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		open[chunkID] = true
	}
	return open, rows.Err()
}

// ResolveChunks closes every open ledger entry for the given chunks.
func (s *Store) ResolveChunks(ctx context.Context, pipeline string, chunkIDs []string, resolution string) (int64, error) {
	now := formatTime(time.Now())
	var resolved int64
	for _, batch := range batches(chunkIDs, writeBatchSize) {
		args := make([]any, 0, len(batch)+3)
		args = append(args, now, resolution, pipeline)
		for _, id := range batch {
			args = append(args, id)
		}
		res, err := s.execWithRetry(ctx,
			`UPDATE retry_ledger SET resolved_at = ?, resolution = ?
             WHERE pipeline = ? AND resolved_at IS NULL AND chunk_id IN (`+makePlaceholders(len(batch))+`)`,
			args...,
		)
		if err != nil {
			return resolved, fmt.Errorf("resolve ledger entries: %w", err)
		}
		n, _ := res.RowsAffected()
		resolved += n
	}
	return resolved, nil
}

// Expire marks open entries emitted before cutoff as dead so they stop
// counting as in-flight. An empty pipeline expires across all pipelines.
func (s *Store) Expire(ctx context.Context, pipeline string, cutoff time.Time) (int64, error) {
	query := `UPDATE retry_ledger SET resolved_at = ?, resolution = ?
         WHERE resolved_at IS NULL AND emitted_at < ?`
	args := []any{formatTime(time.Now()), ResolutionDead, formatTime(cutoff)}
	if pipeline != "" {
		query += ` AND pipeline = ?`
		args = append(args, pipeline)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("expire ledger entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DiscardBatch removes every entry of a batch whose submission was never
// completely written.
func (s *Store) DiscardBatch(ctx context.Context, batchID string) (int64, error) {
	if strings.TrimSpace(batchID) == "" {
		return 0, errors.New("discard requires a batch id")
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM retry_ledger WHERE batch_id = ?`, batchID)
	if err != nil {
		return 0, fmt.Errorf("discard ledger batch %s: %w", batchID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListLedger returns ledger entries, newest first. openOnly limits the result
// to unresolved entries.
func (s *Store) ListLedger(ctx context.Context, pipeline string, openOnly bool) ([]LedgerEntry, error) {
	query := `SELECT batch_id, pipeline, chunk_id, descriptor, COALESCE(submission_path, ''),
                emitted_at, resolved_at, COALESCE(resolution, '')
         FROM retry_ledger`
	var (
		conds []string
		args  []any
	)
	if pipeline != "" {
		conds = append(conds, "pipeline = ?")
		args = append(args, pipeline)
	}
	if openOnly {
		conds = append(conds, "resolved_at IS NULL")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY emitted_at DESC, chunk_id"

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var (
			entry    LedgerEntry
			emitted  string
			resolved sql.NullString
		)
		if err := rows.Scan(&entry.BatchID, &entry.Pipeline, &entry.ChunkID, &entry.Descriptor,
			&entry.SubmissionPath, &emitted, &resolved, &entry.Resolution); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if ts, err := parseTime(emitted); err == nil {
			entry.EmittedAt = ts
		}
		if resolved.Valid {
			if ts, err := parseTime(resolved.String); err == nil {
				entry.ResolvedAt = &ts
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
