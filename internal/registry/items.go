package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Register records a partition and its ordered items. Items already known,
// including items first seen in another partition, are left untouched, so
// repeated calls with the same arguments are no-ops.
func (s *Store) Register(ctx context.Context, partitionID, manifestPath string, itemIDs []string) (int64, error) {
	partitionID = strings.TrimSpace(partitionID)
	if partitionID == "" {
		return 0, errors.New("register: partition id is required")
	}
	now := formatTime(time.Now())

	if _, err := s.execWithRetry(ctx,
		`INSERT INTO partitions (partition_id, manifest_path, item_count, registered_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(partition_id) DO NOTHING`,
		partitionID, manifestPath, len(itemIDs), now,
	); err != nil {
		return 0, fmt.Errorf("register partition: %w", err)
	}

	var inserted int64
	for start := 0; start < len(itemIDs); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		var batchInserted int64
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			batchInserted = 0
			stmt, err := tx.PrepareContext(ctx,
				`INSERT INTO work_items (item_id, partition_id, ordinal, first_seen_at)
                 VALUES (?, ?, ?, ?)
                 ON CONFLICT(item_id) DO NOTHING`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for i := start; i < end; i++ {
				res, err := stmt.ExecContext(ctx, itemIDs[i], partitionID, i, now)
				if err != nil {
					return err
				}
				n, _ := res.RowsAffected()
				batchInserted += n
			}
			return nil
		})
		if err != nil {
			return inserted, fmt.Errorf("register items: %w", err)
		}
		inserted += batchInserted
	}
	return inserted, nil
}

// MarkProcessed sets items to complete with provenance. Items that are already
// complete keep their original provenance, so concurrent and repeated calls
// commute.
func (s *Store) MarkProcessed(ctx context.Context, pipeline string, itemIDs []string, outputRef string) (int64, error) {
	return s.upsertStatus(ctx, pipeline, itemIDs,
		`INSERT INTO item_status (pipeline, item_id, status, output_ref, reason, updated_at)
         VALUES (?, ?, 'complete', ?, NULL, ?)
         ON CONFLICT(pipeline, item_id) DO UPDATE
         SET status = 'complete', output_ref = excluded.output_ref, reason = NULL, updated_at = excluded.updated_at
         WHERE item_status.status != 'complete'`,
		outputRef,
	)
}

// MarkFailed records items as permanently unprocessable. Complete items are
// never downgraded.
func (s *Store) MarkFailed(ctx context.Context, pipeline string, itemIDs []string, reason string) (int64, error) {
	return s.upsertStatus(ctx, pipeline, itemIDs,
		`INSERT INTO item_status (pipeline, item_id, status, output_ref, reason, updated_at)
         VALUES (?, ?, 'failed', NULL, ?, ?)
         ON CONFLICT(pipeline, item_id) DO UPDATE
         SET status = 'failed', reason = excluded.reason, updated_at = excluded.updated_at
         WHERE item_status.status = 'failed' OR item_status.status = 'pending'`,
		reason,
	)
}

func (s *Store) upsertStatus(ctx context.Context, pipeline string, itemIDs []string, query, detail string) (int64, error) {
	pipeline = strings.TrimSpace(pipeline)
	if pipeline == "" {
		return 0, errors.New("pipeline is required")
	}
	now := formatTime(time.Now())
	var changed int64
	for _, batch := range batches(itemIDs, writeBatchSize) {
		var batchChanged int64
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			batchChanged = 0
			stmt, err := tx.PrepareContext(ctx, query)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, id := range batch {
				res, err := stmt.ExecContext(ctx, pipeline, id, nullableString(detail), now)
				if err != nil {
					return err
				}
				n, _ := res.RowsAffected()
				batchChanged += n
			}
			return nil
		})
		if err != nil {
			return changed, fmt.Errorf("update item status: %w", err)
		}
		changed += batchChanged
	}
	return changed, nil
}

// ObservePending reports that items were seen without output. Pending is the
// implicit default, so nothing is written for unknown or pending items. An item
// already complete is never reverted: the observation is recorded as an
// inconsistency for manual review and returned to the caller.
func (s *Store) ObservePending(ctx context.Context, pipeline string, itemIDs []string, detail string) ([]Inconsistency, error) {
	var found []Inconsistency
	now := time.Now().UTC()
	for _, batch := range batches(itemIDs, writeBatchSize) {
		var batchFound []Inconsistency
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			batchFound = batchFound[:0]
			args := make([]any, 0, len(batch)+1)
			args = append(args, pipeline)
			for _, id := range batch {
				args = append(args, id)
			}
			rows, err := tx.QueryContext(ctx,
				`SELECT item_id FROM item_status
                 WHERE pipeline = ? AND status = 'complete' AND item_id IN (`+makePlaceholders(len(batch))+`)`,
				args...,
			)
			if err != nil {
				return err
			}
			var regressed []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				regressed = append(regressed, id)
			}
			if err := rows.Close(); err != nil {
				return err
			}
			if err := rows.Err(); err != nil {
				return err
			}
			for _, id := range regressed {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO inconsistencies (pipeline, item_id, recorded_status, observed_status, detail, observed_at)
                     VALUES (?, ?, ?, ?, ?, ?)`,
					pipeline, id, StatusComplete, StatusPending, nullableString(detail), formatTime(now),
				); err != nil {
					return err
				}
				batchFound = append(batchFound, Inconsistency{
					Pipeline:       pipeline,
					ItemID:         id,
					RecordedStatus: StatusComplete,
					ObservedStatus: StatusPending,
					Detail:         detail,
					ObservedAt:     now,
				})
			}
			return nil
		})
		if err != nil {
			return found, fmt.Errorf("observe pending: %w", err)
		}
		found = append(found, batchFound...)
	}
	return found, nil
}

// QueryStatus counts registered items per status for a pipeline, optionally
// scoped by partition, ID prefix or ID range.
func (s *Store) QueryStatus(ctx context.Context, pipeline string, filter Filter) (StatusSummary, error) {
	ctx = ensureContext(ctx)
	summary := StatusSummary{Pipeline: pipeline}
	where, args := filterClause(pipeline, filter)

	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(s.status, 'pending') AS st, COUNT(1)
         FROM work_items w
         LEFT JOIN item_status s ON s.item_id = w.item_id AND s.pipeline = ?`+where+`
         GROUP BY st`,
		args...,
	)
	if err != nil {
		return summary, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return summary, fmt.Errorf("scan status counts: %w", err)
		}
		summary.Total += count
		switch Status(status) {
		case StatusComplete:
			summary.Complete = count
		case StatusFailed:
			summary.Failed = count
		default:
			summary.Pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}

	if filter.WithIDs {
		ids, err := s.queryIDs(ctx, where, args, filter.Limit)
		if err != nil {
			return summary, err
		}
		summary.IDs = ids
	}
	return summary, nil
}

func (s *Store) queryIDs(ctx context.Context, where string, args []any, limit int) (map[Status][]string, error) {
	query := `SELECT w.item_id, COALESCE(s.status, 'pending')
         FROM work_items w
         LEFT JOIN item_status s ON s.item_id = w.item_id AND s.pipeline = ?` + where + `
         ORDER BY w.partition_id, w.ordinal`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status ids: %w", err)
	}
	defer rows.Close()
	ids := make(map[Status][]string)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan status ids: %w", err)
		}
		ids[Status(status)] = append(ids[Status(status)], id)
	}
	return ids, rows.Err()
}

func filterClause(pipeline string, filter Filter) (string, []any) {
	args := []any{pipeline}
	var conds []string
	if p := strings.TrimSpace(filter.PartitionID); p != "" {
		conds = append(conds, "w.partition_id = ?")
		args = append(args, p)
	}
	if prefix := filter.IDPrefix; prefix != "" {
		conds = append(conds, `w.item_id LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(prefix)+"%")
	}
	if filter.IDFrom != "" {
		conds = append(conds, "w.item_id >= ?")
		args = append(args, filter.IDFrom)
	}
	if filter.IDTo != "" {
		conds = append(conds, "w.item_id < ?")
		args = append(args, filter.IDTo)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

// FailedCounts returns, per chunk index, how many items of a partition are
// marked permanently failed for the pipeline.
func (s *Store) FailedCounts(ctx context.Context, pipeline, partitionID string, chunkSize int) (map[int]int, error) {
	if chunkSize <= 0 {
		return nil, errors.New("failed counts: chunk size must be positive")
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT w.ordinal / ?, COUNT(1)
         FROM work_items w
         JOIN item_status s ON s.item_id = w.item_id AND s.pipeline = ?
         WHERE w.partition_id = ? AND s.status = 'failed'
         GROUP BY 1`,
		chunkSize, pipeline, partitionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[int]int)
	for rows.Next() {
		var index, count int
		if err := rows.Scan(&index, &count); err != nil {
			return nil, fmt.Errorf("scan failed counts: %w", err)
		}
		counts[index] = count
	}
	return counts, rows.Err()
}

// Partitions lists registered partitions ordered by ID.
func (s *Store) Partitions(ctx context.Context) ([]PartitionRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT partition_id, manifest_path, item_count, registered_at FROM partitions ORDER BY partition_id`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()
	var out []PartitionRecord
	for rows.Next() {
		var (
			rec PartitionRecord
			raw string
		)
		if err := rows.Scan(&rec.ID, &rec.ManifestPath, &rec.ItemCount, &raw); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		if ts, err := parseTime(raw); err == nil {
			rec.RegisteredAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Inconsistencies lists recorded regressions for a pipeline, newest first.
// An empty pipeline lists all.
func (s *Store) Inconsistencies(ctx context.Context, pipeline string) ([]Inconsistency, error) {
	query := `SELECT id, pipeline, item_id, recorded_status, observed_status, COALESCE(detail, ''), observed_at FROM inconsistencies`
	var args []any
	if pipeline != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, pipeline)
	}
	query += ` ORDER BY id DESC`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inconsistencies: %w", err)
	}
	defer rows.Close()
	var out []Inconsistency
	for rows.Next() {
		var (
			inc                Inconsistency
			recorded, observed string
			raw                string
		)
		if err := rows.Scan(&inc.ID, &inc.Pipeline, &inc.ItemID, &recorded, &observed, &inc.Detail, &raw); err != nil {
			return nil, fmt.Errorf("scan inconsistency: %w", err)
		}
		inc.RecordedStatus = Status(recorded)
		inc.ObservedStatus = Status(observed)
		if ts, err := parseTime(raw); err == nil {
			inc.ObservedAt = ts
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
