package persistence

import (
	"context"
	"fmt"
	"time"
)

const defaultListLimit = 50

// SaveRecord stores rec. Saving the same context id again replaces the record.
func (s *SQLiteStore) SaveRecord(ctx context.Context, rec BuildRecord) error {
	if rec.ContextID == "" || rec.TaskName == "" {
		return fmt.Errorf("build record needs a context id and a task name")
	}
	if rec.Result == "" {
		return fmt.Errorf("build record %s has no result", rec.ContextID)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (context_id, task_name, executable_id, node, result, problem, duration_ns, finished_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(context_id) DO UPDATE SET
			task_name = excluded.task_name,
			executable_id = excluded.executable_id,
			node = excluded.node,
			result = excluded.result,
			problem = excluded.problem,
			duration_ns = excluded.duration_ns,
			finished_at_ns = excluded.finished_at_ns
	`, rec.ContextID, rec.TaskName, rec.ExecutableID, rec.Node, string(rec.Result), rec.Problem,
		int64(rec.Duration), rec.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save build record %s: %w", rec.ContextID, err)
	}
	return nil
}

// ListRecords returns the newest records first. An empty taskName lists every
// task; limit <= 0 means the default of 50.
func (s *SQLiteStore) ListRecords(ctx context.Context, taskName string, limit int) ([]BuildRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT context_id, task_name, executable_id, node, result, problem, duration_ns, finished_at_ns
		FROM builds
		WHERE ? = '' OR task_name = ?
		ORDER BY finished_at_ns DESC, id DESC
		LIMIT ?
	`, taskName, taskName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query build records: %w", err)
	}
	defer rows.Close()

	var records []BuildRecord
	for rows.Next() {
		var rec BuildRecord
		var result string
		var durationNs, finishedNs int64
		if err := rows.Scan(&rec.ContextID, &rec.TaskName, &rec.ExecutableID, &rec.Node, &result, &rec.Problem, &durationNs, &finishedNs); err != nil {
			return nil, fmt.Errorf("failed to scan build record: %w", err)
		}
		rec.Result = BuildResult(result)
		rec.Duration = time.Duration(durationNs)
		rec.FinishedAt = time.Unix(0, finishedNs)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating build records: %w", err)
	}
	return records, nil
}
