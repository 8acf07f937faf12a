package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveQueue replaces the stored queue snapshot with entries, keeping their order.
func (s *SQLiteStore) SaveQueue(ctx context.Context, entries []QueuedEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_snapshot`); err != nil {
		return fmt.Errorf("failed to clear queue snapshot: %w", err)
	}
	for i, e := range entries {
		actions := e.Actions
		if actions == nil {
			actions = []Action{}
		}
		encoded, err := json.Marshal(actions)
		if err != nil {
			return fmt.Errorf("failed to encode actions of %s: %w", e.TaskName, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO queue_snapshot (position, task_name, enqueued_at_ns, actions)
			VALUES (?, ?, ?, ?)
		`, i, e.TaskName, e.EnqueuedAt.UnixNano(), string(encoded))
		if err != nil {
			return fmt.Errorf("failed to save queued %s: %w", e.TaskName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadQueue returns the stored snapshot in queue order.
func (s *SQLiteStore) LoadQueue(ctx context.Context) ([]QueuedEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_name, enqueued_at_ns, actions
		FROM queue_snapshot
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue snapshot: %w", err)
	}
	defer rows.Close()

	var entries []QueuedEntry
	for rows.Next() {
		var e QueuedEntry
		var enqueuedNs int64
		var actions string
		if err := rows.Scan(&e.TaskName, &enqueuedNs, &actions); err != nil {
			return nil, fmt.Errorf("failed to scan queued entry: %w", err)
		}
		e.EnqueuedAt = time.Unix(0, enqueuedNs)
		if err := json.Unmarshal([]byte(actions), &e.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode actions of %s: %w", e.TaskName, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue snapshot: %w", err)
	}
	return entries, nil
}
