package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		context_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		executable_id TEXT NOT NULL DEFAULT '',
		node TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL,
		problem TEXT NOT NULL DEFAULT '',
		duration_ns INTEGER NOT NULL,
		finished_at_ns INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_builds_context_id ON builds(context_id);
	CREATE INDEX IF NOT EXISTS idx_builds_task_finished ON builds(task_name, finished_at_ns);

	CREATE TABLE IF NOT EXISTS queue_snapshot (
		position INTEGER PRIMARY KEY,
		task_name TEXT NOT NULL,
		enqueued_at_ns INTEGER NOT NULL,
		actions TEXT NOT NULL DEFAULT '[]'
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
