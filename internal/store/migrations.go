package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all cyflow tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		event      TEXT NOT NULL DEFAULT 'tick'
	)`,

	`CREATE TABLE IF NOT EXISTS task_pool (
		checkpoint_id TEXT NOT NULL,
		cycle         TEXT NOT NULL,
		name          TEXT NOT NULL,
		state         TEXT NOT NULL,
		held          INTEGER NOT NULL DEFAULT 0,
		submit_num    INTEGER NOT NULL DEFAULT 0,
		try_num       INTEGER NOT NULL DEFAULT 0,
		outputs       TEXT NOT NULL DEFAULT '[]',
		prereqs       TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (checkpoint_id, cycle, name)
	)`,

	`CREATE TABLE IF NOT EXISTS broadcasts (
		checkpoint_id TEXT NOT NULL,
		point_pattern TEXT NOT NULL,
		name_pattern  TEXT NOT NULL,
		key           TEXT NOT NULL,
		value         TEXT NOT NULL,
		seq           INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS xtriggers (
		checkpoint_id TEXT NOT NULL,
		key           TEXT NOT NULL,
		PRIMARY KEY (checkpoint_id, key)
	)`,

	`CREATE TABLE IF NOT EXISTS workflow_params (
		checkpoint_id TEXT NOT NULL,
		key           TEXT NOT NULL,
		value         TEXT NOT NULL,
		PRIMARY KEY (checkpoint_id, key)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_task_pool_checkpoint ON task_pool(checkpoint_id)`,
	`CREATE INDEX IF NOT EXISTS idx_broadcasts_checkpoint ON broadcasts(checkpoint_id)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
