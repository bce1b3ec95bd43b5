package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all LightCI tables.
// Each statement uses IF NOT EXISTS for idempotency. Status columns carry
// the canonical lowercase status strings.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pipelines (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		repository     TEXT NOT NULL DEFAULT '',
		default_branch TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		workspace_id   TEXT NOT NULL DEFAULT '',
		environment    TEXT NOT NULL DEFAULT '{}',
		status         TEXT NOT NULL DEFAULT 'unspecified',
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS pipeline_steps (
		pipeline_id     TEXT NOT NULL,
		step_id         TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		command         TEXT NOT NULL,
		environment     TEXT NOT NULL DEFAULT '{}',
		dependencies    TEXT NOT NULL DEFAULT '[]',
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		retries         INTEGER NOT NULL DEFAULT 0,
		working_dir     TEXT NOT NULL DEFAULT '',
		position        INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (pipeline_id, step_id),
		FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS builds (
		id           TEXT PRIMARY KEY,
		pipeline_id  TEXT NOT NULL,
		branch       TEXT NOT NULL DEFAULT '',
		commit_sha   TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'pending',
		parameters   TEXT NOT NULL DEFAULT '{}',
		started_at   TEXT,
		completed_at TEXT,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,

	// Per-build step results.
	`CREATE TABLE IF NOT EXISTS steps (
		build_id     TEXT NOT NULL,
		step_id      TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		output       TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		exit_code    INTEGER,
		started_at   TEXT,
		completed_at TEXT,
		PRIMARY KEY (build_id, step_id)
	)`,

	`CREATE TABLE IF NOT EXISTS build_logs (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id  TEXT NOT NULL,
		step_id   TEXT NOT NULL DEFAULT '',
		content   TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_builds_pipeline_id ON builds(pipeline_id)`,
	`CREATE INDEX IF NOT EXISTS idx_builds_status ON builds(status)`,
	`CREATE INDEX IF NOT EXISTS idx_steps_build_id ON steps(build_id)`,
	`CREATE INDEX IF NOT EXISTS idx_build_logs_build_id ON build_logs(build_id)`,
}

// migrate applies the schema inside a single transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return tx.Commit()
}
