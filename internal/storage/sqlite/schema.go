package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sites (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	sitemap_url TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS urls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id INTEGER NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	last_index_submitted INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (site_id, url)
)`,
	`CREATE INDEX IF NOT EXISTS urls_recent_idx ON urls (updated_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	trigger_source TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	stats TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	finished_at INTEGER
)`,
	`CREATE TABLE IF NOT EXISTS run_steps (
	run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	result BLOB,
	error TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, name)
)`,
}

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
