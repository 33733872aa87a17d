package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sites (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	sitemap_url TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS urls (
	id BIGSERIAL PRIMARY KEY,
	site_id BIGINT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	last_index_submitted TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (site_id, url)
)`,
	`CREATE INDEX IF NOT EXISTS urls_recent_idx ON urls (updated_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	trigger_source TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	stats JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS runs_created_idx ON runs (created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS run_steps (
	run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	result JSONB,
	error TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, name)
)`,
}

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, pool Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
