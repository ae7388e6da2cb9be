package repository

import (
	"context"
	"fmt"

	"github.com/openlearn/coursestore/common/db"
)

// schema mirrors scripts/schema.sql. Statements are idempotent so the
// init hook can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS block (
		org           TEXT        NOT NULL,
		course        TEXT        NOT NULL,
		run           TEXT        NOT NULL,
		block_type    TEXT        NOT NULL,
		block_id      TEXT        NOT NULL,
		revision      TEXT        NOT NULL DEFAULT '',
		definition_id UUID        NOT NULL,
		fields        JSONB       NOT NULL DEFAULT '{}',
		children      JSONB       NOT NULL DEFAULT '[]',
		edited_by     TEXT        NOT NULL,
		edited_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (org, course, run, block_type, block_id, revision)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_block_children ON block USING GIN (children)`,
	`CREATE INDEX IF NOT EXISTS idx_block_category ON block (org, course, run, block_type)`,
	`CREATE TABLE IF NOT EXISTS structure (
		version_guid     UUID        PRIMARY KEY,
		root_block_id    TEXT        NOT NULL,
		previous_version UUID        NOT NULL,
		original_version UUID        NOT NULL,
		edited_by        TEXT        NOT NULL,
		edited_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		blocks           JSONB       NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_structure_family ON structure (original_version, edited_at)`,
	`CREATE TABLE IF NOT EXISTS course_index (
		org       TEXT        NOT NULL,
		course    TEXT        NOT NULL,
		run       TEXT        NOT NULL,
		versions  JSONB       NOT NULL DEFAULT '{}',
		edited_by TEXT        NOT NULL,
		edited_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (org, course, run)
	)`,
	`CREATE TABLE IF NOT EXISTS definition (
		definition_id    UUID        PRIMARY KEY,
		category         TEXT        NOT NULL,
		fields           JSONB       NOT NULL DEFAULT '{}',
		previous_version UUID        NOT NULL,
		original_version UUID        NOT NULL,
		edited_by        TEXT        NOT NULL,
		edited_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_definition_lineage ON definition (previous_version)`,
}

// EnsureSchema creates the course store tables if they do not exist.
// Wired as a bootstrap database init hook.
func EnsureSchema(database *db.DB) error {
	ctx := context.Background()
	for _, stmt := range schemaStatements {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
