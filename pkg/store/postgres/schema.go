package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS opal_workflows (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    node_count  INTEGER NOT NULL DEFAULT 0,
    definition  JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS opal_runs (
    id           TEXT PRIMARY KEY,
    workflow_id  TEXT NOT NULL,
    input        TEXT NOT NULL DEFAULT '',
    success      BOOLEAN NOT NULL,
    final_output TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    failed_node  TEXT NOT NULL DEFAULT '',
    outputs      JSONB NOT NULL DEFAULT '{}',
    statuses     JSONB NOT NULL DEFAULT '{}',
    logs         JSONB NOT NULL DEFAULT '[]',
    started_at   TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_opal_runs_workflow ON opal_runs(workflow_id, started_at DESC);
`

// CreateSchema creates the opal_workflows and opal_runs tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the opal_runs and opal_workflows tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS opal_runs, opal_workflows CASCADE;`)
	return err
}
