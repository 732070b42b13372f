package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ravi-parthasarathy/opal/pkg/store"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

// SaveWorkflow inserts or replaces a workflow definition.
func (s *PGStore) SaveWorkflow(ctx context.Context, d *workflow.DAG) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("store: workflow must have an id")
	}
	def, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: encode workflow: %w", err)
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO opal_workflows (id, name, node_count, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    node_count = EXCLUDED.node_count,
		    definition = EXCLUDED.definition,
		    updated_at = NOW()`,
		d.ID, d.Name, len(d.Nodes), def, created,
	)
	if err != nil {
		return fmt.Errorf("store: upsert workflow %s: %w", d.ID, err)
	}
	return nil
}

// GetWorkflow fetches a workflow definition by id.
func (s *PGStore) GetWorkflow(ctx context.Context, id string) (*workflow.DAG, error) {
	var def []byte
	err := s.db.QueryRow(ctx, `SELECT definition FROM opal_workflows WHERE id = $1`, id).Scan(&def)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("store: get workflow: %w", err)
	}
	var d workflow.DAG
	if err := json.Unmarshal(def, &d); err != nil {
		return nil, fmt.Errorf("store: decode workflow %s: %w", id, err)
	}
	return &d, nil
}

// ListWorkflows returns summaries ordered by creation time, oldest first.
func (s *PGStore) ListWorkflows(ctx context.Context) ([]store.WorkflowSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, node_count, created_at, updated_at FROM opal_workflows ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: query workflows: %w", err)
	}
	defer rows.Close()

	out := []store.WorkflowSummary{}
	for rows.Next() {
		var w store.WorkflowSummary
		if err := rows.Scan(&w.ID, &w.Name, &w.NodeCount, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows workflows: %w", err)
	}
	return out, nil
}

// DeleteWorkflow removes a workflow and its run history in one transaction.
func (s *PGStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM opal_runs WHERE workflow_id = $1`, id); err != nil {
		return fmt.Errorf("store: delete runs: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM opal_workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return tx.Commit(ctx)
}
