package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ravi-parthasarathy/opal/pkg/store"
)

const runColumns = `id, workflow_id, input, success, final_output, error, failed_node,
	outputs, statuses, logs, started_at, duration_ms`

// SaveRun inserts or replaces a run record.
func (s *PGStore) SaveRun(ctx context.Context, r *store.RunRecord) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("store: run must have an id")
	}
	outputs, err := json.Marshal(nonNilMap(r.NodeOutputs))
	if err != nil {
		return fmt.Errorf("store: encode outputs: %w", err)
	}
	statuses, err := json.Marshal(r.Statuses)
	if err != nil {
		return fmt.Errorf("store: encode statuses: %w", err)
	}
	logs, err := json.Marshal(r.Logs)
	if err != nil {
		return fmt.Errorf("store: encode logs: %w", err)
	}
	if r.Statuses == nil {
		statuses = []byte("{}")
	}
	if r.Logs == nil {
		logs = []byte("[]")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO opal_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET success = EXCLUDED.success,
		    final_output = EXCLUDED.final_output,
		    error = EXCLUDED.error,
		    failed_node = EXCLUDED.failed_node,
		    outputs = EXCLUDED.outputs,
		    statuses = EXCLUDED.statuses,
		    logs = EXCLUDED.logs,
		    duration_ms = EXCLUDED.duration_ms`,
		r.ID, r.WorkflowID, r.Input, r.Success, r.FinalOutput, r.Error, r.FailedNode,
		outputs, statuses, logs, r.StartedAt, r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("store: insert run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun fetches a run record by id.
func (s *PGStore) GetRun(ctx context.Context, id string) (*store.RunRecord, error) {
	r, err := scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM opal_runs WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the runs of a workflow, newest first. limit <= 0 means all.
func (s *PGStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*store.RunRecord, error) {
	q := `SELECT ` + runColumns + ` FROM opal_runs WHERE workflow_id = $1 ORDER BY started_at DESC, id DESC`
	args := []any{workflowID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var out []*store.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows runs: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*store.RunRecord, error) {
	var (
		r                       store.RunRecord
		outputs, statuses, logs []byte
		durationMS              int64
	)
	if err := row.Scan(&r.ID, &r.WorkflowID, &r.Input, &r.Success, &r.FinalOutput, &r.Error, &r.FailedNode,
		&outputs, &statuses, &logs, &r.StartedAt, &durationMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(outputs, &r.NodeOutputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	if err := json.Unmarshal(statuses, &r.Statuses); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}
	if err := json.Unmarshal(logs, &r.Logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return &r, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
