package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

type storedWorkflow struct {
	dag     *workflow.DAG
	updated time.Time
}

// Memory is an in-process Store. Workflows are copied on the way in and out,
// so callers never share graph values with the store.
type Memory struct {
	mu        sync.RWMutex
	workflows map[string]storedWorkflow
	runs      map[string]*RunRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		workflows: make(map[string]storedWorkflow),
		runs:      make(map[string]*RunRecord),
	}
}

func (m *Memory) SaveWorkflow(_ context.Context, d *workflow.DAG) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("store: workflow must have an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[d.ID] = storedWorkflow{dag: d.Clone(), updated: time.Now().UTC()}
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, id string) (*workflow.DAG, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sw, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sw.dag.Clone(), nil
}

// ListWorkflows returns summaries ordered by creation time, oldest first.
func (m *Memory) ListWorkflows(_ context.Context) ([]WorkflowSummary, error) {
	m.mu.RLock()
	out := make([]WorkflowSummary, 0, len(m.workflows))
	for _, sw := range m.workflows {
		out = append(out, Summarize(sw.dag, sw.updated))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteWorkflow removes a workflow and its run history.
func (m *Memory) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, id)
	for rid, r := range m.runs {
		if r.WorkflowID == id {
			delete(m.runs, rid)
		}
	}
	return nil
}

func (m *Memory) SaveRun(_ context.Context, r *RunRecord) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("store: run must have an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRuns returns the runs of a workflow, newest first. limit <= 0 means all.
func (m *Memory) ListRuns(_ context.Context, workflowID string, limit int) ([]*RunRecord, error) {
	m.mu.RLock()
	var out []*RunRecord
	for _, r := range m.runs {
		if r.WorkflowID == workflowID {
			cp := *r
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
