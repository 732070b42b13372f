// Package store persists workflow definitions and run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

// ErrNotFound is returned when a workflow or run does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the contract for persisting workflows and their runs.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, d *workflow.DAG) error
	GetWorkflow(ctx context.Context, id string) (*workflow.DAG, error)
	ListWorkflows(ctx context.Context) ([]WorkflowSummary, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Runs
	SaveRun(ctx context.Context, r *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error)
}

// WorkflowSummary is the listing view of a stored workflow.
type WorkflowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NodeCount int       `json:"nodeCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RunRecord is the persisted outcome of one run.
type RunRecord struct {
	ID          string                         `json:"id"`
	WorkflowID  string                         `json:"workflowId"`
	Input       string                         `json:"input"`
	Success     bool                           `json:"success"`
	FinalOutput string                         `json:"finalOutput,omitempty"`
	Error       string                         `json:"error,omitempty"`
	FailedNode  string                         `json:"failedNode,omitempty"`
	NodeOutputs map[string]string              `json:"nodeOutputs"`
	Statuses    map[string]workflow.NodeStatus `json:"statuses"`
	Logs        []workflow.LogEntry            `json:"logs"`
	StartedAt   time.Time                      `json:"startedAt"`
	Duration    time.Duration                  `json:"duration"`
}

// NewRunRecord snapshots a run result for workflowID.
func NewRunRecord(workflowID, input string, res *workflow.RunResult) *RunRecord {
	return &RunRecord{
		ID:          res.RunID,
		WorkflowID:  workflowID,
		Input:       input,
		Success:     res.Success,
		FinalOutput: res.FinalOutput,
		Error:       res.Error,
		FailedNode:  res.FailedNode,
		NodeOutputs: res.NodeOutputs,
		Statuses:    res.Statuses,
		Logs:        res.Logs,
		StartedAt:   res.StartedAt,
		Duration:    res.Duration,
	}
}

// Summarize builds the listing view of d.
func Summarize(d *workflow.DAG, updated time.Time) WorkflowSummary {
	return WorkflowSummary{
		ID:        d.ID,
		Name:      d.Name,
		NodeCount: len(d.Nodes),
		CreatedAt: d.CreatedAt,
		UpdatedAt: updated,
	}
}
