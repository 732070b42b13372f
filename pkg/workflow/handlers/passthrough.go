package handlers

import (
	"context"

	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

// Placeholder outputs for nodes whose upstream value is missing. They keep a
// partially built graph runnable and inspectable.
const (
	NoOutputAvailable = "No output available"
	NoOutputGenerated = "No output generated"
	NoInputAvailable  = "No input available"
)

// InputHandler returns the user input verbatim. Input refs are ignored.
type InputHandler struct{}

func (InputHandler) Handle(_ context.Context, _ *workflow.Node, rc *workflow.RunContext) (string, error) {
	return rc.Input, nil
}

// ProcessHandler passes through its most recent resolvable input reference.
// With no resolvable ref it takes the output of an upstream node, found by
// edge.
type ProcessHandler struct{}

func (ProcessHandler) Handle(_ context.Context, node *workflow.Node, rc *workflow.RunContext) (string, error) {
	for i := len(node.InputRefs) - 1; i >= 0; i-- {
		if v, ok := rc.ResolveRef(node.InputRefs[i]); ok {
			return v, nil
		}
	}
	if v, ok := workflow.UpstreamOutput(rc.DAG, node.ID, rc.Outputs()); ok {
		return v, nil
	}
	return NoInputAvailable, nil
}

// OutputHandler surfaces the workflow result.
type OutputHandler struct{}

func (OutputHandler) Handle(_ context.Context, node *workflow.Node, rc *workflow.RunContext) (string, error) {
	if n := len(node.InputRefs); n > 0 {
		if v, ok := rc.ResolveRef(node.InputRefs[n-1]); ok {
			return v, nil
		}
		return NoOutputAvailable, nil
	}

	// No refs: the last non-output node, in declared order, that produced
	// something.
	for i := len(rc.DAG.Nodes) - 1; i >= 0; i-- {
		n := rc.DAG.Nodes[i]
		if n.Type == workflow.NodeTypeOutput {
			continue
		}
		if v, ok := rc.State.Output(n.ID); ok {
			return v, nil
		}
	}
	return NoOutputGenerated, nil
}
