package workflow

import "context"

// Handler produces the output of one node.
// Implementations live in the handlers sub-package; this interface is defined
// here so that Engine can use it without creating an import cycle.
type Handler interface {
	// Handle returns the node's textual output. Only nodes that call out to a
	// Generator are expected to fail.
	Handle(ctx context.Context, node *Node, rc *RunContext) (string, error)
}

// HandlerRegistry looks up Handler implementations by node type.
type HandlerRegistry interface {
	Get(nodeType NodeType) (Handler, error)
}

// RunContext is what a handler sees of the run in progress.
type RunContext struct {
	DAG   *DAG
	State *RunState
	Input string // the original user input
}

// Outputs returns a snapshot of the outputs accumulated so far.
func (rc *RunContext) Outputs() map[string]string {
	return rc.State.Outputs()
}

// Resolve substitutes references in template against the current outputs.
func (rc *RunContext) Resolve(template string) string {
	return ResolveReferences(template, rc.State.Outputs(), rc.DAG.Nodes)
}

// ResolveRef resolves a single reference against the current outputs.
func (rc *RunContext) ResolveRef(ref string) (string, bool) {
	return ResolveRef(ref, rc.State.Outputs(), rc.DAG.Nodes)
}
