package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNodeNotFound    = errors.New("workflow: node not found")
	ErrEdgeNotFound    = errors.New("workflow: edge not found")
	ErrDuplicateNode   = errors.New("workflow: duplicate node id")
	ErrDuplicateInput  = errors.New("workflow: graph already has an input node")
	ErrDuplicateOutput = errors.New("workflow: graph already has an output node")
	ErrUnknownNodeType = errors.New("workflow: unknown node type")
	ErrIllegalEdge     = errors.New("workflow: illegal edge")
	ErrCycle           = errors.New("workflow: graph contains a cycle")
	ErrMalformedPlan   = errors.New("workflow: malformed plan")
)

// CyclicGraphError is returned when some nodes can never be scheduled
// because they sit on, or behind, a cycle.
type CyclicGraphError struct {
	Excluded []string // node ids that never reached in-degree zero
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("workflow: graph contains a cycle; unschedulable nodes: %s", strings.Join(e.Excluded, ", "))
}

func (e *CyclicGraphError) Unwrap() error { return ErrCycle }

// InvalidGraphError reports a graph that cannot be run as-is, e.g. one
// without exactly one input and one output node.
type InvalidGraphError struct {
	Problems []string
}

func (e *InvalidGraphError) Error() string {
	return "workflow: invalid graph: " + strings.Join(e.Problems, "; ")
}
