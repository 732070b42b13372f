package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// LintError describes a structural problem in a workflow.
type LintError struct {
	NodeID  string `json:"nodeId,omitempty"`
	Message string `json:"message"`
}

func (e LintError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// Validate checks a workflow for structural correctness.
// Returns all discovered errors (not just the first).
func Validate(d *DAG) []LintError {
	var errs []LintError

	errs = append(errs, checkTerminals(d)...)

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			errs = append(errs, LintError{Message: "node with empty id"})
			continue
		}
		if seen[n.ID] {
			errs = append(errs, LintError{NodeID: n.ID, Message: "duplicate node id"})
		}
		seen[n.ID] = true
		errs = append(errs, ValidateNode(n)...)
	}

	// Re-check each edge against the graph as it would look without it, so
	// an edge never counts as its own duplicate.
	pairs := make(map[[2]string]bool, len(d.Edges))
	for _, e := range d.Edges {
		pair := [2]string{e.Source, e.Target}
		if pairs[pair] {
			errs = append(errs, LintError{Message: fmt.Sprintf("edge %s→%s: %s", e.Source, e.Target, ReasonDuplicate)})
			continue
		}
		pairs[pair] = true
		if v := checkEdgeShape(d, e.Source, e.Target); !v.OK {
			errs = append(errs, LintError{Message: fmt.Sprintf("edge %s→%s: %s", e.Source, e.Target, v.Reason)})
		}
	}

	if _, err := TopologicalOrder(d); err != nil {
		var cyc *CyclicGraphError
		if errors.As(err, &cyc) {
			errs = append(errs, LintError{Message: fmt.Sprintf("cycle detected; unschedulable nodes: %s", strings.Join(cyc.Excluded, ", "))})
		}
	}

	return errs
}

// ValidateNode checks a single node's own fields.
func ValidateNode(n *Node) []LintError {
	var errs []LintError
	if !n.Type.Valid() {
		errs = append(errs, LintError{NodeID: n.ID, Message: fmt.Sprintf("unknown node type %q", n.Type)})
	}
	if n.Type == NodeTypeAI && strings.TrimSpace(n.PromptTemplate) == "" {
		errs = append(errs, LintError{NodeID: n.ID, Message: "ai node has no promptTemplate; the user input will be sent as the prompt"})
	}
	return errs
}

// ValidateErr calls Validate and returns nil if there are no errors, or a
// combined error message listing all lint errors.
func ValidateErr(d *DAG) error {
	errs := Validate(d)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("workflow validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// CheckRunnable verifies what execution needs: exactly one input node and
// exactly one output node. Cycles are reported by the scheduler itself.
func CheckRunnable(d *DAG) error {
	errs := checkTerminals(d)
	if len(errs) == 0 {
		return nil
	}
	problems := make([]string, len(errs))
	for i, e := range errs {
		problems[i] = e.Error()
	}
	return &InvalidGraphError{Problems: problems}
}

func checkTerminals(d *DAG) []LintError {
	var errs []LintError
	for _, t := range []NodeType{NodeTypeInput, NodeTypeOutput} {
		switch n := d.CountType(t); n {
		case 1:
			// good
		case 0:
			errs = append(errs, LintError{Message: fmt.Sprintf("workflow must have exactly one %s node", t)})
		default:
			errs = append(errs, LintError{Message: fmt.Sprintf("workflow has %d %s nodes; exactly one required", n, t)})
		}
	}
	return errs
}

// checkEdgeShape is CheckEdge minus the duplicate rule.
func checkEdgeShape(d *DAG, source, target string) EdgeVerdict {
	if source == target {
		return EdgeVerdict{Reason: ReasonSelfLoop}
	}
	src, dst := d.Node(source), d.Node(target)
	switch {
	case src == nil:
		return EdgeVerdict{Reason: ReasonUnknownSource}
	case dst == nil:
		return EdgeVerdict{Reason: ReasonUnknownTarget}
	case src.Type == NodeTypeOutput:
		return EdgeVerdict{Reason: ReasonFromOutput}
	case dst.Type == NodeTypeInput:
		return EdgeVerdict{Reason: ReasonToInput}
	}
	return EdgeVerdict{OK: true}
}
