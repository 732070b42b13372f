package workflow

import (
	"fmt"

	"github.com/google/uuid"
)

// Builder supports incremental editing of a DAG between runs. It is not
// safe for concurrent use; callers serialise mutations and runs.
type Builder struct {
	dag      *DAG
	selected string
}

// NewBuilder wraps d. A nil d is allowed; the first AddNode creates one.
func NewBuilder(d *DAG) *Builder {
	return &Builder{dag: d}
}

// DAG returns the graph being edited (nil until the first node is added).
func (b *Builder) DAG() *DAG { return b.dag }

// Select marks a node as selected.
func (b *Builder) Select(nodeID string) { b.selected = nodeID }

// Selected returns the selected node id, or "".
func (b *Builder) Selected() string { return b.selected }

// AddNode appends n to the graph. An empty id gets a generated one; a
// missing position gets the next layout slot. A second input or output node
// is rejected.
func (b *Builder) AddNode(n *Node) (*Node, error) {
	if n == nil {
		return nil, fmt.Errorf("node must not be nil")
	}
	if !n.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, n.Type)
	}
	if b.dag == nil {
		b.dag = FromPlan(&DAG{})
	}
	if n.ID == "" {
		n.ID = fmt.Sprintf("%s-%s", n.Type, uuid.NewString()[:8])
	}
	if b.dag.Node(n.ID) != nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID)
	}
	switch {
	case n.Type == NodeTypeInput && b.dag.CountType(NodeTypeInput) > 0:
		return nil, ErrDuplicateInput
	case n.Type == NodeTypeOutput && b.dag.CountType(NodeTypeOutput) > 0:
		return nil, ErrDuplicateOutput
	}

	if n.Status == "" {
		n.Status = StatusIdle
	}
	if n.Position == nil {
		n.Position = DefaultPosition(len(b.dag.Nodes))
	}
	if n.Config == nil {
		n.Config = map[string]any{}
	}
	if n.InputRefs == nil {
		n.InputRefs = []string{}
	}
	if n.Label == "" {
		n.Label = n.ID
	}
	b.dag.Nodes = append(b.dag.Nodes, n)
	return n, nil
}

// DeleteNode removes a node and every edge touching it. If the node was
// selected the selection is cleared.
func (b *Builder) DeleteNode(nodeID string) error {
	if b.dag == nil || b.dag.IndexOf(nodeID) < 0 {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	idx := b.dag.IndexOf(nodeID)
	b.dag.Nodes = append(b.dag.Nodes[:idx], b.dag.Nodes[idx+1:]...)

	kept := b.dag.Edges[:0]
	for _, e := range b.dag.Edges {
		if e.Source != nodeID && e.Target != nodeID {
			kept = append(kept, e)
		}
	}
	b.dag.Edges = kept

	if b.selected == nodeID {
		b.selected = ""
	}
	return nil
}

// AddEdge inserts source→target if it passes CheckEdge. Rejected edges leave
// the graph untouched; the verdict says why.
func (b *Builder) AddEdge(source, target string) (*Edge, EdgeVerdict) {
	if b.dag == nil {
		return nil, EdgeVerdict{Reason: ReasonUnknownSource}
	}
	v := CheckEdge(b.dag, source, target)
	if !v.OK {
		return nil, v
	}
	e := &Edge{
		ID:     "e-" + uuid.NewString()[:8],
		Source: source,
		Target: target,
		Type:   EdgeTypeData,
	}
	b.dag.Edges = append(b.dag.Edges, e)
	return e, v
}

// DeleteEdge removes an edge by id.
func (b *Builder) DeleteEdge(edgeID string) error {
	if b.dag != nil {
		for i, e := range b.dag.Edges {
			if e.ID == edgeID {
				b.dag.Edges = append(b.dag.Edges[:i], b.dag.Edges[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %q", ErrEdgeNotFound, edgeID)
}

func (b *Builder) node(nodeID string) (*Node, error) {
	if b.dag != nil {
		if n := b.dag.Node(nodeID); n != nil {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
}

// UpdateInstruction replaces a node's prompt template.
func (b *Builder) UpdateInstruction(nodeID, template string) error {
	n, err := b.node(nodeID)
	if err != nil {
		return err
	}
	n.PromptTemplate = template
	return nil
}

// UpdateConfig merges cfg into a node's config.
func (b *Builder) UpdateConfig(nodeID string, cfg map[string]any) error {
	n, err := b.node(nodeID)
	if err != nil {
		return err
	}
	if n.Config == nil {
		n.Config = make(map[string]any, len(cfg))
	}
	for k, v := range cfg {
		n.Config[k] = v
	}
	return nil
}

// UpdatePosition moves a node.
func (b *Builder) UpdatePosition(nodeID string, pos Position) error {
	n, err := b.node(nodeID)
	if err != nil {
		return err
	}
	n.Position = &pos
	return nil
}

// UpdateStatus sets a node's displayed status.
func (b *Builder) UpdateStatus(nodeID string, st NodeStatus) error {
	n, err := b.node(nodeID)
	if err != nil {
		return err
	}
	n.Status = st
	return nil
}

// ApplyStatuses copies run statuses onto the graph for display. Unknown ids
// are ignored.
func (b *Builder) ApplyStatuses(statuses map[string]NodeStatus) {
	if b.dag == nil {
		return
	}
	for _, n := range b.dag.Nodes {
		if st, ok := statuses[n.ID]; ok {
			n.Status = st
		}
	}
}

// UpstreamOutput resolves a node's immediate upstream output.
func (b *Builder) UpstreamOutput(nodeID string, outputs map[string]string) (string, bool) {
	if b.dag == nil {
		return "", false
	}
	return UpstreamOutput(b.dag, nodeID, outputs)
}

// Downstream returns every node reachable from nodeID (breadth-first,
// nodeID itself excluded). Callers use it to invalidate stale outputs.
func (b *Builder) Downstream(nodeID string) []string {
	if b.dag == nil {
		return nil
	}
	return Downstream(b.dag, nodeID)
}

// Downstream returns every node reachable from nodeID in breadth-first order.
func Downstream(d *DAG, nodeID string) []string {
	visited := map[string]bool{nodeID: true}
	queue := []string{nodeID}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range d.OutgoingEdges(cur) {
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			out = append(out, e.Target)
			queue = append(queue, e.Target)
		}
	}
	return out
}

// UpstreamOutput returns the output of the closest upstream node of nodeID
// that has one: incoming edges are checked last to first.
func UpstreamOutput(d *DAG, nodeID string, outputs map[string]string) (string, bool) {
	in := d.IncomingEdges(nodeID)
	for i := len(in) - 1; i >= 0; i-- {
		if v, ok := outputs[in[i].Source]; ok {
			return v, true
		}
	}
	return "", false
}
