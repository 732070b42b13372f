package workflow

import "time"

// NodeType identifies the kind of work a node performs.
type NodeType string

const (
	NodeTypeInput   NodeType = "input"
	NodeTypeProcess NodeType = "process"
	NodeTypeAI      NodeType = "ai"
	NodeTypeOutput  NodeType = "output"
)

// Valid reports whether t is one of the four known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeInput, NodeTypeProcess, NodeTypeAI, NodeTypeOutput:
		return true
	}
	return false
}

// NodeStatus is the transient run-state of a node.
type NodeStatus string

const (
	StatusIdle    NodeStatus = "idle"
	StatusRunning NodeStatus = "running"
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
)

// EdgeTypeData is the only edge type with execution meaning.
const EdgeTypeData = "data"

// Position is a 2D layout coordinate. It has no execution meaning.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node represents a single vertex in the workflow graph.
type Node struct {
	ID             string         `json:"id" yaml:"id"`
	Type           NodeType       `json:"type" yaml:"type"`
	InputRefs      []string       `json:"inputRefs" yaml:"inputRefs"`
	PromptTemplate string         `json:"promptTemplate,omitempty" yaml:"promptTemplate,omitempty"`
	Label          string         `json:"label" yaml:"label"`
	Config         map[string]any `json:"config" yaml:"config"`
	Status         NodeStatus     `json:"status" yaml:"status"`
	Position       *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

// ConfigString returns config[key] as a string, or "" if absent or not a string.
func (n *Node) ConfigString(key string) string {
	if n.Config == nil {
		return ""
	}
	s, _ := n.Config[key].(string)
	return s
}

// Edge is a directed data dependency between two nodes.
type Edge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Type   string `json:"type" yaml:"type"`
}

// DAG is a workflow graph. Nodes keep their declaration order, which drives
// positional references and ordering tie-breaks.
type DAG struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Nodes     []*Node   `json:"nodes" yaml:"nodes"`
	Edges     []*Edge   `json:"edges" yaml:"edges"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// Node returns the node with the given id, or nil.
func (d *DAG) Node(id string) *Node {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// IndexOf returns the declaration index of id, or -1.
func (d *DAG) IndexOf(id string) int {
	for i, n := range d.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// OutgoingEdges returns all edges leaving nodeID, in definition order.
func (d *DAG) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range d.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges arriving at nodeID.
func (d *DAG) IncomingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range d.Edges {
		if e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// HasEdge reports whether an edge source→target already exists.
func (d *DAG) HasEdge(source, target string) bool {
	for _, e := range d.Edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}

// CountType returns how many nodes have type t.
func (d *DAG) CountType(t NodeType) int {
	n := 0
	for _, node := range d.Nodes {
		if node.Type == t {
			n++
		}
	}
	return n
}

// FirstOfType returns the first node of type t in declaration order, or nil.
func (d *DAG) FirstOfType(t NodeType) *Node {
	for _, n := range d.Nodes {
		if n.Type == t {
			return n
		}
	}
	return nil
}

// Clone returns a deep copy of the DAG. Config values are copied shallowly.
func (d *DAG) Clone() *DAG {
	if d == nil {
		return nil
	}
	out := &DAG{
		ID:        d.ID,
		Name:      d.Name,
		CreatedAt: d.CreatedAt,
		Nodes:     make([]*Node, 0, len(d.Nodes)),
		Edges:     make([]*Edge, 0, len(d.Edges)),
	}
	for _, n := range d.Nodes {
		cp := *n
		cp.InputRefs = append([]string(nil), n.InputRefs...)
		if n.Config != nil {
			cp.Config = make(map[string]any, len(n.Config))
			for k, v := range n.Config {
				cp.Config[k] = v
			}
		}
		if n.Position != nil {
			pos := *n.Position
			cp.Position = &pos
		}
		out.Nodes = append(out.Nodes, &cp)
	}
	for _, e := range d.Edges {
		cp := *e
		out.Edges = append(out.Edges, &cp)
	}
	return out
}
