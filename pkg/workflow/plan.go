package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Default layout used when a node arrives without a position.
const (
	layoutBaseX   = 100
	layoutSpacing = 250
	layoutY       = 200
)

const defaultName = "Untitled workflow"

// DefaultPosition returns the left-to-right layout slot for the node at index.
func DefaultPosition(index int) *Position {
	return &Position{X: float64(layoutBaseX + index*layoutSpacing), Y: layoutY}
}

// FromPlan fills in everything an external planner may have left out and
// returns d. Missing status becomes idle, missing position gets the linear
// layout, nil config and refs become empty. When the plan has no edges but
// more than one node, a linear chain in declaration order is synthesized.
func FromPlan(d *DAG) *DAG {
	if d == nil {
		d = &DAG{}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Name == "" {
		d.Name = defaultName
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.Nodes = dropNil(d.Nodes)
	d.Edges = dropNil(d.Edges)

	for i, n := range d.Nodes {
		if n.Status == "" {
			n.Status = StatusIdle
		}
		if n.Position == nil {
			n.Position = DefaultPosition(i)
		}
		if n.Config == nil {
			n.Config = map[string]any{}
		}
		if n.InputRefs == nil {
			n.InputRefs = []string{}
		}
		n.Type = NodeType(strings.ToLower(string(n.Type)))
		if n.Label == "" {
			n.Label = n.ID
		}
	}

	if len(d.Edges) == 0 && len(d.Nodes) > 1 {
		d.Edges = LinearChain(d.Nodes)
	}
	for _, e := range d.Edges {
		if e.ID == "" {
			e.ID = edgeID(e.Source, e.Target)
		}
		if e.Type == "" {
			e.Type = EdgeTypeData
		}
	}
	if d.Edges == nil {
		d.Edges = []*Edge{}
	}
	return d
}

// CheckPlan rejects a decoded plan whose node or edge lists contain null
// entries.
func CheckPlan(d *DAG) error {
	for i, n := range d.Nodes {
		if n == nil {
			return fmt.Errorf("%w: node %d is null", ErrMalformedPlan, i)
		}
	}
	for i, e := range d.Edges {
		if e == nil {
			return fmt.Errorf("%w: edge %d is null", ErrMalformedPlan, i)
		}
	}
	return nil
}

func dropNil[T any](s []*T) []*T {
	kept := s[:0]
	for _, v := range s {
		if v != nil {
			kept = append(kept, v)
		}
	}
	return kept
}

// LinearChain connects nodes in declaration order: n0→n1→…→nk.
func LinearChain(nodes []*Node) []*Edge {
	if len(nodes) < 2 {
		return nil
	}
	edges := make([]*Edge, 0, len(nodes)-1)
	for i := 0; i < len(nodes)-1; i++ {
		src, dst := nodes[i].ID, nodes[i+1].ID
		edges = append(edges, &Edge{ID: edgeID(src, dst), Source: src, Target: dst, Type: EdgeTypeData})
	}
	return edges
}

func edgeID(source, target string) string {
	return fmt.Sprintf("e-%s-%s", source, target)
}

// DecodePlan decodes a planner document in "json" or "yaml" format and
// applies FromPlan.
func DecodePlan(data []byte, format string) (*DAG, error) {
	var d DAG
	switch strings.ToLower(format) {
	case "json", "":
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode json plan: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode yaml plan: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q (supported: json, yaml)", format)
	}
	if err := CheckPlan(&d); err != nil {
		return nil, err
	}
	return FromPlan(&d), nil
}

// LoadFile reads a workflow from disk, choosing the decoder by extension:
// .json, .yaml/.yml or .dot/.gv.
func LoadFile(path string) (*DAG, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".dot", ".gv":
		return ParseDOT(string(src))
	case ".yaml", ".yml":
		return DecodePlan(src, "yaml")
	case ".json":
		return DecodePlan(src, "json")
	default:
		return nil, fmt.Errorf("unsupported workflow file extension %q", ext)
	}
}
