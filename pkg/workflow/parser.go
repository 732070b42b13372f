package workflow

import (
	"fmt"
	"strconv"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// Node attributes with a dedicated field; everything else lands in Config.
var reservedAttrs = map[string]bool{
	"type":   true,
	"label":  true,
	"prompt": true,
	"refs":   true,
	"pos_x":  true,
	"pos_y":  true,
}

// ParseDOT parses a Graphviz DOT string into a DAG. Nodes keep the order in
// which they first appear in the source. Recognised node attributes are
// type, label, prompt, refs (comma-separated) and pos_x/pos_y; the rest
// become config entries. A graph-level model_stylesheet is applied before
// returning.
func ParseDOT(src string) (*DAG, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// Use a custom permissive graph collector that accepts any attribute name
	// without the strict validation that gographviz.Graph performs.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	d := &DAG{Name: collector.name}
	for _, id := range collector.order {
		attrs := collector.nodes[id]
		nodeType := NodeType(strings.ToLower(attrs["type"]))
		if nodeType == "" {
			nodeType = NodeTypeProcess
		}
		n := &Node{
			ID:             id,
			Type:           nodeType,
			Label:          attrs["label"],
			PromptTemplate: attrs["prompt"],
			InputRefs:      splitRefs(attrs["refs"]),
			Config:         map[string]any{},
		}
		for k, v := range attrs {
			if !reservedAttrs[k] {
				n.Config[k] = v
			}
		}
		if pos, ok := parsePosition(attrs); ok {
			n.Position = pos
		}
		d.Nodes = append(d.Nodes, n)
	}

	for _, e := range collector.edges {
		d.Edges = append(d.Edges, &Edge{Source: e.from, Target: e.to, Type: e.kind})
	}

	FromPlan(d)

	if raw, ok := collector.graphAttrs["model_stylesheet"]; ok {
		ParseStylesheet(raw).Apply(d)
	}
	return d, nil
}

func splitRefs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePosition(attrs map[string]string) (*Position, bool) {
	xs, okX := attrs["pos_x"]
	ys, okY := attrs["pos_y"]
	if !okX || !okY {
		return nil, false
	}
	x, errX := strconv.ParseFloat(xs, 64)
	y, errY := strconv.ParseFloat(ys, 64)
	if errX != nil || errY != nil {
		return nil, false
	}
	return &Position{X: x, Y: y}, true
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, to string
	kind     string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name       string
	nodes      map[string]map[string]string // id → attrs
	order      []string                     // first-appearance order
	edges      []rawEdge
	graphAttrs map[string]string
}

func newDOTCollector() *dotCollector {
	return &dotCollector{
		nodes:      make(map[string]map[string]string),
		graphAttrs: make(map[string]string),
	}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) touch(id string) {
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string)
		c.order = append(c.order, id)
	}
}

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	c.touch(id)
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, attrs map[string]string) error {
	from, to := unquote(src), unquote(dst)
	c.touch(from)
	c.touch(to)
	kind := EdgeTypeData
	if t, ok := attrs["type"]; ok && unquote(t) != "" {
		kind = unquote(t)
	}
	c.edges = append(c.edges, rawEdge{from: from, to: to, kind: kind})
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, field, value string) error {
	c.graphAttrs[field] = unquote(value)
	return nil
}

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// unquote strips surrounding double-quotes from a DOT attribute value and
// decodes escaped quotes inside it.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}
