package workflow

import "strings"

// Stylesheet holds CSS-like model configuration rules.
type Stylesheet struct {
	Rules []StyleRule
}

// StyleRule applies model settings to nodes matching a selector.
type StyleRule struct {
	Selector string // e.g. "type[ai]" or "*"
	Model    string
}

// ParseStylesheet parses a simple CSS-like model stylesheet.
// Example: `type[ai] { model: "openai:gpt-4o" }`
func ParseStylesheet(src string) *Stylesheet {
	ss := &Stylesheet{}
	for _, part := range strings.Split(strings.TrimSpace(src), "}") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		braceIdx := strings.Index(part, "{")
		if braceIdx < 0 {
			continue
		}
		rule := StyleRule{Selector: strings.TrimSpace(part[:braceIdx])}
		for _, line := range strings.Split(part[braceIdx+1:], ";") {
			kv := strings.SplitN(strings.TrimSpace(line), ":", 2)
			if len(kv) != 2 {
				continue
			}
			if strings.TrimSpace(kv[0]) == "model" {
				rule.Model = strings.Trim(strings.TrimSpace(kv[1]), `"`)
			}
		}
		ss.Rules = append(ss.Rules, rule)
	}
	return ss
}

// Apply sets config["model"] on every matching node. Later rules win.
func (s *Stylesheet) Apply(d *DAG) {
	if s == nil || d == nil {
		return
	}
	for _, rule := range s.Rules {
		if rule.Model == "" {
			continue
		}
		for _, node := range d.Nodes {
			if matchesSelector(rule.Selector, node) {
				if node.Config == nil {
					node.Config = make(map[string]any)
				}
				node.Config["model"] = rule.Model
			}
		}
	}
}

// matchesSelector returns true if the node matches the given selector.
// Supported selectors:
//   - "*"          all nodes
//   - "type[ai]"   nodes with type == ai
//   - "id[writer]" node with id == writer
func matchesSelector(selector string, node *Node) bool {
	selector = strings.TrimSpace(selector)
	if selector == "*" {
		return true
	}
	if strings.HasPrefix(selector, "type[") && strings.HasSuffix(selector, "]") {
		return strings.EqualFold(string(node.Type), selector[5:len(selector)-1])
	}
	if strings.HasPrefix(selector, "id[") && strings.HasSuffix(selector, "]") {
		return node.ID == selector[3:len(selector)-1]
	}
	return false
}
