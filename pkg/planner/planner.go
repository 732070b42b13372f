// Package planner turns a natural-language request into a workflow graph by
// asking a Generator to design one.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ravi-parthasarathy/opal/pkg/llm"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

// ErrNoPlan is returned when the model reply contains no usable workflow.
var ErrNoPlan = errors.New("planner: no workflow found in model reply")

const instructions = `You are a workflow architect. Design a small linear workflow (3 to 6 nodes)
that fulfils the user's request and reply with a single JSON object, no prose:

{
  "name": "short workflow name",
  "nodes": [
    {"id": "input-1", "type": "input", "label": "User input", "inputRefs": []},
    {"id": "ai-1", "type": "ai", "label": "...", "promptTemplate": "... @input-1 ...", "inputRefs": ["@input-1"]},
    {"id": "output-1", "type": "output", "label": "Result", "inputRefs": ["@ai-1"]}
  ],
  "edges": [{"source": "input-1", "target": "ai-1"}, {"source": "ai-1", "target": "output-1"}]
}

Rules:
- node types are input, process, ai and output
- exactly one input node (first) and exactly one output node (last)
- reference earlier outputs in promptTemplate with @<node id> or @StepN (1-based position)
- ids use only letters, digits, '-' and '_'

Request: `

// Architect designs workflows with a Generator.
type Architect struct {
	Generator llm.Generator
}

// Plan asks the generator for a workflow matching prompt, then decodes and
// validates the reply.
func (a *Architect) Plan(ctx context.Context, prompt string) (*workflow.DAG, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("planner: empty prompt")
	}
	if a.Generator == nil {
		return nil, fmt.Errorf("planner: no generator configured")
	}
	reply, err := a.Generator.Generate(ctx, instructions+prompt)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	d, err := Decode(reply)
	if err != nil {
		slog.Debug("unusable plan", "reply", workflow.Preview(reply))
		return nil, err
	}
	if err := workflow.ValidateErr(d); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	slog.Info("planned workflow", "name", d.Name, "nodes", len(d.Nodes), "edges", len(d.Edges))
	return d, nil
}

// Decode extracts a workflow from free-form model output. The first JSON
// object in the text is used; markdown code fences and surrounding prose are
// tolerated. Defaults are filled by workflow.FromPlan.
func Decode(reply string) (*workflow.DAG, error) {
	body := firstObject(reply)
	if body == "" {
		return nil, ErrNoPlan
	}
	fields := gjson.GetMany(body, "name", "nodes", "edges")
	if !fields[1].IsArray() || len(fields[1].Array()) == 0 {
		return nil, ErrNoPlan
	}

	d := &workflow.DAG{Name: fields[0].String()}
	if err := json.Unmarshal([]byte(fields[1].Raw), &d.Nodes); err != nil {
		return nil, fmt.Errorf("planner: decode nodes: %w", err)
	}
	if fields[2].IsArray() {
		if err := json.Unmarshal([]byte(fields[2].Raw), &d.Edges); err != nil {
			return nil, fmt.Errorf("planner: decode edges: %w", err)
		}
	}
	if err := workflow.CheckPlan(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoPlan, err)
	}
	return workflow.FromPlan(d), nil
}

// firstObject returns the text from the first '{' that starts a valid JSON
// object, or "".
func firstObject(s string) string {
	for i := strings.IndexByte(s, '{'); i >= 0; {
		rest := s[i:]
		if obj, ok := balancedObject(rest); ok && gjson.Valid(obj) {
			return obj
		}
		next := strings.IndexByte(rest[1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return ""
}

// balancedObject returns the prefix of s (which starts with '{') up to the
// matching '}', honouring JSON strings.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
