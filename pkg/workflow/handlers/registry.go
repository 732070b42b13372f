// Package handlers implements one workflow.Handler per node type.
package handlers

import (
	"fmt"

	"github.com/ravi-parthasarathy/opal/pkg/llm"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

// Registry maps node types to Handler implementations.
// It implements the workflow.HandlerRegistry interface.
type Registry struct {
	handlers map[workflow.NodeType]workflow.Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[workflow.NodeType]workflow.Handler)}
}

// Default returns a Registry with the four built-in node types registered.
// AI nodes generate through gen.
func Default(gen llm.Generator) *Registry {
	r := NewRegistry()
	r.Register(workflow.NodeTypeInput, InputHandler{})
	r.Register(workflow.NodeTypeProcess, ProcessHandler{})
	r.Register(workflow.NodeTypeAI, &AIHandler{Generator: gen})
	r.Register(workflow.NodeTypeOutput, OutputHandler{})
	return r
}

// Register associates a handler with a node type.
func (r *Registry) Register(nodeType workflow.NodeType, h workflow.Handler) {
	r.handlers[nodeType] = h
}

// Get returns the handler for a node type, or an error if not registered.
func (r *Registry) Get(nodeType workflow.NodeType) (workflow.Handler, error) {
	h, ok := r.handlers[nodeType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for node type %q", nodeType)
	}
	return h, nil
}
