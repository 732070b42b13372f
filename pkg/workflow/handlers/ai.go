package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ravi-parthasarathy/opal/pkg/llm"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

// AIHandler resolves a node's prompt template and sends it to a Generator.
type AIHandler struct {
	Generator llm.Generator

	// Models, when set, builds a generator for nodes whose config names a
	// model ("provider:model-name"), e.g. one assigned by a model stylesheet.
	// Generators are built once per model id.
	Models func(modelID string) (llm.Generator, error)

	mu    sync.Mutex
	cache map[string]llm.Generator
}

func (h *AIHandler) Handle(ctx context.Context, node *workflow.Node, rc *workflow.RunContext) (string, error) {
	prompt := rc.Input
	if strings.TrimSpace(node.PromptTemplate) != "" {
		prompt = rc.Resolve(node.PromptTemplate)
	}

	gen, err := h.generatorFor(node)
	if err != nil {
		return "", err
	}
	if gen == nil {
		return "", &llm.GenerationError{Status: llm.StatusNoGenerator, Diagnostic: "no generator configured for AI nodes"}
	}

	slog.Debug("generating", "node", node.ID, "prompt_len", len(prompt))
	out, err := gen.Generate(ctx, prompt)
	if err != nil {
		return "", llm.AsGenerationError(err)
	}
	return out, nil
}

func (h *AIHandler) generatorFor(node *workflow.Node) (llm.Generator, error) {
	model := node.ConfigString("model")
	if model == "" || h.Models == nil {
		return h.Generator, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.cache[model]; ok {
		return g, nil
	}
	g, err := h.Models(model)
	if err != nil {
		return nil, &llm.GenerationError{
			Status:     llm.StatusNoGenerator,
			Diagnostic: fmt.Sprintf("model %q: %v", model, err),
			Cause:      err,
		}
	}
	if h.cache == nil {
		h.cache = make(map[string]llm.Generator)
	}
	h.cache[model] = g
	return g, nil
}
