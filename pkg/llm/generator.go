package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Generator turns a prompt into text. AI nodes and the planner depend on
// this port rather than on a concrete Client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Generation failure statuses that carry no HTTP code.
const (
	StatusEmptyResponse = "empty_response"
	StatusNoGenerator   = "no_generator"
	StatusUnavailable   = "unavailable"
)

// GenerationError reports a failed generation with the upstream status
// (an HTTP code such as "429", or one of the Status* values) and whatever
// diagnostic the provider returned.
type GenerationError struct {
	Status     string
	Diagnostic string
	Cause      error
}

func (e *GenerationError) Error() string {
	msg := "generation failed"
	if e.Status != "" {
		msg += " (" + e.Status + ")"
	}
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// ClientGenerator sends each prompt as a single user message to Client.
// A nil Temperature leaves sampling to the provider default.
type ClientGenerator struct {
	Client      Client
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
}

// NewGenerator builds a ClientGenerator for modelID ("provider:model-name")
// using the registered providers.
func NewGenerator(modelID, system string, maxTokens int) (*ClientGenerator, error) {
	if modelID == "" {
		modelID = DefaultModel
	}
	client, err := NewClient(modelID)
	if err != nil {
		return nil, err
	}
	_, model, _ := ParseModelID(modelID)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &ClientGenerator{Client: client, Model: model, System: system, MaxTokens: maxTokens}, nil
}

// Generate implements Generator.
func (g *ClientGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g == nil || g.Client == nil {
		return "", &GenerationError{Status: StatusNoGenerator, Diagnostic: "no LLM client configured"}
	}
	resp, err := g.Client.Complete(ctx, GenerateRequest{
		Model:       g.Model,
		Messages:    []Message{UserMessage(prompt)},
		System:      g.System,
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
	})
	if err != nil {
		return "", AsGenerationError(err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &GenerationError{
			Status:     StatusEmptyResponse,
			Diagnostic: fmt.Sprintf("model returned no text (stop reason %q)", resp.StopReason),
		}
	}
	return resp.Text, nil
}

// AsGenerationError converts a client error into a GenerationError, keeping
// the HTTP status of LLMError values.
func AsGenerationError(err error) *GenerationError {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge
	}
	out := &GenerationError{Status: StatusUnavailable, Diagnostic: err.Error(), Cause: err}
	if code := statusCode(err); code != 0 {
		out.Status = fmt.Sprintf("%d", code)
	}
	return out
}

func statusCode(err error) int {
	var (
		rl *RateLimitError
		se *ServerError
		ae *AuthError
		ce *ContextLengthError
		fe *ContentFilterError
		le *LLMError
	)
	switch {
	case errors.As(err, &rl):
		return rl.Code
	case errors.As(err, &se):
		return se.Code
	case errors.As(err, &ae):
		return ae.Code
	case errors.As(err, &ce):
		return ce.Code
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &le):
		return le.Code
	}
	return 0
}
