// Package providers registers LLM provider adapters.
// Import this package with a blank identifier to activate all providers:
//
//	import _ "github.com/ravi-parthasarathy/opal/pkg/llm/providers"
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/ravi-parthasarathy/opal/pkg/llm"
)

func init() {
	llm.RegisterProvider("anthropic", func(modelName string) (llm.Client, error) {
		return newAnthropicClient(modelName), nil
	})
}

type anthropicClient struct {
	sdk       anthropicsdk.Client
	modelName string
}

func newAnthropicClient(modelName string, opts ...option.RequestOption) *anthropicClient {
	// ANTHROPIC_API_KEY is read by the SDK when no key option is given.
	return &anthropicClient{sdk: anthropicsdk.NewClient(opts...), modelName: modelName}
}

// Complete performs a blocking generation with automatic retry on transient errors.
func (a *anthropicClient) Complete(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	var resp llm.GenerateResponse
	err := llm.WithRetry(ctx, llm.DefaultRetryAttempts, func() error {
		var innerErr error
		resp, innerErr = a.doComplete(ctx, req)
		return innerErr
	})
	return resp, err
}

func (a *anthropicClient) doComplete(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	msg, err := a.sdk.Messages.New(ctx, anthropicParams(a.modelName, req))
	if err != nil {
		return llm.GenerateResponse{}, mapAnthropicError(err)
	}
	return anthropicResponse(msg), nil
}

func anthropicParams(model string, req llm.GenerateRequest) anthropicsdk.MessageNewParams {
	msgs := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropicsdk.NewTextBlock(m.Text)
		if m.Role == llm.RoleAssistant {
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropicsdk.NewUserMessage(block))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: int64(maxTokens(req)),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	return params
}

func anthropicResponse(msg *anthropicsdk.Message) llm.GenerateResponse {
	var sb strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}

	stop := llm.StopReasonEndTurn
	switch msg.StopReason {
	case anthropicsdk.StopReasonMaxTokens:
		stop = llm.StopReasonMaxTokens
	case "refusal":
		stop = llm.StopReasonContentFilter
	}

	return llm.GenerateResponse{
		Text:       sb.String(),
		StopReason: stop,
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

func mapAnthropicError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code == 529 { // overloaded
			code = 503
		}
		return llm.Classify(code, apiErr.Error(), err)
	}
	return fmt.Errorf("anthropic: %w", err)
}

func maxTokens(req llm.GenerateRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return llm.DefaultMaxTokens
}
