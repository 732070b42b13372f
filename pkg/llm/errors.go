package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// DefaultRetryAttempts is how many times providers try a retryable request.
const DefaultRetryAttempts = 4

// LLMError is the base error type for all LLM client errors.
type LLMError struct {
	Code    int
	Message string
	Cause   error
}

func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Cause }

// RateLimitError is returned when the provider rate-limits the request.
type RateLimitError struct{ LLMError }

// ServerError is returned on 5xx responses from the provider.
type ServerError struct{ LLMError }

// AuthError is returned on authentication/authorization failures.
type AuthError struct{ LLMError }

// ContextLengthError is returned when the request exceeds the model's context window.
type ContextLengthError struct{ LLMError }

// ContentFilterError is returned when the request is blocked by the provider's safety filter.
type ContentFilterError struct{ LLMError }

// Classify wraps a provider failure in the error type matching its HTTP
// status. Unrecognised codes yield a plain *LLMError.
func Classify(code int, message string, cause error) error {
	base := LLMError{Code: code, Message: message, Cause: cause}
	switch {
	case code == 429:
		return &RateLimitError{LLMError: base}
	case code == 401 || code == 403:
		return &AuthError{LLMError: base}
	case code == 400 || code == 413:
		return &ContextLengthError{LLMError: base}
	case code == 451:
		return &ContentFilterError{LLMError: base}
	case code >= 500:
		return &ServerError{LLMError: base}
	}
	return &base
}

// Retryable returns true if the error is transient and the request may be retried.
func Retryable(err error) bool {
	var rl *RateLimitError
	var se *ServerError
	return errors.As(err, &rl) || errors.As(err, &se)
}

// WithRetry retries fn up to maxAttempts using exponential backoff with jitter.
// It respects context cancellation.
func WithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	return withRetry(ctx, maxAttempts, time.Second, fn)
}

func withRetry(ctx context.Context, maxAttempts int, unit time.Duration, fn func() error) error {
	var lastErr error
	for i := range maxAttempts {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if i == maxAttempts-1 {
			break
		}
		// base doubles per attempt, capped at 30 units; wait is 75%..125% of it
		base := time.Duration(1<<uint(i)) * unit
		if base > 30*unit {
			base = 30 * unit
		}
		jitter := time.Duration(rand.Float64() * 0.5 * float64(base))
		wait := base/4*3 + jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxAttempts, lastErr)
}
