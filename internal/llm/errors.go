package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"educube/internal/types"
)

// GenerationError is the typed failure returned by generation clients.
// Kind is what propagates into response metadata; Err holds the cause
// for logs only (upstream bodies are never echoed to callers).
type GenerationError struct {
	Kind types.FailureKind
	Err  error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("generation failed (%s)", e.Kind)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Retryable reports whether the retry policy may re-attempt this error.
func (e *GenerationError) Retryable() bool { return e.Kind.Retryable() }

func failure(kind types.FailureKind, format string, args ...interface{}) *GenerationError {
	return &GenerationError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from any error produced by a
// generation call. Unclassified errors count as transient network
// failures so they are never silently dropped from response metadata.
func KindOf(err error) types.FailureKind {
	if err == nil {
		return ""
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return types.FailureTimeout
	}
	return types.FailureNetwork
}
