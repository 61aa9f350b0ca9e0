package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the engine.
var (
	// ErrNotFound is the terminal failure for identifier lookups. There is
	// no fallback to semantic search on a lookup miss.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientEvidence means an outcome prediction was attempted
	// over zero supporting cases.
	ErrInsufficientEvidence = errors.New("insufficient evidence")

	// ErrEmbeddingUnavailable marks a retryable embedding-gateway failure.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrGenerationUnavailable marks a retryable generation-service failure.
	// Retrieval paths still succeed when this is returned.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrMalformedQuery rejects a query before any retrieval work.
	ErrMalformedQuery = errors.New("malformed query")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
