package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates no text was provided to embed.
	ErrEmptyInput = errors.New("empty input for embedding")

	// ErrModelUnavailable indicates the backing model or API cannot be reached.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrDimensionMismatch indicates the produced vector length does not match
	// the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// EmbeddingError carries context for a failed embedding operation.
type EmbeddingError struct {
	Op        string // operation that failed (e.g. "embed", "decode")
	Model     string
	Err       error
	Retryable bool
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error in %s with model %s: %v", e.Op, e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether retrying the operation may succeed.
func (e *EmbeddingError) IsRetryable() bool {
	return e.Retryable
}
