package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyCompletion indicates the completion API returned no choices.
var ErrEmptyCompletion = errors.New("completion has no choices")

// LLMError carries context for a failed completion call.
type LLMError struct {
	Op         string
	StatusCode int
	Err        error
	Retryable  bool
}

func (e *LLMError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm error in %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm error in %s: %v", e.Op, e.Err)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether retrying the call could succeed.
func (e *LLMError) IsRetryable() bool {
	return e.Retryable
}
