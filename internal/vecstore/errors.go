package vecstore

import (
	"errors"
	"fmt"
)

var (
	// ErrCollectionNotFound indicates the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch indicates a vector length does not match the
	// collection dimension.
	ErrDimensionMismatch = errors.New("collection dimension mismatch")

	// ErrUnknownDriver indicates the configured storage driver is not supported.
	ErrUnknownDriver = errors.New("unknown storage driver")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// StorageError carries context for a failed store or index operation.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("storage error in %s on collection %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
