// Package vecstore persists named, dimension-typed collections of table
// description rows and their embedding vectors.
package vecstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Row is one stored table description with its embedding.
type Row struct {
	ID      string    `json:"id"`
	Content string    `json:"content"`
	Vector  []float32 `json:"vector"`
}

// Collection describes a named vector collection.
type Collection struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists one open collection. Rows returns rows in insertion order;
// the order is stable across calls and across reopen.
type Store interface {
	Collection() Collection
	Rows(ctx context.Context) ([]Row, error)
	Upsert(ctx context.Context, rows []Row) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open opens the collection at path with the given driver, creating it with
// the given dimension if absent. An existing collection whose dimension
// differs fails with a StorageError.
func Open(driver, path, collection string, dimension int) (Store, error) {
	switch driver {
	case "bolt", "":
		return OpenBolt(path, collection, dimension)
	case "sqlite":
		return OpenSQLite(path, collection, dimension)
	case "memory":
		return NewMemoryStore(collection, dimension), nil
	default:
		return nil, &StorageError{Op: "open", Collection: collection, Err: fmt.Errorf("%q: %w", driver, ErrUnknownDriver)}
	}
}

// ensureRowIDs assigns a fresh UUID to any row without one.
func ensureRowIDs(rows []Row) {
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
	}
}

// checkDimensions verifies every row vector matches the collection dimension.
func checkDimensions(rows []Row, dimension int, collection string) error {
	for _, r := range rows {
		if len(r.Vector) != dimension {
			return &StorageError{
				Op:         "upsert",
				Collection: collection,
				Err:        fmt.Errorf("row %s has dimension %d, expected %d: %w", r.ID, len(r.Vector), dimension, ErrDimensionMismatch),
			}
		}
	}
	return nil
}
