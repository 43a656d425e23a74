package vecstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It is used by tests and by
// deployments that rebuild the collection on every start.
type MemoryStore struct {
	mu     sync.RWMutex
	meta   Collection
	rows   []Row
	byID   map[string]int
	closed bool
}

// NewMemoryStore creates an empty in-memory collection.
func NewMemoryStore(collection string, dimension int) *MemoryStore {
	return &MemoryStore{
		meta: Collection{Name: collection, Dimension: dimension, CreatedAt: time.Now().UTC()},
		byID: make(map[string]int),
	}
}

// Collection returns the collection's metadata.
func (s *MemoryStore) Collection() Collection {
	return s.meta
}

// Rows returns a copy of all rows in insertion order.
func (s *MemoryStore) Rows(ctx context.Context) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &StorageError{Op: "rows", Collection: s.meta.Name, Err: ErrClosed}
	}
	rows := make([]Row, len(s.rows))
	for i, row := range s.rows {
		rows[i] = copyRow(row)
	}
	return rows, nil
}

// Upsert inserts or replaces rows by ID. Rows without an ID are assigned one.
// Replaced rows keep their original insertion position.
func (s *MemoryStore) Upsert(ctx context.Context, rows []Row) error {
	ensureRowIDs(rows)
	if err := checkDimensions(rows, s.meta.Dimension, s.meta.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StorageError{Op: "upsert", Collection: s.meta.Name, Err: ErrClosed}
	}
	for _, row := range rows {
		if i, ok := s.byID[row.ID]; ok {
			s.rows[i] = copyRow(row)
			continue
		}
		s.byID[row.ID] = len(s.rows)
		s.rows = append(s.rows, copyRow(row))
	}
	return nil
}

// Count returns the number of rows in the collection.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, &StorageError{Op: "count", Collection: s.meta.Name, Err: ErrClosed}
	}
	return len(s.rows), nil
}

// Close marks the store closed. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyRow(row Row) Row {
	vector := make([]float32, len(row.Vector))
	copy(vector, row.Vector)
	row.Vector = vector
	return row
}
