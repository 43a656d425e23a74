// Package index holds the in-memory similarity index the server searches.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/schemapilot/schemapilot/internal/vecstore"
	"github.com/schemapilot/schemapilot/pkg/utils"
)

// Result is one search hit. Score is the dot product between the query and
// the stored vector; with unit-normalized vectors this is cosine similarity.
type Result struct {
	ID      string
	Content string
	Score   float64
}

// Searcher finds the k nearest rows to a query vector.
type Searcher interface {
	FindSimilar(ctx context.Context, vector []float32, k int) ([]Result, error)
}

// Handle is a live similarity index over one collection. It keeps a snapshot
// of the collection's rows in memory and serves searches under a read lock,
// so Reload can swap the snapshot without blocking readers for long.
type Handle struct {
	mu    sync.RWMutex
	store vecstore.Store
	rows  []vecstore.Row
}

// Open loads the collection's rows from store into a new Handle. The Handle
// owns the store; Close closes it.
func Open(ctx context.Context, store vecstore.Store) (*Handle, error) {
	rows, err := store.Rows(ctx)
	if err != nil {
		return nil, err
	}
	return &Handle{store: store, rows: rows}, nil
}

// FindSimilar scores every row against vector and returns the top k by
// descending score. Rows with equal scores keep their insertion order. It
// returns at most k results, fewer when the collection is smaller, and none
// when k is not positive.
func (h *Handle) FindSimilar(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if dim := h.store.Collection().Dimension; len(vector) != dim {
		return nil, &vecstore.StorageError{
			Op:         "search",
			Collection: h.store.Collection().Name,
			Err:        fmt.Errorf("query has dimension %d, index has %d: %w", len(vector), dim, vecstore.ErrDimensionMismatch),
		}
	}
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make([]Result, 0, len(h.rows))
	for _, row := range h.rows {
		results = append(results, Result{
			ID:      row.ID,
			Content: row.Content,
			Score:   utils.Dot(vector, row.Vector),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Reload re-reads the collection from the store and swaps the snapshot. The
// store read happens before the write lock is taken, so searches keep serving
// the old snapshot until the swap.
func (h *Handle) Reload(ctx context.Context) error {
	rows, err := h.store.Rows(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.rows = rows
	h.mu.Unlock()
	return nil
}

// Size returns the number of rows in the current snapshot.
func (h *Handle) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rows)
}

// Collection returns the metadata of the indexed collection.
func (h *Handle) Collection() vecstore.Collection {
	return h.store.Collection()
}

// Close closes the underlying store.
func (h *Handle) Close() error {
	return h.store.Close()
}
