package vecstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	collectionsBucket = "collections"
	rowsBucketPrefix  = "rows_"
	idsBucketPrefix   = "ids_"
)

// BoltStore implements Store using a single-file BoltDB database. Rows are
// keyed by a monotonic sequence so iteration follows insertion order; a second
// bucket maps row IDs to sequence keys so replaced rows keep their position.
type BoltStore struct {
	db   *bbolt.DB
	meta Collection
}

// OpenBolt opens or creates the database at path and the named collection in
// it. Parent directories are created if they do not exist. An existing
// collection must match dimension.
func OpenBolt(path, collection string, dimension int) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StorageError{Op: "open", Collection: collection, Err: fmt.Errorf("create directory: %w", err)}
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &StorageError{Op: "open", Collection: collection, Err: err}
	}

	var meta Collection
	err = db.Update(func(tx *bbolt.Tx) error {
		cols, err := tx.CreateBucketIfNotExists([]byte(collectionsBucket))
		if err != nil {
			return err
		}
		if data := cols.Get([]byte(collection)); data != nil {
			if err := json.Unmarshal(data, &meta); err != nil {
				return fmt.Errorf("decode collection %s: %w", collection, err)
			}
			if meta.Dimension != dimension {
				return fmt.Errorf("collection has dimension %d, requested %d: %w", meta.Dimension, dimension, ErrDimensionMismatch)
			}
		} else {
			meta = Collection{Name: collection, Dimension: dimension, CreatedAt: time.Now().UTC()}
			data, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			if err := cols.Put([]byte(collection), data); err != nil {
				return err
			}
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(rowsBucketPrefix + collection)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(idsBucketPrefix + collection)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "open", Collection: collection, Err: err}
	}

	return &BoltStore{db: db, meta: meta}, nil
}

// Collection returns the open collection's metadata.
func (s *BoltStore) Collection() Collection {
	return s.meta
}

// Rows returns all rows in insertion order.
func (s *BoltStore) Rows(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(rowsBucketPrefix + s.meta.Name))
		if bucket == nil {
			return ErrCollectionNotFound
		}
		// Sequence keys are big-endian, so byte order equals insertion order.
		return bucket.ForEach(func(k, v []byte) error {
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("decode row %x: %w", k, err)
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "rows", Collection: s.meta.Name, Err: err}
	}
	return rows, nil
}

// Upsert inserts or replaces rows by ID. Rows without an ID are assigned one.
// Replaced rows keep their original insertion position.
func (s *BoltStore) Upsert(ctx context.Context, rows []Row) error {
	ensureRowIDs(rows)
	if err := checkDimensions(rows, s.meta.Dimension, s.meta.Name); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rowsBucket := tx.Bucket([]byte(rowsBucketPrefix + s.meta.Name))
		idsBucket := tx.Bucket([]byte(idsBucketPrefix + s.meta.Name))
		if rowsBucket == nil || idsBucket == nil {
			return ErrCollectionNotFound
		}
		for _, row := range rows {
			data, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encode row %s: %w", row.ID, err)
			}
			key := idsBucket.Get([]byte(row.ID))
			if key == nil {
				seq, err := rowsBucket.NextSequence()
				if err != nil {
					return err
				}
				key = make([]byte, 8)
				binary.BigEndian.PutUint64(key, seq)
				if err := idsBucket.Put([]byte(row.ID), key); err != nil {
					return err
				}
			}
			if err := rowsBucket.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "upsert", Collection: s.meta.Name, Err: err}
	}
	return nil
}

// Count returns the number of rows in the collection.
func (s *BoltStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(rowsBucketPrefix + s.meta.Name))
		if bucket == nil {
			return ErrCollectionNotFound
		}
		n = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "count", Collection: s.meta.Name, Err: err}
	}
	return n, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
