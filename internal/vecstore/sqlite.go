package vecstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on SQLite. Rows carry an autoincrement
// sequence column, so ORDER BY seq reproduces insertion order and upserts
// keep the original position.
type SQLiteStore struct {
	db   *sql.DB
	meta Collection
}

// OpenSQLite opens or creates the database at path and the named collection
// in it. Parent directories are created if they do not exist. An existing
// collection must match dimension.
func OpenSQLite(path, collection string, dimension int) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StorageError{Op: "open", Collection: collection, Err: fmt.Errorf("create directory: %w", err)}
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, &StorageError{Op: "open", Collection: collection, Err: err}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "open", Collection: collection, Err: err}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "open", Collection: collection, Err: err}
	}

	meta, err := ensureCollection(db, collection, dimension)
	if err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "open", Collection: collection, Err: err}
	}

	return &SQLiteStore{db: db, meta: meta}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rows (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		vector BLOB NOT NULL,
		UNIQUE(collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_rows_collection ON rows(collection);
	`
	_, err := db.Exec(schema)
	return err
}

func ensureCollection(db *sql.DB, name string, dimension int) (Collection, error) {
	meta := Collection{Name: name}
	err := db.QueryRow(
		"SELECT dimension, created_at FROM collections WHERE name = ?", name,
	).Scan(&meta.Dimension, &meta.CreatedAt)
	switch {
	case err == sql.ErrNoRows:
		meta.Dimension = dimension
		meta.CreatedAt = time.Now().UTC()
		_, err := db.Exec(
			"INSERT INTO collections (name, dimension, created_at) VALUES (?, ?, ?)",
			meta.Name, meta.Dimension, meta.CreatedAt,
		)
		if err != nil {
			return Collection{}, err
		}
	case err != nil:
		return Collection{}, err
	default:
		if meta.Dimension != dimension {
			return Collection{}, fmt.Errorf("collection has dimension %d, requested %d: %w", meta.Dimension, dimension, ErrDimensionMismatch)
		}
	}
	return meta, nil
}

// Collection returns the open collection's metadata.
func (s *SQLiteStore) Collection() Collection {
	return s.meta
}

// Rows returns all rows in insertion order.
func (s *SQLiteStore) Rows(ctx context.Context) ([]Row, error) {
	query := "SELECT id, content, vector FROM rows WHERE collection = ? ORDER BY seq"
	result, err := s.db.QueryContext(ctx, query, s.meta.Name)
	if err != nil {
		return nil, &StorageError{Op: "rows", Collection: s.meta.Name, Err: err}
	}
	defer result.Close()

	var rows []Row
	for result.Next() {
		var row Row
		var blob []byte
		if err := result.Scan(&row.ID, &row.Content, &blob); err != nil {
			return nil, &StorageError{Op: "rows", Collection: s.meta.Name, Err: err}
		}
		row.Vector = decodeVector(blob)
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, &StorageError{Op: "rows", Collection: s.meta.Name, Err: err}
	}
	return rows, nil
}

// Upsert inserts or replaces rows by ID. Rows without an ID are assigned one.
// Replaced rows keep their original insertion position.
func (s *SQLiteStore) Upsert(ctx context.Context, rows []Row) error {
	ensureRowIDs(rows)
	if err := checkDimensions(rows, s.meta.Dimension, s.meta.Name); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "upsert", Collection: s.meta.Name, Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rows (collection, id, content, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			content = excluded.content,
			vector = excluded.vector
	`)
	if err != nil {
		return &StorageError{Op: "upsert", Collection: s.meta.Name, Err: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, s.meta.Name, row.ID, row.Content, encodeVector(row.Vector)); err != nil {
			return &StorageError{Op: "upsert", Collection: s.meta.Name, Err: fmt.Errorf("row %s: %w", row.ID, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "upsert", Collection: s.meta.Name, Err: err}
	}
	return nil
}

// Count returns the number of rows in the collection.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rows WHERE collection = ?", s.meta.Name,
	).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "count", Collection: s.meta.Name, Err: err}
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeVector packs a vector as little-endian float32 bytes for BLOB storage.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector
}
