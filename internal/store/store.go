// Package store persists the file inventory, its chunks and their
// embeddings in SQLite, with sqlite-vec providing vector search.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Store provides persistence for inventoried files, chunks, and embeddings.
type Store interface {
	// GetFileHash returns the stored hash for a path, or "" if not known.
	GetFileHash(path string) (string, error)
	// UpsertFile inserts or updates a file record and returns its ID.
	// It also deletes any existing chunks and embeddings for the file.
	UpsertFile(f FileRecord) (int64, error)
	// InsertChunks inserts chunks for a file and returns their IDs.
	InsertChunks(fileID int64, chunks []Chunk) ([]int64, error)
	// InsertEmbeddings stores embeddings keyed by chunk ID.
	InsertEmbeddings(chunkIDs []int64, embeddings [][]float32) error
	// Search finds the top-k chunks closest to the query embedding.
	Search(queryEmbedding []float32, k int) ([]SearchResult, error)
	// ListFiles returns the inventory ordered by path. A non-empty extension
	// restricts the listing.
	ListFiles(extension string) ([]FileRecord, error)
	// GetMeta returns a metadata value by key, or "" if not set.
	GetMeta(key string) (string, error)
	// SetMeta sets a metadata key-value pair.
	SetMeta(key, value string) error
	// DeleteAllChunks removes all files, chunks, and embeddings.
	DeleteAllChunks() error
	// Close closes the underlying database.
	Close() error
}

// SQLiteStore implements Store backed by SQLite + sqlite-vec.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

// Open creates or opens a SQLite database at the given path and initializes the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	s := &SQLiteStore{db: db}
	if v, err := s.GetMeta(MetaEmbeddingDim); err != nil {
		db.Close()
		return nil, err
	} else if v != "" {
		if s.dim, err = strconv.Atoi(v); err != nil {
			db.Close()
			return nil, fmt.Errorf("bad %s %q: %w", MetaEmbeddingDim, v, err)
		}
	}
	return s, nil
}

// Dim is the embedding dimension, 0 before the first embedding.
func (s *SQLiteStore) Dim() int { return s.dim }

func (s *SQLiteStore) GetFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow("SELECT hash FROM files WHERE path = ?", path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

func (s *SQLiteStore) UpsertFile(f FileRecord) (int64, error) {
	if f.Metadata == "" {
		f.Metadata = "{}"
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var existingID int64
	err = tx.QueryRow("SELECT id FROM files WHERE path = ?", f.Path).Scan(&existingID)
	if err == nil {
		if s.dim > 0 {
			if _, err := tx.Exec("DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE file_id = ?)", existingID); err != nil {
				return 0, err
			}
		}
		if _, err := tx.Exec("DELETE FROM chunks WHERE file_id = ?", existingID); err != nil {
			return 0, err
		}
		_, err = tx.Exec(
			"UPDATE files SET hash = ?, extension = ?, indexed_at = CURRENT_TIMESTAMP, size_bytes = ?, metadata = ? WHERE id = ?",
			f.Hash, f.Extension, f.SizeBytes, f.Metadata, existingID,
		)
		if err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, err := tx.Exec(
		"INSERT INTO files (path, hash, extension, size_bytes, metadata) VALUES (?, ?, ?, ?, ?)",
		f.Path, f.Hash, f.Extension, f.SizeBytes, f.Metadata,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteStore) InsertChunks(fileID int64, chunks []Chunk) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO chunks (file_id, seq, content) VALUES (?, ?, ?)")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		res, err := stmt.Exec(fileID, c.Seq, c.Content)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// InsertEmbeddings creates vec_chunks with the dimension of the first
// embedding ever stored; later embeddings must match it.
func (s *SQLiteStore) InsertEmbeddings(chunkIDs []int64, embeddings [][]float32) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("mismatched chunk IDs (%d) and embeddings (%d)", len(chunkIDs), len(embeddings))
	}
	if len(embeddings) == 0 {
		return nil
	}
	if err := s.ensureDim(len(embeddings[0])); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, cid := range chunkIDs {
		if len(embeddings[i]) != s.dim {
			return fmt.Errorf("embedding for chunk %d has dimension %d, want %d", cid, len(embeddings[i]), s.dim)
		}
		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for chunk %d: %w", cid, err)
		}
		if _, err := stmt.Exec(cid, blob); err != nil {
			return fmt.Errorf("insert embedding for chunk %d: %w", cid, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ensureDim(dim int) error {
	if s.dim > 0 {
		if dim != s.dim {
			return fmt.Errorf("embedding dimension %d does not match stored dimension %d", dim, s.dim)
		}
		return nil
	}
	if err := createVecTable(s.db, dim); err != nil {
		return fmt.Errorf("create vec_chunks: %w", err)
	}
	if err := s.SetMeta(MetaEmbeddingDim, strconv.Itoa(dim)); err != nil {
		return err
	}
	s.dim = dim
	return nil
}

func (s *SQLiteStore) Search(queryEmbedding []float32, k int) ([]SearchResult, error) {
	if s.dim == 0 {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := s.db.Query(`
		SELECT v.chunk_id, v.distance, c.file_id, c.seq, c.content, f.path
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN files f ON f.id = c.file_id
		WHERE v.embedding MATCH ?
		ORDER BY v.distance
		LIMIT ?
	`, blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		err := rows.Scan(&r.Chunk.ID, &r.Distance, &r.Chunk.FileID, &r.Chunk.Seq, &r.Chunk.Content, &r.FilePath)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) ListFiles(extension string) ([]FileRecord, error) {
	q := "SELECT id, path, hash, extension, indexed_at, size_bytes, metadata FROM files"
	var args []any
	if extension != "" {
		q += " WHERE extension = ?"
		args = append(args, extension)
	}
	rows, err := s.db.Query(q+" ORDER BY path", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.ID, &f.Path, &f.Hash, &f.Extension, &f.IndexedAt, &f.SizeBytes, &f.Metadata); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// DeleteAllChunks also drops vec_chunks so a new embedding model may use a
// different dimension.
func (s *SQLiteStore) DeleteAllChunks() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DROP TABLE IF EXISTS vec_chunks"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM meta WHERE key = ?", MetaEmbeddingDim); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM chunks"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM files"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.dim = 0
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
