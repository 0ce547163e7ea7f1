package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// OpenSQLite opens (creating if needed) the SQLite database at path in WAL
// mode. The handle can be shared by SQLiteStore and the project registry.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	project_id  TEXT PRIMARY KEY,
	generation  INTEGER NOT NULL,
	dimension   INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL,
	size_bytes  INTEGER NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	project_id TEXT NOT NULL,
	generation INTEGER NOT NULL,
	ordinal    INTEGER NOT NULL,
	id         TEXT NOT NULL,
	path       TEXT NOT NULL,
	module     TEXT NOT NULL,
	sub_module TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	PRIMARY KEY (project_id, generation, ordinal)
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(project_id, generation, path);
`

// SQLiteStore keeps collections in SQLite with embeddings as float32 blobs.
// Similarity is computed in Go over the active generation.
//
// Each upsert writes a new generation of rows, then flips the active
// generation in collections and purges the old rows in one transaction.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
}

var _ VectorStore = (*SQLiteStore)(nil)

// NewSQLiteStore applies the schema to db. The caller keeps ownership of db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("applying vector schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens path and returns a store that closes the database on Close.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// UpsertCollection writes chunks as a new generation and publishes it.
func (s *SQLiteStore) UpsertCollection(ctx context.Context, projectID string, chunks []*Chunk) error {
	dim, err := validateChunks(chunks)
	if err != nil {
		return err
	}

	gen, size, err := s.writeGeneration(ctx, projectID, chunks)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (project_id, generation, dimension, chunk_count, size_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			generation = excluded.generation,
			dimension = excluded.dimension,
			chunk_count = excluded.chunk_count,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at`,
		projectID, gen, dim, len(chunks), size, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("publish generation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE project_id = ? AND generation <> ?`, projectID, gen); err != nil {
		return fmt.Errorf("purge old generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish: %w", err)
	}
	return nil
}

// writeGeneration inserts chunks under a fresh generation number that no
// reader can see yet.
func (s *SQLiteStore) writeGeneration(ctx context.Context, projectID string, chunks []*Chunk) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var gen int64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(generation) FROM chunks WHERE project_id = ?), 0),
			COALESCE((SELECT generation FROM collections WHERE project_id = ?), 0)
		) + 1`, projectID, projectID).Scan(&gen)
	if err != nil {
		return 0, 0, fmt.Errorf("next generation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (project_id, generation, ordinal, id, path, module, sub_module, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var size int64
	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = ChunkID(projectID, c.Path)
		}
		if _, err := stmt.ExecContext(ctx, projectID, gen, c.Ordinal, id, c.Path, c.Module, c.SubModule,
			c.Content, serializeVector(c.Embedding)); err != nil {
			return 0, 0, fmt.Errorf("insert chunk %s: %w", c.Path, err)
		}
		size += ChunkSize(c)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit write: %w", err)
	}
	return gen, size, nil
}

// Query ranks the active generation by cosine similarity. Generation lookup
// and row scan happen in one statement so a concurrent publish cannot split them.
func (s *SQLiteStore) Query(ctx context.Context, projectID string, vector []float32, topK int) ([]*ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.path, c.module, c.sub_module, c.content, c.ordinal, c.embedding, k.dimension
		FROM chunks c
		JOIN collections k ON k.project_id = c.project_id AND k.generation = c.generation
		WHERE c.project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*ScoredChunk
	for rows.Next() {
		c := &Chunk{ProjectID: projectID}
		var blob []byte
		var dim int
		if err := rows.Scan(&c.ID, &c.Path, &c.Module, &c.SubModule, &c.Content, &c.Ordinal, &blob, &dim); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if len(vector) != dim {
			return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrDimensionMismatch, len(vector), dim)
		}
		results = append(results, &ScoredChunk{Chunk: c, Score: cosineSimilarity(vector, deserializeVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	// published collections are never empty
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, projectID)
	}

	sortScored(results)
	return truncate(results, topK), nil
}

// DeleteCollection drops every generation of the project.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return tx.Commit()
}

// GetChunk returns the active chunk for path.
func (s *SQLiteStore) GetChunk(ctx context.Context, projectID, path string) (*Chunk, error) {
	var id, module, subModule, content sql.NullString
	var ordinal sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.module, c.sub_module, c.content, c.ordinal
		FROM collections k
		LEFT JOIN chunks c ON c.project_id = k.project_id AND c.generation = k.generation AND c.path = ?
		WHERE k.project_id = ?`, path, projectID).
		Scan(&id, &module, &subModule, &content, &ordinal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	if !id.Valid {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, path)
	}
	return &Chunk{
		ID:        id.String,
		ProjectID: projectID,
		Path:      path,
		Module:    module.String,
		SubModule: subModule.String,
		Content:   content.String,
		Ordinal:   int(ordinal.Int64),
	}, nil
}

// ListPaths returns the active paths in lexical order.
func (s *SQLiteStore) ListPaths(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.path
		FROM chunks c
		JOIN collections k ON k.project_id = c.project_id AND k.generation = c.generation
		WHERE c.project_id = ?
		ORDER BY c.path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paths: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, projectID)
	}
	return paths, nil
}

// CollectionInfo reads the collections row.
func (s *SQLiteStore) CollectionInfo(ctx context.Context, projectID string) (*CollectionInfo, error) {
	info := &CollectionInfo{ProjectID: projectID}
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT dimension, chunk_count, size_bytes, updated_at
		FROM collections WHERE project_id = ?`, projectID).
		Scan(&info.Dimension, &info.ChunkCount, &info.SizeBytes, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("collection info: %w", err)
	}
	info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return info, nil
}

// Health pings the database.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
