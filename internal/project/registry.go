package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry keeps projects in a map.
type MemoryRegistry struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{projects: make(map[string]*Project)}
}

func (r *MemoryRegistry) List(context.Context) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p.clone())
	}
	sortProjects(out)
	return out, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return p.clone(), nil
}

func (r *MemoryRegistry) Put(_ context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p.clone()
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, id)
	return nil
}

// sortProjects orders by creation time, then id.
func sortProjects(ps []*Project) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS projects (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	source_dir       TEXT NOT NULL,
	config           TEXT NOT NULL,
	status           TEXT NOT NULL,
	file_count       INTEGER NOT NULL DEFAULT 0,
	index_size_bytes INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	last_indexed_at  TEXT,
	error_message    TEXT NOT NULL DEFAULT ''
);`

// SQLiteRegistry stores projects in the shared SQLite database.
type SQLiteRegistry struct {
	db *sql.DB
}

var _ Registry = (*SQLiteRegistry)(nil)

// NewSQLiteRegistry applies the projects schema to db.
func NewSQLiteRegistry(ctx context.Context, db *sql.DB) (*SQLiteRegistry, error) {
	if _, err := db.ExecContext(ctx, registrySchema); err != nil {
		return nil, fmt.Errorf("applying project schema: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

const projectColumns = `id, name, source_dir, config, status, file_count, index_size_bytes, created_at, last_indexed_at, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		p           Project
		config      string
		status      string
		createdAt   string
		lastIndexed sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.SourceDir, &config, &status, &p.FileCount,
		&p.IndexSizeBytes, &createdAt, &lastIndexed, &p.ErrorMessage); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(config), &p.Config); err != nil {
		return nil, fmt.Errorf("decode config of %s: %w", p.ID, err)
	}
	p.Status = Status(status)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastIndexed.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastIndexed.String); err == nil {
			p.LastIndexedAt = &t
		}
	}
	return &p, nil
}

func (r *SQLiteRegistry) List(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	sortProjects(out)
	return out, nil
}

func (r *SQLiteRegistry) Get(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (r *SQLiteRegistry) Put(ctx context.Context, p *Project) error {
	config, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var lastIndexed sql.NullString
	if p.LastIndexedAt != nil {
		lastIndexed = sql.NullString{String: p.LastIndexedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source_dir = excluded.source_dir,
			config = excluded.config,
			status = excluded.status,
			file_count = excluded.file_count,
			index_size_bytes = excluded.index_size_bytes,
			last_indexed_at = excluded.last_indexed_at,
			error_message = excluded.error_message`,
		p.ID, p.Name, p.SourceDir, string(config), string(p.Status), p.FileCount, p.IndexSizeBytes,
		p.CreatedAt.UTC().Format(time.RFC3339Nano), lastIndexed, p.ErrorMessage)
	if err != nil {
		return fmt.Errorf("put project: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}
