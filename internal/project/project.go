// Package project owns the project registry, the per-project index status
// state machine and indexing job control.
package project

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/tanqinglian/aihelper-rag/internal/indexer"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrConcurrentIndex = errors.New("project is already being indexed")
	ErrInvalidProject  = errors.New("invalid project")
	ErrShuttingDown    = errors.New("project manager is shutting down")
)

// Status is the index state of a project.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusIndexing Status = "indexing"
	StatusIndexed  Status = "indexed"
	StatusError    Status = "error"
)

// Config selects which files of the source tree are indexed.
type Config struct {
	Extensions   []string `json:"extensions"`
	IgnoreDirs   []string `json:"ignore_dirs"`
	MaxFileChars int      `json:"max_file_chars"`
}

// Options converts c to indexer options.
func (c Config) Options() indexer.Options {
	return indexer.Options{
		Extensions:   slices.Clone(c.Extensions),
		IgnoreDirs:   slices.Clone(c.IgnoreDirs),
		MaxFileChars: c.MaxFileChars,
	}
}

// Project is a registered source tree and its index state.
type Project struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SourceDir      string     `json:"source_dir"`
	Config         Config     `json:"config"`
	Status         Status     `json:"status"`
	FileCount      int        `json:"file_count"`
	IndexSizeBytes int64      `json:"index_size_bytes"`
	CreatedAt      time.Time  `json:"created_at"`
	LastIndexedAt  *time.Time `json:"last_indexed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// Queryable reports whether the project has a published collection that
// questions can be answered from. A project being re-indexed, or whose
// last re-index failed, still serves its previous collection.
func (p *Project) Queryable() bool {
	switch p.Status {
	case StatusIndexed:
		return true
	case StatusIndexing, StatusError:
		return p.LastIndexedAt != nil
	default:
		return false
	}
}

// clone returns a deep copy so callers never share registry state.
func (p *Project) clone() *Project {
	cp := *p
	cp.Config.Extensions = slices.Clone(p.Config.Extensions)
	cp.Config.IgnoreDirs = slices.Clone(p.Config.IgnoreDirs)
	if p.LastIndexedAt != nil {
		t := *p.LastIndexedAt
		cp.LastIndexedAt = &t
	}
	return &cp
}

// Registry persists project records.
type Registry interface {
	List(ctx context.Context) ([]*Project, error)
	// Get returns ErrProjectNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Project, error)
	Put(ctx context.Context, p *Project) error
	// Delete is a no-op for unknown ids.
	Delete(ctx context.Context, id string) error
}
