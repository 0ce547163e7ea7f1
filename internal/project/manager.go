package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/indexer"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

// Indexer runs one indexing job. Implemented by *indexer.Indexer.
type Indexer interface {
	Index(ctx context.Context, job indexer.Job, emit func(indexer.Event)) (*indexer.Result, error)
}

// CreateRequest describes a new project. A nil Config uses the manager defaults.
type CreateRequest struct {
	Name      string  `json:"name"`
	SourceDir string  `json:"source_dir"`
	Config    *Config `json:"config,omitempty"`
}

// UpdateRequest changes the non-nil fields of a project.
type UpdateRequest struct {
	Name      *string `json:"name,omitempty"`
	SourceDir *string `json:"source_dir,omitempty"`
	Config    *Config `json:"config,omitempty"`
}

// Stats aggregates all projects.
type Stats struct {
	Projects         int   `json:"projects"`
	IndexedProjects  int   `json:"indexed_projects"`
	IndexingProjects int   `json:"indexing_projects"`
	TotalFiles       int   `json:"total_files"`
	TotalBytes       int64 `json:"total_bytes"`
}

// Manager owns project records and index jobs. At most one job runs per
// project; a second StartIndex is rejected with ErrConcurrentIndex.
type Manager struct {
	registry Registry
	indexer  Indexer
	store    storage.VectorStore
	defaults Config
	logger   *zap.Logger

	// mu guards jobs, deleting, closed, and every read-modify-write of a record.
	mu       sync.Mutex
	jobs     map[string]*Job
	deleting map[string]struct{}
	closed   bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// NewManager creates a manager. Records left in the indexing state by an
// interrupted process are moved to error.
func NewManager(ctx context.Context, registry Registry, ix Indexer, store storage.VectorStore, defaults Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		registry: registry,
		indexer:  ix,
		store:    store,
		defaults: defaults,
		logger:   logger,
		jobs:     make(map[string]*Job),
		deleting: make(map[string]struct{}),
		baseCtx:  base,
		stop:     stop,
		newID:    func() string { return uuid.NewString()[:8] },
		now:      func() time.Time { return time.Now().UTC() },
	}

	if err := m.recoverInterrupted(ctx); err != nil {
		stop()
		return nil, err
	}
	return m, nil
}

func (m *Manager) recoverInterrupted(ctx context.Context) error {
	projects, err := m.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	for _, p := range projects {
		if p.Status != StatusIndexing {
			continue
		}
		p.Status = StatusError
		p.ErrorMessage = "indexing was interrupted"
		if err := m.registry.Put(ctx, p); err != nil {
			return fmt.Errorf("recover project %s: %w", p.ID, err)
		}
		m.logger.Warn("Recovered interrupted indexing job", zap.String("project", p.ID))
	}
	return nil
}

// Create registers a project in the idle state.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProject)
	}
	if err := checkSourceDir(req.SourceDir); err != nil {
		return nil, err
	}

	cfg := m.defaults
	if req.Config != nil {
		cfg = m.withDefaults(*req.Config)
	}

	p := &Project{
		ID:        m.newID(),
		Name:      name,
		SourceDir: req.SourceDir,
		Config:    cfg,
		Status:    StatusIdle,
		CreatedAt: m.now(),
	}
	if err := m.registry.Put(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("Created project", zap.String("project", p.ID), zap.String("source_dir", p.SourceDir))
	return p.clone(), nil
}

// withDefaults fills unset config fields from the manager defaults.
func (m *Manager) withDefaults(c Config) Config {
	if len(c.Extensions) == 0 {
		c.Extensions = slices.Clone(m.defaults.Extensions)
	}
	if c.IgnoreDirs == nil {
		c.IgnoreDirs = slices.Clone(m.defaults.IgnoreDirs)
	}
	if c.MaxFileChars <= 0 {
		c.MaxFileChars = m.defaults.MaxFileChars
	}
	return c
}

func checkSourceDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: source_dir is required", indexer.ErrInvalidSourceDirectory)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", indexer.ErrInvalidSourceDirectory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", indexer.ErrInvalidSourceDirectory, dir)
	}
	return nil
}

// Get returns a project by id.
func (m *Manager) Get(ctx context.Context, id string) (*Project, error) {
	return m.registry.Get(ctx, id)
}

// List returns all projects ordered by creation time.
func (m *Manager) List(ctx context.Context) ([]*Project, error) {
	return m.registry.List(ctx)
}

// Update applies req. Changing the source dir or config of a project that
// is being indexed is rejected with ErrConcurrentIndex.
func (m *Manager) Update(ctx context.Context, id string, req UpdateRequest) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.deleting[id]; gone {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	p, err := m.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, busy := m.jobs[id]; busy && (req.SourceDir != nil || req.Config != nil) {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentIndex, id)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidProject)
		}
		p.Name = name
	}
	if req.SourceDir != nil {
		if err := checkSourceDir(*req.SourceDir); err != nil {
			return nil, err
		}
		p.SourceDir = *req.SourceDir
	}
	if req.Config != nil {
		p.Config = m.withDefaults(*req.Config)
	}

	if err := m.registry.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a project and its collection. A running job is cancelled
// and awaited first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, err := m.registry.Get(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	job := m.jobs[id]
	m.deleting[id] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.deleting, id)
		m.mu.Unlock()
	}()

	if job != nil {
		job.Cancel()
		select {
		case <-job.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := m.store.DeleteCollection(ctx, id); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	m.mu.Lock()
	err := m.registry.Delete(ctx, id)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.logger.Info("Deleted project", zap.String("project", id))
	return nil
}

// StartIndex launches an indexing job for the project and returns it
// immediately. The job runs under the manager's lifetime, not ctx.
func (m *Manager) StartIndex(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShuttingDown
	}
	if _, busy := m.jobs[id]; busy {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentIndex, id)
	}
	if _, gone := m.deleting[id]; gone {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}

	p, err := m.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Status = StatusIndexing
	p.ErrorMessage = ""
	if err := m.registry.Put(ctx, p); err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(m.baseCtx)
	job := newJob(id, cancel)
	m.jobs[id] = job
	m.wg.Add(1)

	go m.run(jobCtx, job, indexer.Job{ProjectID: id, SourceDir: p.SourceDir, Options: p.Config.Options()})
	return job, nil
}

func (m *Manager) run(ctx context.Context, job *Job, ij indexer.Job) {
	defer m.wg.Done()
	defer job.cancel()

	result, err := m.indexer.Index(ctx, ij, job.publish)

	m.mu.Lock()
	delete(m.jobs, ij.ProjectID)
	m.applyOutcome(ij.ProjectID, result, err)
	m.mu.Unlock()

	job.finish(result, err)
}

// applyOutcome persists the terminal transition. Caller holds m.mu.
func (m *Manager) applyOutcome(id string, result *indexer.Result, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := m.registry.Get(ctx, id)
	if err != nil {
		// deleted while indexing
		if !errors.Is(err, ErrProjectNotFound) {
			m.logger.Error("Load project after indexing", zap.String("project", id), zap.Error(err))
		}
		return
	}

	if runErr != nil {
		p.Status = StatusError
		p.ErrorMessage = runErr.Error()
	} else {
		now := m.now()
		p.Status = StatusIndexed
		p.ErrorMessage = ""
		p.FileCount = result.FileCount
		p.IndexSizeBytes = result.IndexSizeBytes
		p.LastIndexedAt = &now
	}
	if err := m.registry.Put(ctx, p); err != nil {
		m.logger.Error("Save project after indexing", zap.String("project", id), zap.Error(err))
	}
}

// Job returns the running job of a project, if any.
func (m *Manager) Job(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// Stats sums file counts and index sizes over all projects.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	projects, err := m.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{Projects: len(projects)}
	for _, p := range projects {
		switch p.Status {
		case StatusIndexed:
			s.IndexedProjects++
		case StatusIndexing:
			s.IndexingProjects++
		}
		s.TotalFiles += p.FileCount
		s.TotalBytes += p.IndexSizeBytes
	}
	return s, nil
}

// Shutdown cancels running jobs and waits for them to record their outcome.
// New jobs are rejected from the first call on.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
