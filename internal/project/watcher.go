package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/indexer"
)

// DefaultDebounce is how long a source tree must stay quiet before a re-index.
const DefaultDebounce = 2 * time.Second

// Reindexer is the part of Manager a Watcher needs.
type Reindexer interface {
	Get(ctx context.Context, id string) (*Project, error)
	StartIndex(ctx context.Context, id string) (*Job, error)
}

// Watcher re-indexes a project after relevant files under its source dir
// change and the tree has settled.
type Watcher struct {
	manager  Reindexer
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(manager Reindexer, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{manager: manager, debounce: debounce, logger: logger}
}

// Run watches the project until ctx is done. Re-index attempts that collide
// with a running job are retried after the next quiet period.
func (w *Watcher) Run(ctx context.Context, projectID string) error {
	p, err := w.manager.Get(ctx, projectID)
	if err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	opts := p.Config.Options()
	if err := w.addTree(fw, p.SourceDir, opts); err != nil {
		return err
	}
	w.logger.Info("Watching project", zap.String("project", projectID), zap.String("source_dir", p.SourceDir))

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var (
		dirty     bool
		lastEvent time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !opts.IgnoresDir(info.Name()) {
						_ = w.addTree(fw, event.Name, opts)
					}
				}
			}
			if w.relevant(p.SourceDir, opts, event) {
				dirty = true
				lastEvent = time.Now()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.String("project", projectID), zap.Error(err))

		case <-ticker.C:
			if !dirty || time.Since(lastEvent) < w.debounce {
				continue
			}
			_, err := w.manager.StartIndex(ctx, projectID)
			switch {
			case err == nil:
				dirty = false
				w.logger.Info("Re-indexing after change", zap.String("project", projectID))
			case errors.Is(err, ErrConcurrentIndex):
				lastEvent = time.Now()
			default:
				return fmt.Errorf("start re-index: %w", err)
			}
		}
	}
}

// addTree watches root and every non-ignored directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string, opts indexer.Options) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && opts.IgnoresDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// relevant reports whether event touches a file the indexer would pick up.
func (w *Watcher) relevant(root string, opts indexer.Options, event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return opts.KeepsFile(filepath.ToSlash(rel))
}
