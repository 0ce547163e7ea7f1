// Package indexer turns a source directory into a project's chunk collection.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/embedding"
	"github.com/tanqinglian/aihelper-rag/internal/markdown"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

var (
	ErrInvalidSourceDirectory = errors.New("invalid source directory")
	ErrNoFilesEmbedded        = errors.New("no files embedded")
)

// Options selects and shapes the files of a project.
type Options struct {
	// Extensions are file name suffixes to keep, e.g. ".jsx". Empty keeps every file.
	Extensions []string
	// IgnoreDirs are directory names pruned wherever they appear.
	IgnoreDirs []string
	// MaxFileChars truncates longer files to exactly this many characters.
	MaxFileChars int
}

// IgnoresDir reports whether directories with this name are pruned.
func (o Options) IgnoresDir(name string) bool {
	return slices.Contains(o.IgnoreDirs, name)
}

// KeepsFile reports whether the file at rel, a slash-separated path relative
// to the source dir, is indexed.
func (o Options) KeepsFile(rel string) bool {
	segments := strings.Split(rel, "/")
	for _, seg := range segments[:len(segments)-1] {
		if o.IgnoresDir(seg) {
			return false
		}
	}
	return matchesExtension(segments[len(segments)-1], o.Extensions)
}

// Job describes one indexing run.
type Job struct {
	ProjectID string
	SourceDir string
	Options   Options
}

// Result summarizes a successful run.
type Result struct {
	FileCount      int
	FailedCount    int
	SkippedCount   int
	IndexSizeBytes int64
	Duration       time.Duration
	Failed         []FileError
}

// Indexer embeds source files and publishes them as one collection.
type Indexer struct {
	embedder embedding.Embedder
	store    storage.VectorStore
	outliner *markdown.Outliner
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an indexer. The embedder should carry whatever retry policy
// the caller wants; the indexer itself never retries.
func New(embedder embedding.Embedder, store storage.VectorStore, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		embedder: embedder,
		store:    store,
		outliner: markdown.NewOutliner(),
		logger:   logger,
		now:      time.Now,
	}
}

// Index scans job.SourceDir and replaces the project's collection.
//
// emit receives every event in order and must not block for long. Exactly
// one terminal event (complete or error) is emitted. Per-file failures are
// reported as file_error events and do not stop the scan; context
// cancellation does.
func (ix *Indexer) Index(ctx context.Context, job Job, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	result, err := ix.run(ctx, job, emit)
	if err != nil {
		ix.logger.Error("Indexing failed", zap.String("project", job.ProjectID), zap.Error(err))
		emit(Event{Type: EventError, Data: Failure{Message: err.Error()}})
		return nil, err
	}

	emit(Event{Type: EventComplete, Data: Complete{
		FileCount:       result.FileCount,
		IndexSizeBytes:  result.IndexSizeBytes,
		FailedCount:     result.FailedCount,
		DurationSeconds: math.Round(result.Duration.Seconds()*10) / 10,
	}})
	ix.logger.Info("Indexing complete",
		zap.String("project", job.ProjectID),
		zap.Int("files", result.FileCount),
		zap.Int("failed", result.FailedCount),
		zap.Int64("bytes", result.IndexSizeBytes),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (ix *Indexer) run(ctx context.Context, job Job, emit func(Event)) (*Result, error) {
	start := ix.now()

	info, err := os.Stat(job.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceDirectory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidSourceDirectory, job.SourceDir)
	}

	ix.logger.Info("Starting indexing", zap.String("project", job.ProjectID), zap.String("source_dir", job.SourceDir))
	emit(Event{Type: EventScanStart, Data: ScanStart{SourceDir: job.SourceDir}})

	paths, err := ix.scan(ctx, job.SourceDir, job.Options)
	if err != nil {
		return nil, err
	}
	total := len(paths)
	if total == 0 {
		return nil, fmt.Errorf("%w: no files match the configured extensions", ErrNoFilesEmbedded)
	}
	emit(Event{Type: EventScanComplete, Data: ScanComplete{TotalFiles: total}})

	result := &Result{}
	chunks := make([]*storage.Chunk, 0, total)

	for i, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := ix.processFile(ctx, job, rel)
		switch {
		case err == nil && chunk == nil:
			result.SkippedCount++
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			ix.logger.Warn("Failed to index file", zap.String("path", rel), zap.Error(err))
			fe := FileError{File: rel, Error: err.Error()}
			result.Failed = append(result.Failed, fe)
			result.FailedCount++
			emit(Event{Type: EventFileError, Data: fe})
		default:
			chunk.Ordinal = len(chunks)
			chunks = append(chunks, chunk)
			result.IndexSizeBytes += storage.ChunkSize(chunk)
		}

		emit(Event{Type: EventIndexing, Data: ix.progress(start, i+1, total, rel)})
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: all %d files failed or were empty", ErrNoFilesEmbedded, total)
	}

	emit(Event{Type: EventSaving, Data: Saving{FileCount: len(chunks)}})
	if err := ix.store.UpsertCollection(ctx, job.ProjectID, chunks); err != nil {
		return nil, fmt.Errorf("save collection: %w", err)
	}

	result.FileCount = len(chunks)
	result.Duration = ix.now().Sub(start)
	return result, nil
}

// scan lists matching files relative to root, in lexical order.
func (ix *Indexer) scan(ctx context.Context, root string, opts Options) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return fmt.Errorf("%w: %v", ErrInvalidSourceDirectory, err)
			}
			ix.logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && opts.IgnoresDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel = filepath.ToSlash(rel); opts.KeepsFile(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func matchesExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// processFile builds the chunk for one file. It returns (nil, nil) for
// files with no content worth embedding.
func (ix *Indexer) processFile(ctx context.Context, job Job, rel string) (*storage.Chunk, error) {
	data, err := os.ReadFile(filepath.Join(job.SourceDir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	content := strings.ToValidUTF8(string(data), "\uFFFD")
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	content = Truncate(content, job.Options.MaxFileChars)

	module, subModule := SplitModule(rel)
	input := ix.embeddingInput(rel, module, content)

	vec, err := ix.embedder.Embed(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	return &storage.Chunk{
		ID:        storage.ChunkID(job.ProjectID, rel),
		ProjectID: job.ProjectID,
		Path:      rel,
		Module:    module,
		SubModule: subModule,
		Content:   content,
		Embedding: vec,
	}, nil
}

// embeddingInput prefixes content with a header naming the file and module.
func (ix *Indexer) embeddingInput(path, module, content string) string {
	var b strings.Builder
	b.WriteString("file: ")
	b.WriteString(path)
	b.WriteString("\nmodule: ")
	b.WriteString(module)
	b.WriteString("\n")
	if isMarkdown(path) {
		if line := ix.outliner.SectionsLine([]byte(content)); line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(content)
	return b.String()
}

func isMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

func (ix *Indexer) progress(start time.Time, current, total int, file string) Progress {
	elapsed := ix.now().Sub(start).Seconds()
	remaining := elapsed / float64(current) * float64(total-current)
	return Progress{
		Current:                   current,
		Total:                     total,
		CurrentFile:               file,
		Percent:                   math.Round(float64(current)/float64(total)*1000) / 10,
		EstimatedRemainingSeconds: int(math.Round(remaining)),
	}
}

// Truncate cuts s to at most limit characters. A non-positive limit leaves s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// SplitModule returns the first and second segments of a slash-separated path.
// Root-level files are their own module with an empty sub-module.
func SplitModule(rel string) (module, subModule string) {
	parts := strings.SplitN(rel, "/", 3)
	module = parts[0]
	if len(parts) > 1 {
		subModule = parts[1]
	}
	return module, subModule
}
