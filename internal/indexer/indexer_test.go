package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tanqinglian/aihelper-rag/internal/embedding"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

// stubEmbedder returns a fixed vector and fails for inputs containing failOn.
type stubEmbedder struct {
	mu     sync.Mutex
	failOn string
	inputs []string
	cancel context.CancelFunc
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, text)
	if s.cancel != nil {
		s.cancel()
	}
	if s.failOn != "" && strings.Contains(text, s.failOn) {
		return nil, embedding.ErrUnavailable
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) Dimension() int { return 3 }
func (s *stubEmbedder) Model() string  { return "stub" }

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func defaultOptions() Options {
	return Options{
		Extensions:   []string{".js", ".jsx", ".md"},
		IgnoreDirs:   []string{"node_modules", "dist"},
		MaxFileChars: 6000,
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) emit(e Event) { r.events = append(r.events, e) }

func (r *recorder) types() []EventType {
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestIndexer(t *testing.T, emb embedding.Embedder) (*Indexer, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return New(emb, store, zaptest.NewLogger(t)), store
}

func TestIndex_FiltersIgnoredAndForeignFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"pages/Login/index.jsx":        "export default Login",
		"pages/node_modules/lib.js":    "ignored",
		"node_modules/react/index.js":  "ignored",
		"dist/bundle.js":               "ignored",
		"src/dist-utils/helper.js":     "kept: only exact names are pruned",
		"styles/app.css":               "wrong extension",
		"README.md":                    "# Readme",
	})
	ix, store := newTestIndexer(t, &stubEmbedder{})

	result, err := ix.Index(context.Background(), Job{ProjectID: "p1", SourceDir: root, Options: defaultOptions()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.FileCount)

	paths, err := store.ListPaths(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "pages/Login/index.jsx", "src/dist-utils/helper.js"}, paths)
}

func TestIndex_TruncatesToExactCharacters(t *testing.T) {
	long := strings.Repeat("数据", 60) // 120 characters, 360 bytes
	root := writeTree(t, map[string]string{"a/long.js": long, "a/short.js": "short"})
	opts := defaultOptions()
	opts.MaxFileChars = 50
	ix, store := newTestIndexer(t, &stubEmbedder{})

	_, err := ix.Index(context.Background(), Job{ProjectID: "p1", SourceDir: root, Options: opts}, nil)
	require.NoError(t, err)

	c, err := store.GetChunk(context.Background(), "p1", "a/long.js")
	require.NoError(t, err)
	assert.Equal(t, 50, len([]rune(c.Content)))
	assert.Equal(t, "a", c.Module)
	assert.Equal(t, "long.js", c.SubModule)

	c, err = store.GetChunk(context.Background(), "p1", "a/short.js")
	require.NoError(t, err)
	assert.Equal(t, "short", c.Content)
}

func TestIndex_ReindexIsIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{"a/x.js": "x", "b/y.js": "y", "z.js": "z"})
	ix, store := newTestIndexer(t, &stubEmbedder{})
	job := Job{ProjectID: "p1", SourceDir: root, Options: defaultOptions()}

	first, err := ix.Index(context.Background(), job, nil)
	require.NoError(t, err)
	firstPaths, err := store.ListPaths(context.Background(), "p1")
	require.NoError(t, err)

	second, err := ix.Index(context.Background(), job, nil)
	require.NoError(t, err)
	secondPaths, err := store.ListPaths(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, first.FileCount, second.FileCount)
	assert.Equal(t, first.IndexSizeBytes, second.IndexSizeBytes)
	assert.Equal(t, firstPaths, secondPaths)
}

func TestIndex_PartialFailureCompletes(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/ok.js":     "fine",
		"b/broken.js": "boom",
		"c/ok.js":     "fine too",
	})
	ix, store := newTestIndexer(t, &stubEmbedder{failOn: "b/broken.js"})
	rec := &recorder{}

	result, err := ix.Index(context.Background(), Job{ProjectID: "p1", SourceDir: root, Options: defaultOptions()}, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FileCount)
	assert.Equal(t, 1, result.FailedCount)

	assert.Equal(t, []EventType{
		EventScanStart, EventScanComplete,
		EventIndexing, EventFileError, EventIndexing, EventIndexing,
		EventSaving, EventComplete,
	}, rec.types())

	fe := rec.ofType(EventFileError)[0].Data.(FileError)
	assert.Equal(t, "b/broken.js", fe.File)

	var last int
	for _, e := range rec.ofType(EventIndexing) {
		p := e.Data.(Progress)
		assert.Greater(t, p.Current, last)
		assert.Equal(t, 3, p.Total)
		last = p.Current
	}
	assert.InDelta(t, 100.0, rec.ofType(EventIndexing)[2].Data.(Progress).Percent, 1e-9)

	done := rec.events[len(rec.events)-1].Data.(Complete)
	assert.Equal(t, 2, done.FileCount)
	assert.Equal(t, 1, done.FailedCount)
	assert.Equal(t, int64(len("fine")+len("fine too")+2*4*3), done.IndexSizeBytes)

	paths, err := store.ListPaths(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/ok.js", "c/ok.js"}, paths)
}

func TestIndex_ZeroSuccessesFails(t *testing.T) {
	root := writeTree(t, map[string]string{"a/x.js": "x", "b/y.js": "y"})
	ix, store := newTestIndexer(t, &stubEmbedder{failOn: "file:"})
	rec := &recorder{}

	_, err := ix.Index(context.Background(), Job{ProjectID: "p1", SourceDir: root, Options: defaultOptions()}, rec.emit)
	require.ErrorIs(t, err, ErrNoFilesEmbedded)

	assert.Equal(t, EventError, rec.events[len(rec.events)-1].Type)
	assert.Empty(t, rec.ofType(EventComplete))
	assert.Empty(t, rec.ofType(EventSaving))

	_, err = store.CollectionInfo(context.Background(), "p1")
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func TestIndex_NoMatchingFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "print()"})
	ix, _ := newTestIndexer(t, &stubEmbedder{})
	rec := &recorder{}

	_, err := ix.Index(context.Background(), Job{ProjectID: "p1", SourceDir: root, Options: defaultOptions()}, rec.emit)
	require.ErrorIs(t, err, ErrNoFilesEmbedded)
	assert.Equal(t, []EventType{EventScanStart, EventError}, rec.types())
}

func TestIndex_InvalidSourceDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.js")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	for _, dir := range []string{filepath.Join(t.TempDir(), "missing"), file} {
		emb := &stubEmbedder{}
		ix, _ := newTestIndexer(t, emb)
		rec := &recorder{}

		_, err := ix.Index(context.Background(), Job{ProjectID: "p1", SourceDir: dir, Options: defaultOptions()}, rec.emit)
		require.ErrorIs(t, err, ErrInvalidSourceDirectory)
		assert.Equal(t, []EventType{EventError}, rec.types(), "fails before scanning")
		assert.Empty(t, emb.inputs)
	}
}

func TestIndex_SkipsBlankFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"a/blank.js": "  \n\t", "a/real.js": "x"})
	ix, _ := newTestIndexer(t, &stubEmbedder{})

	result, err := ix.Index(context.Background(), Job{ProjectID: "p1", SourceDir: root, Options: defaultOptions()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FileCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Zero(t, result.FailedCount)
}

func TestIndex_EmbeddingInput(t *testing.T) {
	root := writeTree(t, map[string]string{
		"pages/Login/index.jsx": "login handler",
		"docs/guide.md":         "# Guide\n\n## Setup\n",
	})
	emb := &stubEmbedder{}
	ix, _ := newTestIndexer(t, emb)

	_, err := ix.Index(context.Background(), Job{ProjectID: "p1", SourceDir: root, Options: defaultOptions()}, nil)
	require.NoError(t, err)

	require.Len(t, emb.inputs, 2)
	assert.Equal(t, "file: docs/guide.md\nmodule: docs\nsections: Guide; Guide > Setup\n\n# Guide\n\n## Setup\n", emb.inputs[0])
	assert.Equal(t, "file: pages/Login/index.jsx\nmodule: pages\n\nlogin handler", emb.inputs[1])
}

func TestIndex_CancellationIsFatal(t *testing.T) {
	root := writeTree(t, map[string]string{"a/x.js": "x", "b/y.js": "y"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ix, store := newTestIndexer(t, &stubEmbedder{cancel: cancel})
	rec := &recorder{}

	_, err := ix.Index(ctx, Job{ProjectID: "p1", SourceDir: root, Options: defaultOptions()}, rec.emit)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, EventError, rec.events[len(rec.events)-1].Type)
	assert.Empty(t, rec.ofType(EventComplete))

	_, err = store.CollectionInfo(context.Background(), "p1")
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 3, "hel"},
		{"hello", 5, "hello"},
		{"hello", 0, "hello"},
		{"科目数据", 2, "科目"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.limit))
	}
}

func TestSplitModule(t *testing.T) {
	tests := []struct {
		path, module, sub string
	}{
		{"a/Login.jsx", "a", "Login.jsx"},
		{"pages/Login/index.jsx", "pages", "Login"},
		{"index.js", "index.js", ""},
	}
	for _, tt := range tests {
		m, s := SplitModule(tt.path)
		assert.Equal(t, tt.module, m, tt.path)
		assert.Equal(t, tt.sub, s, tt.path)
	}
}

func TestOptions_KeepsFile(t *testing.T) {
	opts := Options{Extensions: []string{".jsx", ".ts"}, IgnoreDirs: []string{"node_modules", ".umi"}}

	tests := []struct {
		rel  string
		want bool
	}{
		{"src/App.jsx", true},
		{"index.ts", true},
		{"src/index.d.ts", true},
		{"src/App.css", false},
		{"node_modules/react/index.ts", false},
		{"src/.umi/core.ts", false},
		{"src/node_modules.ts", true},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, opts.KeepsFile(tt.rel))
		})
	}

	assert.True(t, Options{}.KeepsFile("any/file.bin"), "no extensions keeps every file")
	assert.True(t, opts.IgnoresDir(".umi"))
	assert.False(t, opts.IgnoresDir("src"))
}
