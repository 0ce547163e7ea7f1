package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanqinglian/aihelper-rag/internal/generator"
	"github.com/tanqinglian/aihelper-rag/internal/retriever"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queried []string
	hits    map[string][]retriever.Candidate
	fail    map[string]error
}

func (f *fakeSearcher) Search(_ context.Context, projectID, _ string, topN int) ([]retriever.Candidate, error) {
	f.mu.Lock()
	f.queried = append(f.queried, projectID)
	f.mu.Unlock()
	if err := f.fail[projectID]; err != nil {
		return nil, err
	}
	hits := f.hits[projectID]
	if len(hits) > topN {
		hits = hits[:topN]
	}
	return hits, nil
}

type scriptedCompleter struct {
	replies []string
	err     error
	calls   int
	seen    [][]generator.Message
}

func (s *scriptedCompleter) Complete(_ context.Context, messages []generator.Message) (string, error) {
	s.seen = append(s.seen, messages)
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	reply := s.replies[min(s.calls-1, len(s.replies)-1)]
	return reply, nil
}

func hit(path string, score float64) retriever.Candidate {
	return retriever.Candidate{Chunk: &storage.Chunk{Path: path, Module: "pages", Content: "code of " + path}, HybridScore: score}
}

func newStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertCollection(context.Background(), "web", []*storage.Chunk{
		{Path: "pages/Order/index.jsx", Content: "export default function Order() {}", Embedding: []float32{1, 0}},
		{Path: "services/order.js", Content: "export const listOrders = () => request('/api/orders')", Ordinal: 1, Embedding: []float32{0, 1}},
	}))
	return store
}

func run(t *testing.T, a *Agent, projects []string, question string) ([]Step, error) {
	t.Helper()
	var steps []Step
	err := a.Run(context.Background(), projects, question, func(s Step) error {
		steps = append(steps, s)
		return nil
	})
	return steps, err
}

func stepTypes(steps []Step) []StepType {
	out := make([]StepType, len(steps))
	for i, s := range steps {
		out[i] = s.Type
	}
	return out
}

func TestRun_ToolThenAnswer(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]retriever.Candidate{
		"web": {hit("pages/Order/index.jsx", 0.9)},
		"api": {hit("controller/OrderController.java", 0.8)},
	}}
	model := &scriptedCompleter{replies: []string{
		"```json\n{\"tool\": \"search\", \"arguments\": {\"query\": \"order list\"}}\n```",
		"The order list is rendered in pages/Order/index.jsx.",
	}}
	a := New(searcher, newStore(t), model, 5, nil)

	steps, err := run(t, a, []string{"web", "api"}, "how is the order list loaded?")
	require.NoError(t, err)
	assert.Equal(t, []StepType{StepThinking, StepToolCall, StepToolResult, StepThinking, StepFinalAnswer}, stepTypes(steps))
	assert.ElementsMatch(t, []string{"web", "api"}, searcher.queried)

	result, ok := steps[2].Metadata["result"].(SearchResult)
	require.True(t, ok)
	assert.Equal(t, 2, result.Total)

	final := steps[4]
	assert.Equal(t, "The order list is rendered in pages/Order/index.jsx.", final.Content)
	assert.Equal(t, 2, final.Metadata["total_rounds"])
	assert.Equal(t, []Source{
		{ProjectID: "web", Path: "pages/Order/index.jsx", Score: 0.9},
		{ProjectID: "api", Path: "controller/OrderController.java", Score: 0.8},
	}, final.Metadata["sources"])

	// the tool result is fed back to the model
	require.Len(t, model.seen, 2)
	last := model.seen[1][len(model.seen[1])-1]
	assert.Equal(t, generator.RoleUser, last.Role)
	assert.Contains(t, last.Content, "pages/Order/index.jsx")
}

func TestRun_MaxRoundsReached(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]retriever.Candidate{"web": {hit("pages/Order/index.jsx", 0.9)}}}
	model := &scriptedCompleter{replies: []string{`{"tool": "search", "arguments": {"query": "order"}}`}}
	a := New(searcher, newStore(t), model, 2, nil)

	steps, err := run(t, a, []string{"web"}, "order?")
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls, "round limit counts model calls")

	final := steps[len(steps)-1]
	assert.Equal(t, StepFinalAnswer, final.Type)
	assert.Equal(t, true, final.Metadata["max_rounds_reached"])
	assert.Contains(t, final.Content, "- web: pages/Order/index.jsx")
	assert.Len(t, final.Metadata["sources"], 1, "duplicate sources collapse")
}

func TestRun_ModelFailure(t *testing.T) {
	a := New(&fakeSearcher{}, newStore(t), &scriptedCompleter{err: generator.ErrGenerationFailed}, 3, nil)

	steps, err := run(t, a, []string{"web"}, "q")
	require.ErrorIs(t, err, generator.ErrGenerationFailed)
	assert.Equal(t, []StepType{StepThinking, StepError}, stepTypes(steps))
}

func TestRun_NoProjects(t *testing.T) {
	a := New(&fakeSearcher{}, newStore(t), &scriptedCompleter{}, 3, nil)
	_, err := run(t, a, nil, "q")
	assert.ErrorIs(t, err, ErrNoProjects)
}

func TestRun_EmitFailureStops(t *testing.T) {
	model := &scriptedCompleter{replies: []string{"answer"}}
	a := New(&fakeSearcher{}, newStore(t), model, 3, nil)
	gone := errors.New("gone")

	err := a.Run(context.Background(), []string{"web"}, "q", func(Step) error { return gone })
	assert.ErrorIs(t, err, gone)
	assert.Zero(t, model.calls)
}

func TestTools(t *testing.T) {
	ctx := context.Background()
	searcher := &fakeSearcher{
		hits: map[string][]retriever.Candidate{"web": {hit("a.js", 0.5), hit("b.js", 0.4)}},
		fail: map[string]error{"api": errors.New("project not indexed")},
	}
	a := New(searcher, newStore(t), &scriptedCompleter{}, 3, nil)
	allowed := []string{"web", "api"}

	t.Run("search reports per-project errors", func(t *testing.T) {
		res, sources, err := a.execute(ctx, allowed, &ToolCall{Tool: ToolSearch, Arguments: map[string]any{"query": "x", "top_k": float64(1)}})
		require.NoError(t, err)
		sr := res.(SearchResult)
		assert.Len(t, sr.Results["web"], 1)
		assert.Equal(t, "project not indexed", sr.Errors["api"])
		assert.Len(t, sources, 1)
	})

	t.Run("get_file searches every project", func(t *testing.T) {
		res, sources, err := a.execute(ctx, allowed, &ToolCall{Tool: ToolGetFile, Arguments: map[string]any{"file_path": "services/order.js"}})
		require.NoError(t, err)
		fr := res.(FileResult)
		assert.Equal(t, "web", fr.ProjectID)
		assert.Contains(t, fr.Content, "listOrders")
		assert.Equal(t, []Source{{ProjectID: "web", Path: "services/order.js"}}, sources)
	})

	t.Run("get_file not found", func(t *testing.T) {
		res, _, err := a.execute(ctx, allowed, &ToolCall{Tool: ToolGetFile, Arguments: map[string]any{"file_path": "missing.js"}})
		require.NoError(t, err)
		assert.Equal(t, ErrorResult{Error: "file not found: missing.js"}, res)
	})

	t.Run("list_files skips unindexed projects", func(t *testing.T) {
		res, _, err := a.execute(ctx, allowed, &ToolCall{Tool: ToolListFiles, Arguments: map[string]any{}})
		require.NoError(t, err)
		lr := res.(ListResult)
		assert.Equal(t, map[string][]string{"web": {"pages/Order/index.jsx", "services/order.js"}}, lr.Files)
	})

	t.Run("unknown tool", func(t *testing.T) {
		res, _, err := a.execute(ctx, allowed, &ToolCall{Tool: "trace_api"})
		require.NoError(t, err)
		assert.Equal(t, ErrorResult{Error: "unknown tool: trace_api"}, res)
	})
}

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		response string
		tool     string
		args     map[string]any
	}{
		{"fenced json", "Let me look.\n```json\n{\"tool\": \"search\", \"arguments\": {\"query\": \"login\"}}\n```", "search", map[string]any{"query": "login"}},
		{"bare fence", "```\n{\"tool\": \"list_files\", \"arguments\": {}}\n```", "list_files", map[string]any{}},
		{"inline nested", `I will call {"tool": "get_file", "arguments": {"file_path": "a.js"}} now`, "get_file", map[string]any{"file_path": "a.js"}},
		{"args alias", `{"tool": "search", "args": {"query": "x"}}`, "search", map[string]any{"query": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := ParseToolCall(tt.response)
			require.True(t, ok)
			assert.Equal(t, tt.tool, call.Tool)
			assert.Equal(t, tt.args, call.Arguments)
		})
	}

	for _, plain := range []string{"The answer is in a.js.", `Use {"key": "value"} objects.`, "{broken"} {
		_, ok := ParseToolCall(plain)
		assert.False(t, ok, plain)
	}
}

func TestProjectsArg(t *testing.T) {
	allowed := []string{"web", "api"}
	assert.Equal(t, allowed, projectsArg(map[string]any{}, allowed))
	assert.Equal(t, []string{"api"}, projectsArg(map[string]any{"project_ids": []any{"api", "unknown"}}, allowed))
	assert.Equal(t, []string{"web"}, projectsArg(map[string]any{"project_id": "web"}, allowed))
	assert.Equal(t, allowed, projectsArg(map[string]any{"project_ids": []any{"unknown"}}, allowed))
}

func TestWithMaxRounds(t *testing.T) {
	model := &scriptedCompleter{replies: []string{`{"tool": "list_files", "arguments": {}}`}}
	a := New(&fakeSearcher{}, newStore(t), model, 5, nil)

	_, err := run(t, a.WithMaxRounds(1), []string{"web"}, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, 5, a.maxRounds, "original is unchanged")
	assert.Equal(t, 5, a.WithMaxRounds(0).maxRounds)
}
