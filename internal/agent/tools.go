package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tanqinglian/aihelper-rag/internal/indexer"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

// Tool names understood by the agent.
const (
	ToolSearch    = "search"
	ToolGetFile   = "get_file"
	ToolListFiles = "list_files"
)

const (
	defaultSearchTopN = 3
	searchPreview     = 800
	maxListedPaths    = 200
)

// ToolCall is a parsed tool invocation.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

var fencedJSON = []*regexp.Regexp{
	regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```"),
	regexp.MustCompile("(?s)```\\s*(\\{.*?\\})\\s*```"),
}

// ParseToolCall extracts a tool call from a model response: a fenced JSON
// block first, then the first inline JSON object carrying a "tool" key.
func ParseToolCall(response string) (*ToolCall, bool) {
	for _, re := range fencedJSON {
		for _, m := range re.FindAllStringSubmatch(response, -1) {
			if call, ok := decodeToolCall(m[1]); ok {
				return call, true
			}
		}
	}

	for i := strings.IndexByte(response, '{'); i >= 0; {
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(response[i:])).Decode(&raw); err == nil {
			if call, ok := decodeToolCall(string(raw)); ok {
				return call, true
			}
		}
		next := strings.IndexByte(response[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}

func decodeToolCall(s string) (*ToolCall, bool) {
	var v struct {
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
		Args      map[string]any `json:"args"`
		Params    map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil || v.Tool == "" {
		return nil, false
	}
	args := v.Arguments
	if args == nil {
		args = v.Args
	}
	if args == nil {
		args = v.Params
	}
	if args == nil {
		args = map[string]any{}
	}
	return &ToolCall{Tool: v.Tool, Arguments: args}, true
}

// Hit is one search result.
type Hit struct {
	Path    string  `json:"path"`
	Module  string  `json:"module"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResult is returned by the search tool.
type SearchResult struct {
	Query   string            `json:"query"`
	Results map[string][]Hit  `json:"results"`
	Errors  map[string]string `json:"errors,omitempty"`
	Total   int               `json:"total_results"`
}

// FileResult is returned by the get_file tool.
type FileResult struct {
	ProjectID string `json:"project_id"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// ListResult is returned by the list_files tool.
type ListResult struct {
	Files     map[string][]string `json:"files"`
	Truncated bool                `json:"truncated,omitempty"`
}

// ErrorResult reports a tool failure back to the model.
type ErrorResult struct {
	Error string `json:"error"`
}

// Source is a file the agent consulted.
type Source struct {
	ProjectID string  `json:"project_id"`
	Path      string  `json:"path"`
	Score     float64 `json:"score,omitempty"`
}

// execute runs call against the allowed projects and returns a JSON-ready
// result plus the files it touched.
func (a *Agent) execute(ctx context.Context, allowed []string, call *ToolCall) (any, []Source, error) {
	switch call.Tool {
	case ToolSearch:
		return a.search(ctx, stringArg(call.Arguments, "query"), projectsArg(call.Arguments, allowed), intArg(call.Arguments, "top_k", defaultSearchTopN))
	case ToolGetFile:
		return a.getFile(ctx, stringArg(call.Arguments, "file_path"), projectsArg(call.Arguments, allowed))
	case ToolListFiles:
		return a.listFiles(ctx, projectsArg(call.Arguments, allowed))
	default:
		return ErrorResult{Error: "unknown tool: " + call.Tool}, nil, nil
	}
}

func (a *Agent) search(ctx context.Context, query string, projectIDs []string, topN int) (any, []Source, error) {
	if strings.TrimSpace(query) == "" {
		return ErrorResult{Error: "query is required"}, nil, nil
	}

	var (
		mu     sync.Mutex
		result = SearchResult{Query: query, Results: map[string][]Hit{}, Errors: map[string]string{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, pid := range projectIDs {
		g.Go(func() error {
			candidates, err := a.searcher.Search(gctx, pid, query, topN)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				result.Errors[pid] = err.Error()
				return nil
			}
			hits := make([]Hit, len(candidates))
			for i, c := range candidates {
				hits[i] = Hit{
					Path:    c.Chunk.Path,
					Module:  c.Chunk.Module,
					Content: indexer.Truncate(c.Chunk.Content, searchPreview),
					Score:   c.HybridScore,
				}
			}
			result.Results[pid] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var sources []Source
	for _, pid := range projectIDs {
		for _, h := range result.Results[pid] {
			sources = append(sources, Source{ProjectID: pid, Path: h.Path, Score: h.Score})
		}
		result.Total += len(result.Results[pid])
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, sources, nil
}

func (a *Agent) getFile(ctx context.Context, path string, projectIDs []string) (any, []Source, error) {
	if path == "" {
		return ErrorResult{Error: "file_path is required"}, nil, nil
	}
	for _, pid := range projectIDs {
		chunk, err := a.files.GetChunk(ctx, pid, path)
		switch {
		case err == nil:
			return FileResult{ProjectID: pid, Path: chunk.Path, Content: chunk.Content}, []Source{{ProjectID: pid, Path: chunk.Path}}, nil
		case errors.Is(err, storage.ErrChunkNotFound), errors.Is(err, storage.ErrCollectionNotFound):
			continue
		default:
			return nil, nil, fmt.Errorf("get file %s: %w", path, err)
		}
	}
	return ErrorResult{Error: "file not found: " + path}, nil, nil
}

func (a *Agent) listFiles(ctx context.Context, projectIDs []string) (any, []Source, error) {
	result := ListResult{Files: map[string][]string{}}
	for _, pid := range projectIDs {
		paths, err := a.files.ListPaths(ctx, pid)
		if errors.Is(err, storage.ErrCollectionNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("list files of %s: %w", pid, err)
		}
		if len(paths) > maxListedPaths {
			paths = paths[:maxListedPaths]
			result.Truncated = true
		}
		result.Files[pid] = paths
	}
	return result, nil, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v >= 1 {
			return int(v)
		}
	case string:
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

// projectsArg reads project_ids (or a single project_id) and keeps only
// allowed ids. No usable ids means every allowed project.
func projectsArg(args map[string]any, allowed []string) []string {
	var requested []string
	switch v := args["project_ids"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				requested = append(requested, s)
			}
		}
	case string:
		requested = strings.Split(v, ",")
	}
	if s := stringArg(args, "project_id"); s != "" {
		requested = append(requested, s)
	}

	var out []string
	for _, id := range requested {
		id = strings.TrimSpace(id)
		if slices.Contains(allowed, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return slices.Clone(allowed)
	}
	return out
}
