package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tanqinglian/aihelper-rag/internal/indexer"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

const (
	defaultMaxResults = 8
	maxMaxResults     = 20
	previewChars      = 400
)

// makeListProjectsHandler creates the list_projects tool handler.
func makeListProjectsHandler(projects Projects) func(
	context.Context, *mcp.CallToolRequest, ListProjectsInput,
) (*mcp.CallToolResult, ListProjectsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListProjectsInput) (
		*mcp.CallToolResult, ListProjectsOutput, error,
	) {
		all, err := projects.List(ctx)
		if err != nil {
			return nil, ListProjectsOutput{}, fmt.Errorf("failed to list projects: %w", err)
		}
		out := ListProjectsOutput{Projects: make([]ProjectSummary, 0, len(all))}
		for _, p := range all {
			out.Projects = append(out.Projects, ProjectSummary{
				ID:            p.ID,
				Name:          p.Name,
				SourceDir:     p.SourceDir,
				Status:        string(p.Status),
				FileCount:     p.FileCount,
				Queryable:     p.Queryable(),
				LastIndexedAt: p.LastIndexedAt,
			})
		}
		return nil, out, nil
	}
}

// makeSearchHandler creates the search_code tool handler.
// Search flow:
// 1. Embed the query and take the nearest files of the project
// 2. Rerank them with BM25 over path and content
// 3. Return up to MaxResults files with previews (not full content)
func makeSearchHandler(answerer Answerer) func(
	context.Context, *mcp.CallToolRequest, SearchCodeInput,
) (*mcp.CallToolResult, SearchCodeOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchCodeInput) (
		*mcp.CallToolResult, SearchCodeOutput, error,
	) {
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
		maxResults = min(maxResults, maxMaxResults)

		candidates, err := answerer.Search(ctx, input.ProjectID, input.Query, maxResults)
		if err != nil {
			return nil, SearchCodeOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, 0, len(candidates))
		for _, c := range candidates {
			results = append(results, SearchResult{
				Path:        c.Chunk.Path,
				Module:      c.Chunk.Module,
				Score:       c.HybridScore,
				VectorScore: c.VectorScore,
				BM25Score:   c.BM25Score,
				Preview:     indexer.Truncate(c.Chunk.Content, previewChars),
			})
		}

		if len(results) == 0 {
			return nil, SearchCodeOutput{
				Results: []SearchResult{},
				Message: "No matching files found. Try broader search terms.",
			}, nil
		}
		return nil, SearchCodeOutput{Results: results}, nil
	}
}

// makeAskHandler creates the ask_code tool handler.
func makeAskHandler(answerer Answerer) func(
	context.Context, *mcp.CallToolRequest, AskCodeInput,
) (*mcp.CallToolResult, AskCodeOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskCodeInput) (
		*mcp.CallToolResult, AskCodeOutput, error,
	) {
		answer, err := answerer.Ask(ctx, input.ProjectID, input.Question)
		if err != nil {
			return nil, AskCodeOutput{}, fmt.Errorf("ask failed: %w", err)
		}
		sources := make([]Source, len(answer.Sources))
		for i, s := range answer.Sources {
			sources[i] = Source{Path: s.Path, Module: s.Module, Score: s.Score}
		}
		return nil, AskCodeOutput{Answer: answer.Answer, Sources: sources}, nil
	}
}

// makeFetchHandler creates the fetch_file tool handler.
func makeFetchHandler(store storage.VectorStore) func(
	context.Context, *mcp.CallToolRequest, FetchFileInput,
) (*mcp.CallToolResult, FetchFileOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input FetchFileInput) (
		*mcp.CallToolResult, FetchFileOutput, error,
	) {
		chunk, err := store.GetChunk(ctx, input.ProjectID, input.Path)
		if err != nil {
			// Return helpful response for not found
			if errors.Is(err, storage.ErrChunkNotFound) {
				return nil, FetchFileOutput{Found: false, Path: input.Path}, nil
			}
			return nil, FetchFileOutput{}, fmt.Errorf("failed to fetch file: %w", err)
		}
		return nil, FetchFileOutput{
			Path:    chunk.Path,
			Module:  chunk.Module,
			Content: chunk.Content,
			Found:   true,
		}, nil
	}
}

// makeListHandler creates the list_files tool handler.
func makeListHandler(store storage.VectorStore) func(
	context.Context, *mcp.CallToolRequest, ListFilesInput,
) (*mcp.CallToolResult, ListFilesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListFilesInput) (
		*mcp.CallToolResult, ListFilesOutput, error,
	) {
		paths, err := store.ListPaths(ctx, input.ProjectID)
		if err != nil {
			return nil, ListFilesOutput{}, fmt.Errorf("failed to list files: %w", err)
		}
		return nil, ListFilesOutput{Paths: paths, Count: len(paths)}, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
// Collection statistics are omitted while no collection is published.
func makeStatusHandler(projects Projects, store storage.VectorStore) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		p, err := projects.Get(ctx, input.ProjectID)
		if err != nil {
			return nil, StatusOutput{}, err
		}

		out := StatusOutput{
			ProjectID:      p.ID,
			Status:         string(p.Status),
			FileCount:      p.FileCount,
			IndexSizeBytes: p.IndexSizeBytes,
			LastIndexedAt:  p.LastIndexedAt,
			ErrorMessage:   p.ErrorMessage,
		}

		info, err := store.CollectionInfo(ctx, p.ID)
		switch {
		case err == nil:
			out.ChunkCount = info.ChunkCount
			out.Dimension = info.Dimension
		case !errors.Is(err, storage.ErrCollectionNotFound):
			return nil, StatusOutput{}, fmt.Errorf("vector_store_error: failed to get collection info: %w", err)
		}

		if job, ok := projects.Job(p.ID); ok {
			out.Progress = latestProgress(job.Events())
		}
		return nil, out, nil
	}
}

func latestProgress(events []indexer.Event) *Progress {
	for i := len(events) - 1; i >= 0; i-- {
		if pr, ok := events[i].Data.(indexer.Progress); ok {
			return &Progress{Current: pr.Current, Total: pr.Total, Percent: pr.Percent, CurrentFile: pr.CurrentFile}
		}
	}
	return nil
}
