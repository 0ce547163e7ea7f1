// Package agent runs a bounded reasoning loop in which the chat model may
// call code search tools across several projects before answering.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/generator"
	"github.com/tanqinglian/aihelper-rag/internal/indexer"
	"github.com/tanqinglian/aihelper-rag/internal/retriever"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

// ErrNoProjects is returned when a run has no project to work on.
var ErrNoProjects = errors.New("agent needs at least one project")

// DefaultMaxRounds bounds the number of model calls per run.
const DefaultMaxRounds = 5

const (
	maxToolResultChars = 3000
	maxSources         = 20
	maxSummaryLines    = 15
)

// StepType names a step of a run.
type StepType string

const (
	StepThinking    StepType = "thinking"
	StepToolCall    StepType = "tool_call"
	StepToolResult  StepType = "tool_result"
	StepFinalAnswer StepType = "final_answer"
	StepError       StepType = "error"
)

// Step is one observable step of a run.
type Step struct {
	Type     StepType       `json:"step_type"`
	Round    int            `json:"round"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Searcher runs hybrid search on one project. Implemented by *qa.Service.
type Searcher interface {
	Search(ctx context.Context, projectID, query string, topN int) ([]retriever.Candidate, error)
}

// Files reads indexed files. Implemented by every storage.VectorStore.
type Files interface {
	GetChunk(ctx context.Context, projectID, path string) (*storage.Chunk, error)
	ListPaths(ctx context.Context, projectID string) ([]string, error)
}

// Completer is the non-streaming half of generator.ChatModel.
type Completer interface {
	Complete(ctx context.Context, messages []generator.Message) (string, error)
}

// Agent answers questions that need more than one retrieval.
type Agent struct {
	searcher  Searcher
	files     Files
	model     Completer
	maxRounds int
	logger    *zap.Logger
}

// New creates an agent. A non-positive maxRounds uses DefaultMaxRounds.
func New(searcher Searcher, files Files, model Completer, maxRounds int, logger *zap.Logger) *Agent {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{searcher: searcher, files: files, model: model, maxRounds: maxRounds, logger: logger}
}

// WithMaxRounds returns a copy of a with a different round limit. A
// non-positive n keeps the current limit.
func (a *Agent) WithMaxRounds(n int) *Agent {
	cp := *a
	if n > 0 {
		cp.maxRounds = n
	}
	return &cp
}

// Run answers question using tools restricted to projectIDs. Steps are
// emitted in order and the last one is final_answer or error. Each round is
// one model call.
func (a *Agent) Run(ctx context.Context, projectIDs []string, question string, emit func(Step) error) error {
	if len(projectIDs) == 0 {
		return ErrNoProjects
	}

	messages := []generator.Message{
		{Role: generator.RoleSystem, Content: systemPrompt(projectIDs)},
		{Role: generator.RoleUser, Content: question},
	}

	var (
		sources   []Source
		toolsUsed []string
		results   []toolRun
	)
	for round := 1; round <= a.maxRounds; round++ {
		if err := emit(Step{Type: StepThinking, Round: round, Content: fmt.Sprintf("Round %d: analyzing", round)}); err != nil {
			return err
		}

		response, err := a.model.Complete(ctx, messages)
		if err != nil {
			return a.fail(emit, round, fmt.Errorf("model call: %w", err))
		}

		call, ok := ParseToolCall(response)
		if !ok {
			return emit(Step{
				Type:    StepFinalAnswer,
				Round:   round,
				Content: response,
				Metadata: map[string]any{
					"total_rounds": round,
					"tools_used":   toolsUsed,
					"sources":      dedupe(sources),
				},
			})
		}

		if err := emit(Step{
			Type:     StepToolCall,
			Round:    round,
			Content:  "Calling tool: " + call.Tool,
			Metadata: map[string]any{"tool": call.Tool, "arguments": call.Arguments},
		}); err != nil {
			return err
		}

		result, found, err := a.execute(ctx, projectIDs, call)
		if err != nil {
			return a.fail(emit, round, fmt.Errorf("tool %s: %w", call.Tool, err))
		}
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return a.fail(emit, round, fmt.Errorf("encode %s result: %w", call.Tool, err))
		}
		a.logger.Debug("Agent tool call", zap.String("tool", call.Tool), zap.Int("round", round), zap.Int("result_bytes", len(encoded)))

		toolsUsed = append(toolsUsed, call.Tool)
		sources = append(sources, found...)
		results = append(results, toolRun{tool: call.Tool, result: result})

		if err := emit(Step{
			Type:     StepToolResult,
			Round:    round,
			Content:  fmt.Sprintf("Tool %s returned %d bytes", call.Tool, len(encoded)),
			Metadata: map[string]any{"result": result, "sources": found},
		}); err != nil {
			return err
		}

		messages = append(messages,
			generator.Message{Role: generator.RoleAssistant, Content: response},
			generator.Message{Role: generator.RoleUser, Content: fmt.Sprintf(
				"Tool result:\n```json\n%s\n```\n\nContinue the analysis or give the final answer.",
				indexer.Truncate(string(encoded), maxToolResultChars))},
		)
	}

	return emit(Step{
		Type:  StepFinalAnswer,
		Round: a.maxRounds,
		Content: fmt.Sprintf("Reached the maximum of %d analysis rounds. Based on the information collected:\n\n%s",
			a.maxRounds, summarize(results)),
		Metadata: map[string]any{
			"total_rounds":       a.maxRounds,
			"max_rounds_reached": true,
			"tools_used":         toolsUsed,
			"sources":            dedupe(sources),
		},
	})
}

func (a *Agent) fail(emit func(Step) error, round int, err error) error {
	a.logger.Warn("Agent run failed", zap.Int("round", round), zap.Error(err))
	_ = emit(Step{Type: StepError, Round: round, Content: err.Error()})
	return err
}

type toolRun struct {
	tool   string
	result any
}

func summarize(runs []toolRun) string {
	var lines []string
	for _, r := range runs {
		sr, ok := r.result.(SearchResult)
		if !ok {
			continue
		}
		for pid, hits := range sr.Results {
			for _, h := range hits {
				lines = append(lines, fmt.Sprintf("- %s: %s", pid, h.Path))
			}
		}
	}
	if len(lines) == 0 {
		return "No relevant code was found."
	}
	if len(lines) > maxSummaryLines {
		lines = lines[:maxSummaryLines]
	}
	return "Relevant code found:\n" + strings.Join(lines, "\n")
}

func dedupe(sources []Source) []Source {
	seen := make(map[string]struct{}, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		key := s.ProjectID + ":" + s.Path
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if len(out) == maxSources {
			break
		}
	}
	return out
}

func systemPrompt(projectIDs []string) string {
	return fmt.Sprintf(`You are a code analysis assistant that can search and read code across several projects.

## Tools
- **%s**: search code by meaning and keywords. Arguments: query (string), project_ids (list, optional, default all), top_k (number, default %d)
- **%s**: read the full content of one indexed file. Arguments: file_path (string), project_id (string, optional)
- **%s**: list the indexed file paths. Arguments: project_ids (list, optional)

## Calling a tool
Reply with only this JSON and nothing else:
`+"```json\n"+`{"tool": "tool name", "arguments": {"name": "value"}}
`+"```"+`

## Answering
- When you have enough information, answer in plain text without JSON.
- Cite the file paths you rely on.
- If the answer spans frontend and backend, describe the call chain.

## Projects
%s`, ToolSearch, defaultSearchTopN, ToolGetFile, ToolListFiles, strings.Join(projectIDs, ", "))
}
