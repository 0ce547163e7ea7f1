// Package qa answers questions about an indexed project: retrieve, rerank,
// then stream a grounded answer.
package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/generator"
	"github.com/tanqinglian/aihelper-rag/internal/project"
	"github.com/tanqinglian/aihelper-rag/internal/rerank"
	"github.com/tanqinglian/aihelper-rag/internal/retriever"
)

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// EventType names an answer stream event.
type EventType string

const (
	EventSources EventType = "sources"
	EventContent EventType = "content"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one entry of an answer stream. Data is []Source for sources, the
// text increment for content, nil for done and ErrorData for error.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Source is a chunk the answer is grounded in. Score is the hybrid score.
type Source struct {
	Path   string  `json:"path"`
	Module string  `json:"module"`
	Score  float64 `json:"score"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	Message string `json:"message"`
}

// Answer is a fully accumulated response.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Projects looks up project records. Implemented by *project.Manager.
type Projects interface {
	Get(ctx context.Context, id string) (*project.Project, error)
}

// Options sets retrieval breadth and how many reranked chunks reach the model.
type Options struct {
	TopK int
	TopN int
}

// Service orchestrates question answering.
type Service struct {
	projects  Projects
	retriever *retriever.Retriever
	reranker  *rerank.Reranker
	generator *generator.Generator
	opts      Options
	logger    *zap.Logger
}

// NewService creates a service. Zero options fall back to the retriever and
// reranker defaults.
func NewService(projects Projects, r *retriever.Retriever, rr *rerank.Reranker, g *generator.Generator, opts Options, logger *zap.Logger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = retriever.DefaultTopK
	}
	if opts.TopN <= 0 {
		opts.TopN = rerank.DefaultTopN
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{projects: projects, retriever: r, reranker: rr, generator: g, opts: opts, logger: logger}
}

// Search returns the topN reranked candidates for query without generating
// an answer. A non-positive topN uses the configured default.
func (s *Service) Search(ctx context.Context, projectID, query string, topN int) ([]retriever.Candidate, error) {
	if topN <= 0 {
		topN = s.opts.TopN
	}
	return s.rank(ctx, projectID, query, topN)
}

// rank checks the project can be queried before touching the embedder.
func (s *Service) rank(ctx context.Context, projectID, question string, topN int) ([]retriever.Candidate, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !p.Queryable() {
		return nil, fmt.Errorf("%w: %s is %s", retriever.ErrProjectNotIndexed, projectID, p.Status)
	}

	candidates, err := s.retriever.Retrieve(ctx, projectID, question, s.opts.TopK)
	if err != nil {
		return nil, err
	}
	return s.reranker.Rerank(question, candidates, topN), nil
}

// Sources converts candidates to their public form.
func Sources(candidates []retriever.Candidate) []Source {
	out := make([]Source, len(candidates))
	for i, c := range candidates {
		out[i] = Source{Path: c.Chunk.Path, Module: c.Chunk.Module, Score: c.HybridScore}
	}
	return out
}

// emitError marks a failure of the caller's emit function.
type emitError struct{ err error }

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// AskStream answers question through emit: sources once, content increments
// in order, then done. On failure a single error event is emitted instead of
// done and the error is returned. If emit fails the stream is closed and
// emit's error is returned without further events.
func (s *Service) AskStream(ctx context.Context, projectID, question string, emit func(Event) error) error {
	send := func(e Event) error {
		if err := emit(e); err != nil {
			return &emitError{err: err}
		}
		return nil
	}

	err := s.askStream(ctx, projectID, question, send)
	if err == nil {
		return nil
	}

	var ee *emitError
	if errors.As(err, &ee) {
		s.logger.Debug("Answer stream consumer stopped", zap.String("project", projectID), zap.Error(ee.err))
		return ee.err
	}
	s.logger.Warn("Answer failed", zap.String("project", projectID), zap.Error(err))
	_ = emit(Event{Type: EventError, Data: ErrorData{Message: err.Error()}})
	return err
}

func (s *Service) askStream(ctx context.Context, projectID, question string, send func(Event) error) error {
	candidates, err := s.rank(ctx, projectID, question, s.opts.TopN)
	if err != nil {
		return err
	}
	if err := send(Event{Type: EventSources, Data: Sources(candidates)}); err != nil {
		return err
	}

	stream, err := s.generator.Answer(ctx, question, candidates)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Next() {
		if err := send(Event{Type: EventContent, Data: stream.Delta()}); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return send(Event{Type: EventDone})
}

// Ask answers question and returns the whole answer at once.
func (s *Service) Ask(ctx context.Context, projectID, question string) (*Answer, error) {
	candidates, err := s.rank(ctx, projectID, question, s.opts.TopN)
	if err != nil {
		return nil, err
	}
	stream, err := s.generator.Answer(ctx, question, candidates)
	if err != nil {
		return nil, err
	}
	text, err := generator.Collect(stream)
	if err != nil {
		return nil, err
	}
	return &Answer{Answer: text, Sources: Sources(candidates)}, nil
}
