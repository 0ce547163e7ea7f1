// Package generator builds grounded prompts and streams LLM answers.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tanqinglian/aihelper-rag/internal/retriever"
)

// ErrGenerationFailed is returned when the LLM service fails before or
// during a response. Increments already delivered remain valid.
var ErrGenerationFailed = errors.New("generation failed")

// PreviewChars caps how much of each chunk goes into the prompt.
const PreviewChars = 1500

// SystemPrompt instructs the model to stay within the provided snippets.
const SystemPrompt = `You are a code knowledge base assistant that answers questions about a code base.

Answer using the provided code snippets. If the snippets are not sufficient to answer, say so explicitly.
Cite the specific file paths you rely on.`

// Role values for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream is a forward-only sequence of answer increments. It is not safe for
// concurrent use.
//
//	for s.Next() {
//		fmt.Print(s.Delta())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	// Next advances to the next increment. It returns false at the end of
	// the answer or on failure; Err distinguishes the two.
	Next() bool
	Delta() string
	Err() error
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// ChatModel is an LLM backend.
type ChatModel interface {
	Stream(ctx context.Context, messages []Message) (Stream, error)
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Generator answers questions from reranked candidates.
type Generator struct {
	model ChatModel
}

// New creates a generator on top of model.
func New(model ChatModel) *Generator {
	return &Generator{model: model}
}

// Answer starts streaming an answer grounded in candidates.
func (g *Generator) Answer(ctx context.Context, question string, candidates []retriever.Candidate) (Stream, error) {
	return g.model.Stream(ctx, BuildMessages(question, candidates))
}

// BuildMessages renders the system instruction and a user message listing
// each candidate as "--- file i: path (module: m) ---" followed by at most
// PreviewChars characters of its content.
func BuildMessages(question string, candidates []retriever.Candidate) []Message {
	parts := make([]string, 0, len(candidates))
	for i, c := range candidates {
		parts = append(parts, fmt.Sprintf("--- file %d: %s (module: %s) ---\n%s",
			i+1, c.Chunk.Path, c.Chunk.Module, preview(c.Chunk.Content)))
	}

	user := fmt.Sprintf("Retrieved code:\n\n%s\n\n---\n\nQuestion: %s", strings.Join(parts, "\n\n"), question)
	return []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: user},
	}
}

func preview(content string) string {
	n := 0
	for i := range content {
		if n == PreviewChars {
			return content[:i]
		}
		n++
	}
	return content
}

// Collect drains s and returns the concatenated answer. The stream is closed.
// On failure the partial answer is returned together with the error.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Delta())
	}
	return b.String(), s.Err()
}

func failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGenerationFailed, fmt.Sprintf(format, args...))
}
