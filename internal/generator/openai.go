package generator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIConfig configures an OpenAIChat. BaseURL may point at any
// OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIChat streams chat completions through the OpenAI API.
type OpenAIChat struct {
	client *openai.Client
	model  string
}

var _ ChatModel = (*OpenAIChat)(nil)

// NewOpenAIChat creates a chat client. It returns an error when no API key
// or model is configured.
func NewOpenAIChat(cfg OpenAIConfig) (*OpenAIChat, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai chat client: API key not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai chat client: model not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)
	return &OpenAIChat{client: &client, model: cfg.Model}, nil
}

func (c *OpenAIChat) params(messages []Message) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			converted = append(converted, openai.SystemMessage(m.Content))
		case RoleAssistant:
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Messages: converted,
		Model:    openai.ChatModel(c.model),
	}
}

// Stream starts a streaming chat completion.
func (c *OpenAIChat) Stream(ctx context.Context, messages []Message) (Stream, error) {
	s := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages))
	if err := s.Err(); err != nil {
		s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failed("openai: %v", err)
	}
	return &openaiStream{ctx: ctx, stream: s}, nil
}

// Complete runs a non-streaming chat completion.
func (c *OpenAIChat) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(messages))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failed("openai: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", failed("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// openaiStream adapts the SSE chunk stream to Stream.
type openaiStream struct {
	ctx       context.Context
	stream    *ssestream.Stream[openai.ChatCompletionChunk]
	delta     string
	finished  bool
	err       error
	closeOnce sync.Once
}

func (s *openaiStream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if chunk.Choices[0].FinishReason != "" {
			s.finished = true
		}
		if chunk.Choices[0].Delta.Content == "" {
			continue
		}
		s.delta = chunk.Choices[0].Delta.Content
		return true
	}
	switch err := s.stream.Err(); {
	case s.ctx.Err() != nil:
		s.err = s.ctx.Err()
	case err != nil:
		s.err = failed("openai stream: %v", err)
	case !s.finished:
		s.err = failed("openai stream ended before the final frame")
	}
	return false
}

func (s *openaiStream) Delta() string { return s.delta }

func (s *openaiStream) Err() error { return s.err }

func (s *openaiStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.stream.Close() })
	return err
}
