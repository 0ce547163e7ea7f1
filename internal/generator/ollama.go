package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Ollama defaults.
const (
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "qwen2.5-coder:14b"
	DefaultOllamaTimeout = 600 * time.Second
)

// maxFrameSize bounds a single NDJSON frame.
const maxFrameSize = 1 << 20

// OllamaConfig configures an OllamaChat.
type OllamaConfig struct {
	BaseURL string
	Model   string
	// Timeout bounds the whole exchange, including streaming.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OllamaChat talks to the Ollama /api/chat endpoint.
type OllamaChat struct {
	client  *http.Client
	baseURL string
	model   string
}

var _ ChatModel = (*OllamaChat)(nil)

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatFrame struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// NewOllamaChat creates an Ollama chat client.
func NewOllamaChat(cfg OllamaConfig) *OllamaChat {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OllamaChat{client: client, baseURL: strings.TrimRight(cfg.BaseURL, "/"), model: cfg.Model}
}

func (c *OllamaChat) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ollamaChatRequest{Model: c.model, Messages: messages, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failed("ollama request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, failed("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Stream starts a streaming chat completion.
func (c *OllamaChat) Stream(ctx context.Context, messages []Message) (Stream, error) {
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &ollamaStream{ctx: ctx, body: resp.Body, scanner: scanner}, nil
}

// Complete runs a non-streaming chat completion.
func (c *OllamaChat) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var frame ollamaChatFrame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failed("decode ollama response: %v", err)
	}
	if frame.Error != "" {
		return "", failed("ollama: %s", frame.Error)
	}
	return frame.Message.Content, nil
}

// ollamaStream decodes one NDJSON frame per Next call.
type ollamaStream struct {
	ctx       context.Context
	body      io.ReadCloser
	scanner   *bufio.Scanner
	delta     string
	err       error
	done      bool
	closeOnce sync.Once
}

func (s *ollamaStream) Next() bool {
	if s.err != nil || s.done {
		return false
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame ollamaChatFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			s.err = failed("malformed frame: %v", err)
			return false
		}
		if frame.Error != "" {
			s.err = failed("ollama: %s", frame.Error)
			return false
		}
		if frame.Done {
			s.done = true
			if frame.Message.Content != "" {
				s.delta = frame.Message.Content
				return true
			}
			return false
		}
		if frame.Message.Content == "" {
			continue
		}
		s.delta = frame.Message.Content
		return true
	}

	switch {
	case s.ctx.Err() != nil:
		s.err = s.ctx.Err()
	case s.scanner.Err() != nil:
		s.err = failed("read stream: %v", s.scanner.Err())
	default:
		s.err = failed("stream ended before the final frame")
	}
	return false
}

func (s *ollamaStream) Delta() string { return s.delta }

func (s *ollamaStream) Err() error { return s.err }

func (s *ollamaStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}
