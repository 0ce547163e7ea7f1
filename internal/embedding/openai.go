package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures an OpenAIClient. BaseURL may point at any
// OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OpenAIClient wraps the OpenAI client for embedding generation.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	dimension int
}

var _ Embedder = (*OpenAIClient)(nil)

// NewOpenAIClient creates an embedding client. It returns an error when no
// API key is configured.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedding client: API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries are a caller decision
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)

	return &OpenAIClient{client: &client, model: cfg.Model, dimension: cfg.Dimension}, nil
}

// Embed generates an embedding for text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("openai embeddings: %v", err)
	}
	if len(resp.Data) == 0 {
		return nil, unavailable("openai returned no embeddings")
	}

	vec := toFloat32(resp.Data[0].Embedding)
	if err := checkVector(vec, c.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimension returns the configured vector size.
func (c *OpenAIClient) Dimension() int { return c.dimension }

// Model returns the embedding model name.
func (c *OpenAIClient) Model() string { return c.model }
