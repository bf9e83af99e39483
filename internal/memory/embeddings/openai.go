package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// openAIClient embeds through the OpenAI embeddings endpoint (or any
// compatible server via BaseURL).
type openAIClient struct {
	client *openai.Client
	model  string
}

var _ Client = (*openAIClient)(nil)

func newOpenAI(cfg Config) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embeddings: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (c *openAIClient) Name() string { return "openai" }

func (c *openAIClient) Dimension() int {
	switch c.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

func (c *openAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}
