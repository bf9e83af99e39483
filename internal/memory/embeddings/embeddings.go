// Package embeddings turns text into query vectors for the memory
// retrieval tool. Providers are optional: a nil Client simply means
// retrieval runs without a vector.
package embeddings

import (
	"context"
	"fmt"
)

// Client produces embeddings for retrieval queries.
type Client interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the provider in logs and provenance.
	Name() string

	// Dimension is the vector size the configured model produces.
	Dimension() int
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "openai", "ollama", or empty to disable embeddings.
	Provider string `yaml:"provider"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// New builds the configured provider. An empty provider name returns
// (nil, nil): embeddings are off, not broken.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		return newOpenAI(cfg)
	case "ollama":
		return newOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}
