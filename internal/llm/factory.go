package llm

import (
	"fmt"
	"log/slog"
	"time"
)

// Options is a provider-agnostic construction bundle, mapped from the
// llm.providers config section.
type Options struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
}

// New constructs the named provider. Supported names are "local", "openai",
// and "anthropic".
func New(provider string, opts Options, logger *slog.Logger) (Client, error) {
	switch provider {
	case "local", "":
		return NewLocalProvider(LocalConfig{
			BaseURL:      opts.BaseURL,
			APIKey:       opts.APIKey,
			DefaultModel: opts.DefaultModel,
			Timeout:      opts.Timeout,
		}, logger), nil
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       opts.APIKey,
			BaseURL:      opts.BaseURL,
			DefaultModel: opts.DefaultModel,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       opts.APIKey,
			BaseURL:      opts.BaseURL,
			DefaultModel: opts.DefaultModel,
			MaxTokens:    opts.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
