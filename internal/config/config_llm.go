package config

import "time"

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// RouterProvider selects the provider used for intent classification.
	// Defaults to DefaultProvider.
	RouterProvider string `yaml:"router_provider"`

	// RouterModel overrides the model for intent classification.
	RouterModel string `yaml:"router_model"`
}

type LLMProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	BaseURL      string        `yaml:"base_url"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  *float64      `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RouterConfig extends the deterministic classification tables.
type RouterConfig struct {
	// ExtraPatterns adds heuristic substring patterns per intent. Keys are
	// intent names and values are lowercase substrings that force that
	// intent when present in the message.
	ExtraPatterns map[string][]string `yaml:"extra_patterns"`

	// LLMFallback enables the LLM classification layer when all
	// deterministic layers miss. Defaults to true.
	LLMFallback *bool `yaml:"llm_fallback"`
}

// LLMFallbackEnabled reports whether the LLM classification layer runs.
func (r RouterConfig) LLMFallbackEnabled() bool {
	return r.LLMFallback == nil || *r.LLMFallback
}
