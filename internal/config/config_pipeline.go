package config

import (
	"time"

	"github.com/haasonsaas/sidekick/internal/memory/embeddings"
)

// MemoryConfig controls the memory context provider.
type MemoryConfig struct {
	// Enabled is the master switch. When false, both memory permission
	// groups are forced off. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	// DefaultTimeout bounds the memory pre-fetch on normal turns.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// GreetTimeout bounds the pre-fetch on cold-greeting turns, which
	// must stay snappy.
	GreetTimeout time.Duration `yaml:"greet_timeout"`

	// MaxFacts caps how many facts the pack may carry.
	MaxFacts int `yaml:"max_facts"`

	// ActiveProfileID scopes fact retrieval to one profile.
	ActiveProfileID string `yaml:"active_profile_id"`

	// Embeddings selects the optional query-embedding provider. Empty
	// provider means keyword-only retrieval.
	Embeddings embeddings.Config `yaml:"embeddings"`
}

// IsEnabled reports whether memory is on. Defaults to true when unset.
func (m MemoryConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// UtilityConfig extends the deterministic utility engine.
type UtilityConfig struct {
	// Constants adds or overrides named-constant answers. Keys are
	// lowercase names ("pi", "golden ratio"), values the full answer text.
	Constants map[string]string `yaml:"constants"`
}

// SearchConfig controls the search orchestrator.
type SearchConfig struct {
	// SessionTTL bounds how long previous search results stay usable for
	// follow-ups.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// MaxResults caps the sources returned per search.
	MaxResults int `yaml:"max_results"`

	// MarketQuoteMaxAge is the freshness window for market quotes.
	// Results older than this are refused rather than reported.
	MarketQuoteMaxAge time.Duration `yaml:"market_quote_max_age"`
}

// Guardrails modes.
const (
	GuardrailsOff    = "off"
	GuardrailsAuto   = "auto"
	GuardrailsAlways = "always"
)

// GuardrailsConfig controls the pre-answer reasoning pipeline.
type GuardrailsConfig struct {
	// Mode is "off", "auto" (trigger heuristics decide), or "always".
	Mode string `yaml:"mode"`
}

// LoopConfig bounds the tool-calling loop.
type LoopConfig struct {
	// MaxRounds caps LLM round-trips per turn.
	MaxRounds int `yaml:"max_rounds"`

	// WallBudget caps the wall-clock time of the whole loop.
	WallBudget time.Duration `yaml:"wall_budget"`

	// ToolTimeout bounds an individual tool execution.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

// AuditConfig controls the append-only audit log.
type AuditConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`

	// Path overrides the default audit log location.
	Path string `yaml:"path"`

	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxDetailSize int           `yaml:"max_detail_size"`
}

// IsEnabled reports whether audit logging is on. Defaults to true.
func (a AuditConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}
