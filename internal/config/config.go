// Package config loads and validates the assistant configuration from YAML
// or JSON5 files, with $include composition and environment variable
// expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the main configuration structure for Sidekick.
type Config struct {
	Agent         AgentConfig         `yaml:"agent"`
	LLM           LLMConfig           `yaml:"llm"`
	ToolServers   []ToolServerConfig  `yaml:"tool_servers"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	Memory        MemoryConfig        `yaml:"memory"`
	Router        RouterConfig        `yaml:"router"`
	Utility       UtilityConfig       `yaml:"utility"`
	Search        SearchConfig        `yaml:"search"`
	Guardrails    GuardrailsConfig    `yaml:"guardrails"`
	Loop          LoopConfig          `yaml:"loop"`
	Audit         AuditConfig         `yaml:"audit"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AgentConfig holds assistant-level settings.
type AgentConfig struct {
	// Name is used as the assistant's self-reference in prompts.
	Name string `yaml:"name"`

	// Debug loosens defaults that differ between development and release
	// builds, such as the fallback mode for unknown permission groups.
	Debug bool `yaml:"debug"`

	// SystemPrompt overrides the built-in base system prompt.
	SystemPrompt string `yaml:"system_prompt"`
}

// Load reads, merges, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied and no file
// input. It is valid and usable as-is for an offline local setup.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// DefaultPath returns the expected config file location under the platform
// config directory.
func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "sidekick", "sidekick.yaml")
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Sidekick"
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "local"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	if _, ok := cfg.LLM.Providers["local"]; !ok && cfg.LLM.DefaultProvider == "local" {
		cfg.LLM.Providers["local"] = LLMProviderConfig{}
	}
	for name, p := range cfg.LLM.Providers {
		if p.Timeout == 0 {
			p.Timeout = 2 * time.Minute
		}
		if name == "local" && p.BaseURL == "" {
			p.BaseURL = "http://127.0.0.1:8080"
		}
		cfg.LLM.Providers[name] = p
	}

	if cfg.Permissions.Groups == nil {
		cfg.Permissions.Groups = map[string]string{}
	}
	for group, mode := range defaultGroupModes {
		if _, ok := cfg.Permissions.Groups[group]; !ok {
			cfg.Permissions.Groups[group] = mode
		}
	}
	if cfg.Permissions.DeveloperOverride == "" {
		cfg.Permissions.DeveloperOverride = OverrideNone
	}
	if cfg.Permissions.Grant.TTL == 0 {
		cfg.Permissions.Grant.TTL = 10 * time.Minute
	}

	if cfg.Memory.DefaultTimeout == 0 {
		cfg.Memory.DefaultTimeout = 2 * time.Second
	}
	if cfg.Memory.GreetTimeout == 0 {
		cfg.Memory.GreetTimeout = 500 * time.Millisecond
	}
	if cfg.Memory.MaxFacts == 0 {
		cfg.Memory.MaxFacts = 20
	}

	if cfg.Search.SessionTTL == 0 {
		cfg.Search.SessionTTL = 15 * time.Minute
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 8
	}
	if cfg.Search.MarketQuoteMaxAge == 0 {
		cfg.Search.MarketQuoteMaxAge = 12 * time.Hour
	}

	if cfg.Guardrails.Mode == "" {
		cfg.Guardrails.Mode = GuardrailsAuto
	}

	if cfg.Loop.MaxRounds == 0 {
		cfg.Loop.MaxRounds = 10
	}
	if cfg.Loop.WallBudget == 0 {
		cfg.Loop.WallBudget = 60 * time.Second
	}
	if cfg.Loop.ToolTimeout == 0 {
		cfg.Loop.ToolTimeout = 30 * time.Second
	}

	if cfg.Audit.Enabled == nil {
		enabled := true
		cfg.Audit.Enabled = &enabled
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1024
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = 2 * time.Second
	}
	if cfg.Audit.MaxDetailSize == 0 {
		cfg.Audit.MaxDetailSize = 2048
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}
