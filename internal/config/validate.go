package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for semantic problems after defaults
// have been applied.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("llm.default_provider %q has no matching providers entry", c.LLM.DefaultProvider)
		}
	}
	if c.LLM.RouterProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.RouterProvider]; !ok {
			return fmt.Errorf("llm.router_provider %q has no matching providers entry", c.LLM.RouterProvider)
		}
	}

	seen := map[string]bool{}
	for _, server := range c.ToolServers {
		if err := server.Validate(); err != nil {
			return err
		}
		if seen[server.Name] {
			return fmt.Errorf("tool server name %q is duplicated", server.Name)
		}
		seen[server.Name] = true
	}

	for group, mode := range c.Permissions.Groups {
		if !knownGroup(group) {
			return fmt.Errorf("permissions.groups: unknown group %q", group)
		}
		if !validPermissionMode(mode) {
			return fmt.Errorf("permissions.groups.%s: invalid mode %q (want off, ask, or always)", group, mode)
		}
	}
	if !validOverride(c.Permissions.DeveloperOverride) {
		return fmt.Errorf("permissions.developer_override: invalid value %q (want none, off, or always)", c.Permissions.DeveloperOverride)
	}
	if c.Permissions.Grant.TTL < 0 {
		return fmt.Errorf("permissions.grant.ttl must not be negative")
	}

	switch c.Guardrails.Mode {
	case GuardrailsOff, GuardrailsAuto, GuardrailsAlways:
	default:
		return fmt.Errorf("guardrails.mode: invalid value %q (want off, auto, or always)", c.Guardrails.Mode)
	}

	if c.Loop.MaxRounds < 1 {
		return fmt.Errorf("loop.max_rounds must be at least 1")
	}
	if c.Loop.WallBudget <= 0 {
		return fmt.Errorf("loop.wall_budget must be positive")
	}

	if c.Memory.DefaultTimeout <= 0 || c.Memory.GreetTimeout <= 0 {
		return fmt.Errorf("memory timeouts must be positive")
	}

	if c.Search.SessionTTL <= 0 {
		return fmt.Errorf("search.session_ttl must be positive")
	}

	if c.Audit.IsEnabled() && c.Audit.Path != "" && !strings.HasSuffix(c.Audit.Path, ".jsonl") {
		return fmt.Errorf("audit.path must end in .jsonl")
	}

	for intent := range c.Router.ExtraPatterns {
		if strings.TrimSpace(intent) == "" {
			return fmt.Errorf("router.extra_patterns: intent name must not be empty")
		}
	}

	return nil
}
