package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
agent:
  name: Sidekick
  extra: true
llm:
  default_provider: local
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesRouterProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  router_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "router_provider") {
		t.Fatalf("expected router_provider error, got %v", err)
	}
}

func TestLoadValidatesToolServerCommand(t *testing.T) {
	path := writeConfig(t, `
tool_servers:
  - name: local
    transport: stdio
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "command") {
		t.Fatalf("expected stdio command error, got %v", err)
	}
}

func TestLoadRejectsDuplicateToolServers(t *testing.T) {
	path := writeConfig(t, `
tool_servers:
  - name: local
    transport: stdio
    command: /usr/local/bin/tool-server
  - name: local
    transport: http
    url: http://127.0.0.1:9000
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "duplicated") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}

func TestLoadValidatesPermissionGroups(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown group",
			yaml: `
permissions:
  groups:
    telepathy: ask
`,
			want: "unknown group",
		},
		{
			name: "invalid mode",
			yaml: `
permissions:
  groups:
    screen: sometimes
`,
			want: "invalid mode",
		},
		{
			name: "invalid override",
			yaml: `
permissions:
  developer_override: maybe
`,
			want: "developer_override",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadValidatesGuardrailsMode(t *testing.T) {
	path := writeConfig(t, `
guardrails:
  mode: sometimes
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "guardrails.mode") {
		t.Fatalf("expected guardrails.mode error, got %v", err)
	}
}

func TestLoadValidatesAuditPath(t *testing.T) {
	path := writeConfig(t, `
audit:
  path: /var/log/sidekick/audit.log
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), ".jsonl") {
		t.Fatalf("expected jsonl suffix error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
agent:
  name: Desk
llm:
  default_provider: anthropic
  providers:
    anthropic:
      default_model: claude-sonnet-4-20250514
tool_servers:
  - name: local
    transport: stdio
    command: /usr/local/bin/tool-server
permissions:
  groups:
    files: "off"
guardrails:
  mode: always
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Agent.Name != "Desk" {
		t.Fatalf("Agent.Name = %q", cfg.Agent.Name)
	}
	if cfg.Permissions.Groups[GroupFiles] != PermissionOff {
		t.Fatalf("files group = %q, want off", cfg.Permissions.Groups[GroupFiles])
	}
	// Untouched groups keep their defaults.
	if cfg.Permissions.Groups[GroupWeb] != PermissionAlways {
		t.Fatalf("web group = %q, want always", cfg.Permissions.Groups[GroupWeb])
	}
	if cfg.Loop.MaxRounds < 1 {
		t.Fatalf("loop defaults not applied: MaxRounds = %d", cfg.Loop.MaxRounds)
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("SIDEKICK_TEST_KEY", "sk-test-123")
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${SIDEKICK_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.LLM.Providers["anthropic"].APIKey; got != "sk-test-123" {
		t.Fatalf("APIKey = %q, want expanded env value", got)
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte(strings.TrimSpace(`
permissions:
  groups:
    system: "off"
audit:
  path: /tmp/sidekick-audit.jsonl
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	main := filepath.Join(dir, "sidekick.yaml")
	if err := os.WriteFile(main, []byte(strings.TrimSpace(`
$include: base.yaml
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
audit:
  path: /tmp/override-audit.jsonl
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Permissions.Groups[GroupSystem] != PermissionOff {
		t.Fatalf("included system group = %q, want off", cfg.Permissions.Groups[GroupSystem])
	}
	// The including file wins on conflicts.
	if cfg.Audit.Path != "/tmp/override-audit.jsonl" {
		t.Fatalf("Audit.Path = %q, want override", cfg.Audit.Path)
	}
}

func TestLoadRejectsIncludeCycles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(a)
	if err == nil {
		t.Fatalf("expected include cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadJSON5Config(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sidekick.json5")
	contents := `{
  // comments are allowed in json5
  llm: {
    default_provider: "anthropic",
    providers: { anthropic: {} },
  },
}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Fatalf("DefaultProvider = %q", cfg.LLM.DefaultProvider)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config invalid: %v", err)
	}
	if cfg.LLM.DefaultProvider != "local" {
		t.Fatalf("DefaultProvider = %q, want local", cfg.LLM.DefaultProvider)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sidekick.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
