package config

import "time"

// Permission modes for a tool group.
const (
	PermissionOff    = "off"
	PermissionAsk    = "ask"
	PermissionAlways = "always"
)

// Developer override values. The override applies to the dangerous groups
// (screen, files, system, web) and never to the memory groups.
const (
	OverrideNone   = "none"
	OverrideOff    = "off"
	OverrideAlways = "always"
)

// Tool permission groups.
const (
	GroupScreen      = "screen"
	GroupFiles       = "files"
	GroupSystem      = "system"
	GroupWeb         = "web"
	GroupMemoryRead  = "memory_read"
	GroupMemoryWrite = "memory_write"
)

// KnownGroups lists every recognized permission group.
var KnownGroups = []string{
	GroupScreen,
	GroupFiles,
	GroupSystem,
	GroupWeb,
	GroupMemoryRead,
	GroupMemoryWrite,
}

// DangerousGroups are the groups subject to the developer override.
var DangerousGroups = map[string]bool{
	GroupScreen: true,
	GroupFiles:  true,
	GroupSystem: true,
	GroupWeb:    true,
}

var defaultGroupModes = map[string]string{
	GroupScreen:      PermissionAsk,
	GroupFiles:       PermissionAsk,
	GroupSystem:      PermissionAsk,
	GroupWeb:         PermissionAlways,
	GroupMemoryRead:  PermissionAlways,
	GroupMemoryWrite: PermissionAlways,
}

// PermissionsConfig controls the permission gate for tool calls.
type PermissionsConfig struct {
	// Groups maps a permission group to its mode: "off", "ask", or "always".
	Groups map[string]string `yaml:"groups"`

	// DeveloperOverride forces dangerous groups to a single mode:
	// "none" (no override), "off", or "always".
	DeveloperOverride string `yaml:"developer_override"`

	// Grant configures the signed grant tokens minted on approval.
	Grant GrantConfig `yaml:"grant"`
}

// GrantConfig configures permission grant tokens.
type GrantConfig struct {
	// Secret signs grant tokens. Generated per process when empty.
	Secret string `yaml:"secret"`

	// TTL is how long an "ask" approval stays cached.
	TTL time.Duration `yaml:"ttl"`
}

func validPermissionMode(mode string) bool {
	switch mode {
	case PermissionOff, PermissionAsk, PermissionAlways:
		return true
	}
	return false
}

func validOverride(mode string) bool {
	switch mode {
	case OverrideNone, OverrideOff, OverrideAlways:
		return true
	}
	return false
}

func knownGroup(group string) bool {
	for _, g := range KnownGroups {
		if g == group {
			return true
		}
	}
	return false
}
