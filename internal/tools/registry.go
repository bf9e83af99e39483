package tools

import (
	"sort"
	"sync"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Registry maps canonical tool names to capabilities. The policy gate
// exposes tools by capability; the permission gate derives each tool's
// permission group from its capability.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]models.Capability
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]models.Capability)}
}

// DefaultRegistry returns a registry seeded with the known tool surface.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	seed := map[string]models.Capability{
		"web_search":       models.CapWebSearch,
		"browser_navigate": models.CapBrowserControl,

		"screen_capture":    models.CapScreenObserve,
		"get_active_window": models.CapScreenObserve,

		"file_read":  models.CapFileAccess,
		"file_write": models.CapFileAccess,
		"file_list":  models.CapFileAccess,

		"system_exec": models.CapSystemExecute,

		"memory_retrieve":   models.CapMemoryRead,
		"memory_list_facts": models.CapMemoryRead,

		"memory_store_facts": models.CapMemoryWrite,
		"memory_forget":      models.CapMemoryWrite,

		"weather_geocode":   models.CapDeterministicUtility,
		"resolve_timezone":  models.CapDeterministicUtility,
		"holidays_is_today": models.CapDeterministicUtility,
		"feed_fetch":        models.CapDeterministicUtility,
		"status_check_url":  models.CapDeterministicUtility,

		"get_time":         models.CapMeta,
		"get_capabilities": models.CapMeta,
	}
	for name, cap := range seed {
		r.caps[name] = cap
	}
	return r
}

// Register adds or replaces a tool's capability. The name is canonicalized.
func (r *Registry) Register(name string, cap models.Capability) {
	canonical := CanonicalName(name)
	if canonical == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[canonical] = cap
}

// Capability returns the capability of a tool, canonicalizing the name.
func (r *Registry) Capability(name string) (models.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.caps[CanonicalName(name)]
	return cap, ok
}

// Group returns the permission group a tool belongs to. The second result
// is false when the tool is not registered at all; an empty group with a
// true result means the tool is registered but ungated (meta tools).
func (r *Registry) Group(name string) (string, bool) {
	cap, ok := r.Capability(name)
	if !ok {
		return "", false
	}
	return groupForCapability(cap), true
}

// Tools returns the canonical names registered under a capability, sorted.
func (r *Registry) Tools(cap models.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, c := range r.caps {
		if c == cap {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// groupForCapability maps a capability to its permission group. Deterministic
// utility tools are network probes, so they ride the web group. Meta tools
// have no group and are never gated.
func groupForCapability(cap models.Capability) string {
	switch cap {
	case models.CapScreenObserve:
		return config.GroupScreen
	case models.CapFileAccess:
		return config.GroupFiles
	case models.CapSystemExecute:
		return config.GroupSystem
	case models.CapWebSearch, models.CapBrowserControl, models.CapDeterministicUtility:
		return config.GroupWeb
	case models.CapMemoryRead:
		return config.GroupMemoryRead
	case models.CapMemoryWrite:
		return config.GroupMemoryWrite
	default:
		return ""
	}
}
