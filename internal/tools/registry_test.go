package tools

import (
	"reflect"
	"testing"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/pkg/models"
)

func TestDefaultRegistryCapabilities(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		tool string
		want models.Capability
	}{
		{"screen_capture", models.CapScreenObserve},
		{"web_search", models.CapWebSearch},
		{"browser_navigate", models.CapBrowserControl},
		{"file_write", models.CapFileAccess},
		{"system_exec", models.CapSystemExecute},
		{"memory_retrieve", models.CapMemoryRead},
		{"memory_store_facts", models.CapMemoryWrite},
		{"weather_geocode", models.CapDeterministicUtility},
		{"get_time", models.CapMeta},
	}
	for _, tt := range tests {
		got, ok := r.Capability(tt.tool)
		if !ok {
			t.Errorf("Capability(%q): not registered", tt.tool)
			continue
		}
		if got != tt.want {
			t.Errorf("Capability(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}

	if _, ok := r.Capability("quantum_flux"); ok {
		t.Error("Capability(quantum_flux): expected unregistered")
	}
}

func TestRegistryGroups(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		tool      string
		wantGroup string
		wantKnown bool
	}{
		{"get_active_window", config.GroupScreen, true},
		{"file_list", config.GroupFiles, true},
		{"system_exec", config.GroupSystem, true},
		{"web_search", config.GroupWeb, true},
		{"browser_navigate", config.GroupWeb, true},
		{"status_check_url", config.GroupWeb, true},
		{"memory_list_facts", config.GroupMemoryRead, true},
		{"memory_forget", config.GroupMemoryWrite, true},
		{"get_time", "", true},
		{"quantum_flux", "", false},
	}
	for _, tt := range tests {
		group, known := r.Group(tt.tool)
		if group != tt.wantGroup || known != tt.wantKnown {
			t.Errorf("Group(%q) = (%q, %v), want (%q, %v)", tt.tool, group, known, tt.wantGroup, tt.wantKnown)
		}
	}
}

func TestRegistryToolsByCapability(t *testing.T) {
	r := DefaultRegistry()
	got := r.Tools(models.CapFileAccess)
	want := []string{"file_list", "file_read", "file_write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tools(file_access) = %v, want %v", got, want)
	}
}

func TestRegistryRegisterCanonicalizes(t *testing.T) {
	r := NewRegistry()
	r.Register("MyCustomTool", models.CapSystemExecute)

	cap, ok := r.Capability("my_custom_tool")
	if !ok || cap != models.CapSystemExecute {
		t.Fatalf("Capability(my_custom_tool) = (%q, %v), want (system_execute, true)", cap, ok)
	}
	if cap, _ := r.Capability("MyCustomTool"); cap != models.CapSystemExecute {
		t.Errorf("lookup should canonicalize, got %q", cap)
	}
}
