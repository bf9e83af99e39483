package tools

import (
	"reflect"
	"testing"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"pascal case", "ScreenCapture", "screen_capture"},
		{"camel case", "webSearch", "web_search"},
		{"already canonical", "web_search", "web_search"},
		{"acronym run", "HTTPCheck", "http_check"},
		{"alias screenshot", "Screenshot", "screen_capture"},
		{"alias shell", "shell", "system_exec"},
		{"alias memory search", "memory_search", "memory_retrieve"},
		{"surrounding whitespace", "  GetActiveWindow ", "get_active_window"},
		{"hyphen separator", "browser-navigate", "browser_navigate"},
		{"dotted name", "desktop.FileRead", "desktop_file_read"},
		{"uppercase snake", "FILE_READ", "file_read"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalName(tt.in); got != tt.want {
				t.Errorf("CanonicalName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalNamesDropsEmpties(t *testing.T) {
	got := CanonicalNames([]string{"WebSearch", "", "  ", "Screenshot"})
	want := []string{"web_search", "screen_capture"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CanonicalNames = %v, want %v", got, want)
	}
}
