package tools

import (
	"strings"
	"unicode"
)

// toolAliases maps alternative names to canonical tool names. Keys are the
// snake_case form of the incoming name, so "Screenshot" and "screenshot"
// resolve identically.
var toolAliases = map[string]string{
	"screenshot":     "screen_capture",
	"capture_screen": "screen_capture",
	"active_window":  "get_active_window",
	"websearch":      "web_search",
	"browse":         "browser_navigate",
	"navigate":       "browser_navigate",
	"web_fetch":      "browser_navigate",
	"read_file":      "file_read",
	"write_file":     "file_write",
	"list_files":     "file_list",
	"exec":           "system_exec",
	"shell":          "system_exec",
	"bash":           "system_exec",
	"run_command":    "system_exec",
	"memory_search":  "memory_retrieve",
	"remember":       "memory_store_facts",
	"forget":         "memory_forget",
}

// CanonicalName normalizes a tool name to its canonical snake_case form:
// PascalCase and camelCase are converted, separators become underscores,
// and known aliases resolve to their canonical target.
func CanonicalName(name string) string {
	normalized := snakeCase(strings.TrimSpace(name))
	if alias, ok := toolAliases[normalized]; ok {
		return alias
	}
	return normalized
}

// CanonicalNames normalizes a list of tool names, dropping empties.
func CanonicalNames(names []string) []string {
	result := make([]string, 0, len(names))
	for _, name := range names {
		if canonical := CanonicalName(name); canonical != "" {
			result = append(result, canonical)
		}
	}
	return result
}

// snakeCase lowercases a name, inserting underscores at word boundaries.
// Acronym runs stay together: "HTTPCheck" becomes "http_check".
func snakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)

	runes := []rune(name)
	lastUnderscore := true // suppress a leading underscore
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && !lastUnderscore {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case r == ' ' || r == '-' || r == '.' || r == '_':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
	}
	return strings.TrimRight(b.String(), "_")
}
