package tools

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Redaction placeholders. The audit trail carries these instead of the
// material they replace; callers always receive the unredacted output.
const (
	redactedValue  = "[REDACTED]"
	redactedJWT    = "[REDACTED_JWT]"
	redactedSecret = "[REDACTED_SECRET]"
)

// summaryLimit caps args_summary and output_summary in audit events.
const summaryLimit = 256

var (
	// secretKeyPattern matches JSON keys whose values are secret by name.
	secretKeyPattern = regexp.MustCompile(`(?i)^(password|passwd|api[_-]?key|apikey|authorization|auth[_-]?token|secret|token|access[_-]?key|refresh[_-]?token|private[_-]?key|client[_-]?secret|credentials?)$`)

	// jwtValuePattern matches a whole string shaped like a signed JWT:
	// three base64url segments of plausible length.
	jwtValuePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{4,}$`)

	// jwtTextPattern finds JWTs embedded in prose. Signed JWTs start with
	// the base64 of `{"`, which is "eyJ".
	jwtTextPattern = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{4,}\b`)

	// secretTokenPattern finds candidate high-entropy runs in prose; each
	// match is confirmed by highEntropy before replacement.
	secretTokenPattern = regexp.MustCompile(`[A-Za-z0-9+/=_-]{40,}`)
)

// sensitiveOutputKinds names the tools whose raw output never reaches the
// audit log verbatim; END events carry a length-and-hash summary instead.
var sensitiveOutputKinds = map[string]string{
	"screen_capture": "screen",
	"file_read":      "file",
}

// Scrub removes secret material from text bound for logs. JSON payloads are
// walked key by key; anything else is scanned for token shapes.
func Scrub(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if data, err := json.Marshal(scrubValue(v)); err == nil {
				return string(data)
			}
		}
	}
	return scrubText(s)
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if secretKeyPattern.MatchString(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = scrubValue(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = scrubValue(t[i])
		}
		return t
	case string:
		return scrubString(t)
	default:
		return v
	}
}

func scrubString(s string) string {
	if jwtValuePattern.MatchString(s) {
		return redactedJWT
	}
	if highEntropy(s) {
		return redactedSecret
	}
	return scrubText(s)
}

func scrubText(s string) string {
	s = jwtTextPattern.ReplaceAllString(s, redactedJWT)
	return secretTokenPattern.ReplaceAllStringFunc(s, func(m string) string {
		if highEntropy(m) {
			return redactedSecret
		}
		return m
	})
}

// highEntropy reports whether s looks like key material: at least 40 chars
// drawn purely from the base64/hex alphabet with both letters and digits
// present. Long plain words fail the digit requirement; URLs and paths fail
// the alphabet.
func highEntropy(s string) bool {
	if len(s) < 40 {
		return false
	}
	var letters, digits int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letters++
		case r == '+' || r == '/' || r == '=' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return letters >= 4 && digits >= 2
}

// Summarize scrubs and truncates text for an audit detail field.
func Summarize(s string) string {
	scrubbed := Scrub(s)
	if len(scrubbed) <= summaryLimit {
		return scrubbed
	}
	cut := summaryLimit
	for cut > 0 && !isRuneStart(scrubbed[cut]) {
		cut--
	}
	return scrubbed[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// SensitiveSummary renders the log-safe stand-in for screen and file
// contents: kind, length, and a content hash for correlation.
func SensitiveSummary(kind, output string) string {
	return fmt.Sprintf("%s: %d chars, sha256=%x", kind, len(output), sha256.Sum256([]byte(output)))
}
