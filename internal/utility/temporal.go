package utility

import (
	"regexp"
	"strings"
)

// temporalTail matches trailing time qualifiers on place names. Stripping
// is repeated so "tonight right now" collapses fully.
var temporalTail = regexp.MustCompile(`(?i)[\s,]+(?:today|tonight|tomorrow|yesterday|right now|now|currently|at the moment|this (?:week|weekend|morning|afternoon|evening))\s*$`)

// temporalOnly matches messages that are nothing but a time qualifier.
var temporalOnly = regexp.MustCompile(`(?i)^(?:today|tonight|tomorrow|yesterday|right now|now|currently|at the moment|this (?:week|weekend|morning|afternoon|evening))$`)

// stripTemporalTail removes trailing time qualifiers from a place name.
// The empty string comes back when nothing but the qualifier was there, in
// which case the caller must not match.
func stripTemporalTail(place string) string {
	place = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(place), "?!."))
	if temporalOnly.MatchString(place) {
		return ""
	}
	for {
		stripped := temporalTail.ReplaceAllString(place, "")
		if stripped == place {
			return strings.TrimSpace(place)
		}
		place = strings.TrimSpace(stripped)
		if temporalOnly.MatchString(place) {
			return ""
		}
	}
}
