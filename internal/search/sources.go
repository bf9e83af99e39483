package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// sourcesDelimiter separates the human-readable body of a web_search
// result from the machine-readable source array that follows it.
const sourcesDelimiter = "<!-- SOURCES_JSON -->"

// SourceItem is one parsed search result. PublishedAt stays the raw wire
// string; publishedTime parses it on demand so one malformed timestamp
// never poisons the rest of the list.
type SourceItem struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Domain      string `json:"domain,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	ID          string `json:"source_id"`
}

// NormalizeURL lowercases the scheme and host and strips the trailing
// slash, so that cosmetic variants of one URL hash identically.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// SourceID is the stable identity of a URL: sha256 over its normalized
// form, hex encoded.
func SourceID(raw string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(raw)))
	return hex.EncodeToString(sum[:])
}

// parseSources splits a web_search result into the text body and the
// source list. A missing delimiter or malformed JSON yields an empty
// list, never an error; the summarizer can still work from the body.
func parseSources(result string) (string, []SourceItem) {
	idx := strings.Index(result, sourcesDelimiter)
	if idx < 0 {
		return strings.TrimSpace(result), nil
	}
	body := strings.TrimSpace(result[:idx])
	payload := strings.TrimSpace(result[idx+len(sourcesDelimiter):])

	var items []SourceItem
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return body, nil
	}
	out := items[:0]
	for _, item := range items {
		item.URL = strings.TrimSpace(item.URL)
		if item.URL == "" {
			continue
		}
		item.ID = SourceID(item.URL)
		if item.Domain == "" {
			if u, err := url.Parse(item.URL); err == nil {
				item.Domain = strings.ToLower(u.Host)
			}
		}
		out = append(out, item)
	}
	return body, out
}

// dedupeSources keeps the first occurrence of each source id, skips ids
// in exclude, and caps the list at max. Rank order is preserved.
func dedupeSources(items []SourceItem, exclude map[string]struct{}, max int) []SourceItem {
	if max <= 0 {
		max = defaultMaxResults
	}
	seen := make(map[string]struct{}, len(items))
	var out []SourceItem
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		if _, ok := exclude[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
		if len(out) == max {
			break
		}
	}
	return out
}

// publishedLayouts are tried in order when parsing published_at strings.
var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// publishedTime parses the source's timestamp. The second result is false
// when the field is absent or unparseable.
func (s SourceItem) publishedTime() (time.Time, bool) {
	raw := strings.TrimSpace(s.PublishedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// newestPublished returns the most recent parseable timestamp in the
// list. The second result is false when no source carries one.
func newestPublished(items []SourceItem) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, item := range items {
		t, ok := item.publishedTime()
		if !ok {
			continue
		}
		if !found || t.After(newest) {
			newest = t
			found = true
		}
	}
	return newest, found
}
