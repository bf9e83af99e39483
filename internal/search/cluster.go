package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// clusterThreshold is the minimum Jaccard similarity for two titles to
// land in the same story cluster.
const clusterThreshold = 0.3

// titleStopwords are dropped before comparing titles. Glue words carry no
// story identity and would inflate similarity between unrelated items.
var titleStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "with": {}, "by": {}, "from": {},
	"as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "has": {},
	"have": {}, "had": {}, "it": {}, "its": {}, "this": {}, "that": {},
	"after": {}, "over": {}, "amid": {}, "into": {}, "about": {}, "up": {},
	"says": {}, "say": {}, "said": {}, "new": {}, "will": {}, "how": {},
	"what": {}, "why": {}, "who": {}, "not": {}, "no": {}, "more": {},
}

// stripDiacritics decomposes to NFD and drops combining marks, so that
// "Zürich" and "Zurich" tokenize identically.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	out := make([]rune, 0, len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// tokenizeTitle lowercases, strips diacritics, splits on non-alphanumeric
// runes, and drops stopwords and single letters.
func tokenizeTitle(title string) map[string]struct{} {
	cleaned := stripDiacritics(strings.ToLower(title))
	fields := strings.FieldsFunc(cleaned, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := titleStopwords[f]; ok {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

// jaccard is intersection over union of two token sets. Two empty sets
// score zero: stopword-only titles never cluster.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// storyCluster groups sources covering the same story. Representative is
// the highest-ranked member; Members includes it.
type storyCluster struct {
	Representative SourceItem
	Members        []SourceItem
}

// clusterStories greedily groups items in rank order: each item joins the
// first existing cluster whose representative's title is similar enough,
// otherwise it starts its own. Iterating in rank order makes the earliest,
// highest-ranked title the representative for free.
func clusterStories(items []SourceItem) []storyCluster {
	var clusters []storyCluster
	var repTokens []map[string]struct{}
	for _, item := range items {
		tokens := tokenizeTitle(item.Title)
		placed := false
		for i := range clusters {
			if jaccard(tokens, repTokens[i]) >= clusterThreshold {
				clusters[i].Members = append(clusters[i].Members, item)
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		clusters = append(clusters, storyCluster{Representative: item, Members: []SourceItem{item}})
		repTokens = append(repTokens, tokens)
	}
	return clusters
}
