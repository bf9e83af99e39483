package router

import (
	"sort"
	"strings"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// heuristicRow binds one keyword category to its intent. Rows run in order;
// the first pattern hit wins.
type heuristicRow struct {
	category string
	intent   models.Intent
	patterns []string

	// requiresRecentSearch gates follow-up cues, which only mean anything
	// while a previous search session is fresh.
	requiresRecentSearch bool
}

// defaultHeuristics are the built-in keyword tables. The wording is
// empirical, not principled; config extends it rather than editing code.
// Memory cues come first so "remember that the capital of France is Paris"
// is a write, not a fact lookup.
var defaultHeuristics = []heuristicRow{
	{category: "memory_write", intent: models.IntentMemoryWrite, patterns: []string{
		"remember that", "remember this", "remember my", "don't forget",
		"dont forget", "note that", "save this fact", "forget that",
		"forget what", "forget my",
	}},
	{category: "memory_read", intent: models.IntentMemoryRead, patterns: []string{
		"what do you remember", "what do you know about me",
		"did i tell you", "what did i say about", "what did i tell you",
		"what have i told you",
	}},
	{category: "screen", intent: models.IntentScreenObserve, patterns: []string{
		"on my screen", "on the screen", "on screen", "active window",
		"what am i looking at", "take a screenshot", "screenshot",
	}},
	{category: "file", intent: models.IntentFileTask, patterns: []string{
		"read the file", "open the file", "list the files", "list files",
		"in my documents", "in my downloads", "write a file",
		"create a file", "save to a file", "save it to a file",
	}},
	{category: "system", intent: models.IntentSystemTask, patterns: []string{
		"run the command", "run command", "run this command",
		"execute the command", "kill the process", "restart the",
		"launch the app", "open the app",
	}},
	{category: "browse", intent: models.IntentBrowseOnce, patterns: []string{
		"open the page", "open the website", "go to http", "navigate to",
		"open url", "browse to", "pull up the page",
	}},
	{category: "follow_up", intent: models.IntentLookupSearch, requiresRecentSearch: true, patterns: []string{
		"more sources", "other sources", "another source", "dig deeper",
		"go deeper", "tell me more about that", "more on that",
		"more about that",
	}},
	{category: "news", intent: models.IntentLookupNews, patterns: []string{
		"latest news", "news about", "news on", "headlines", "breaking news",
		"top stories", "what's happening with", "whats happening with",
		"any news",
	}},
	{category: "fact", intent: models.IntentLookupFact, patterns: []string{
		"who is", "who was", "who won", "when did", "when was",
		"where is", "how tall is", "how old is", "how far is",
		"capital of", "population of", "price of", "stock price",
		"how much does", "how much is",
	}},
}

// buildHeuristics copies the default rows and appends one row per
// configured intent. Config rows run after every built-in row.
func buildHeuristics(cfg config.RouterConfig) []heuristicRow {
	rows := make([]heuristicRow, len(defaultHeuristics))
	copy(rows, defaultHeuristics)

	if len(cfg.ExtraPatterns) == 0 {
		return rows
	}
	names := make([]string, 0, len(cfg.ExtraPatterns))
	for name := range cfg.ExtraPatterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		intent := models.Intent(name)
		if !intent.Valid() {
			continue
		}
		patterns := make([]string, 0, len(cfg.ExtraPatterns[name]))
		for _, p := range cfg.ExtraPatterns[name] {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) == 0 {
			continue
		}
		rows = append(rows, heuristicRow{
			category: "config:" + name,
			intent:   intent,
			patterns: patterns,
		})
	}
	return rows
}

// matchHeuristics scans the keyword rows in order and reports the first
// intent whose pattern appears in the message.
func (r *Router) matchHeuristics(msg string, flags SessionFlags) (models.Intent, string, bool) {
	low := strings.ToLower(msg)
	for _, row := range r.rows {
		if row.requiresRecentSearch && !flags.HasRecentSearch {
			continue
		}
		for _, pattern := range row.patterns {
			if strings.Contains(low, pattern) {
				return row.intent, row.category, true
			}
		}
	}
	return "", "", false
}
