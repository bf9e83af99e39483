package search

import "regexp"

// Mode is the kind of search turn.
type Mode string

const (
	// ModeNewsAggregate gathers coverage of a developing topic and
	// clusters it into stories.
	ModeNewsAggregate Mode = "news_aggregate"

	// ModeWebFactFind answers a concrete question from search snippets.
	ModeWebFactFind Mode = "web_fact_find"

	// ModeFollowUp continues the previous search turn.
	ModeFollowUp Mode = "follow_up"
)

// Branch refines a follow-up turn.
type Branch string

const (
	// BranchMoreSources re-searches and shows sources not seen yet.
	BranchMoreSources Branch = "more_sources"

	// BranchDeepDive opens the session's primary source and summarizes
	// it. Default when a follow-up gives no other cue.
	BranchDeepDive Branch = "deep_dive"
)

var (
	followUpPattern = regexp.MustCompile(`(?i)\b(?:more sources|other sources|more articles|more links|more coverage|anything else|what else|tell me more|more details|more on (?:that|this|it)|dig deeper|go deeper|dive deeper|deep dive|open (?:it|that)|read (?:it|that)|(?:the )?first one)\b`)

	moreSourcesPattern = regexp.MustCompile(`(?i)\b(?:more sources|other sources|more articles|more links|more coverage|anything else|what else)\b`)

	newsPattern = regexp.MustCompile(`(?i)\b(?:news|headlines?|top stories|breaking|what'?s happening|what is happening|current events)\b`)
)

// classifyMode decides the search mode from the message alone plus one
// bit of session state. Follow-up wording without a fresh session falls
// back to fact-find; the stale session cannot be continued.
func classifyMode(message string, sessionFresh bool) (Mode, Branch) {
	if followUpPattern.MatchString(message) && sessionFresh {
		if moreSourcesPattern.MatchString(message) {
			return ModeFollowUp, BranchMoreSources
		}
		return ModeFollowUp, BranchDeepDive
	}
	if newsPattern.MatchString(message) {
		return ModeNewsAggregate, ""
	}
	return ModeWebFactFind, ""
}

// cannedShortcuts answer a short list of famous questions deterministically,
// with no search and no LLM call.
var cannedShortcuts = []struct {
	pattern *regexp.Regexp
	answer  string
}{
	{
		regexp.MustCompile(`(?i)airspeed velocity of an unladen swallow`),
		"An African or European swallow? A European Swallow cruises at roughly 11 meters per second, about 24 miles per hour.",
	},
}

// cannedAnswer returns the deterministic answer for a shortcut question.
func cannedAnswer(message string) (string, bool) {
	for _, c := range cannedShortcuts {
		if c.pattern.MatchString(message) {
			return c.answer, true
		}
	}
	return "", false
}
