package search

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Recency windows accepted by the web_search tool.
const (
	RecencyDay   = "day"
	RecencyWeek  = "week"
	RecencyMonth = "month"
	RecencyAny   = "any"
)

// plan is what the query builder produces: the search string and how far
// back to look.
type plan struct {
	Query   string `json:"query"`
	Recency string `json:"recency"`
}

const queryPrompt = `Turn the user's request into a web search query.
Reply with exactly one line of JSON, nothing else:
{"query": "search terms", "recency": "day|week|month|any"}
Use only words from the request or the subject's name. Pick "day" for
breaking topics, "any" when time does not matter.`

// queryAllowlist holds glue words a built query may contain even when the
// user never typed them. Everything else must come from the message or
// the entity name.
var queryAllowlist = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "for": {}, "to": {}, "with": {}, "about": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "what": {}, "who": {},
	"when": {}, "where": {}, "why": {}, "how": {}, "latest": {},
	"news": {}, "today": {}, "update": {}, "updates": {}, "recent": {},
	"this": {}, "week": {}, "month": {}, "year": {}, "vs": {},
	"versus": {}, "price": {}, "current": {},
}

// buildPlan asks the model for a query and falls back to templates when
// the answer is missing, malformed, or contains tokens the user never
// said.
func (t *turn) buildPlan(ctx context.Context, mode Mode, entity Entity, message string) plan {
	zeroTemp := 0.0
	resp, err := t.chat(ctx, &llm.Request{
		Model: t.model,
		Messages: []models.ChatMessage{
			models.SystemMessage(queryPrompt),
			models.UserMessage(message),
		},
		MaxTokens:   120,
		Temperature: &zeroTemp,
	})
	if err != nil {
		t.logger.Warn("query builder failed", "error", err)
		return fallbackPlan(mode, entity, message)
	}
	p, ok := parsePlan(resp.Content)
	if !ok || !validQuery(p.Query, message, entity.Name) {
		t.logger.Warn("query builder output rejected", "content", resp.Content)
		return fallbackPlan(mode, entity, message)
	}
	return p
}

func parsePlan(content string) (plan, bool) {
	payload, ok := firstJSONObject(content)
	if !ok {
		return plan{}, false
	}
	var p plan
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return plan{}, false
	}
	p.Query = strings.TrimSpace(p.Query)
	p.Recency = strings.ToLower(strings.TrimSpace(p.Recency))
	switch p.Recency {
	case RecencyDay, RecencyWeek, RecencyMonth, RecencyAny:
	default:
		return plan{}, false
	}
	if p.Query == "" {
		return plan{}, false
	}
	return p, true
}

// validQuery checks that every query token appears in the user message,
// the entity's canonical name, or the allowlist. A model that invents
// search terms gets overruled by the template builder.
func validQuery(query, message, entityName string) bool {
	allowed := queryTokens(message)
	for tok := range queryTokens(entityName) {
		allowed[tok] = struct{}{}
	}
	toks := queryTokens(query)
	if len(toks) == 0 {
		return false
	}
	for tok := range toks {
		if _, ok := allowed[tok]; ok {
			continue
		}
		if _, ok := queryAllowlist[tok]; ok {
			continue
		}
		return false
	}
	return true
}

func queryTokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

// fallbackPlan builds a query from templates keyed by mode and entity
// type, with recency from keyword detection alone.
func fallbackPlan(mode Mode, entity Entity, message string) plan {
	recency := detectRecency(message)
	subject := entity.Name
	if subject == "" {
		subject = cleanQuerySubject(message)
	}

	var query string
	switch mode {
	case ModeNewsAggregate:
		if strings.Contains(strings.ToLower(subject), "news") {
			query = subject
		} else {
			query = subject + " latest news"
		}
	default:
		switch entity.Type {
		case EntityPerson, EntityOrg:
			query = strings.TrimSpace(entity.Name + " " + entity.Hint)
		default:
			query = subject
		}
	}
	return plan{Query: query, Recency: recency}
}

var (
	recencyDayPattern   = regexp.MustCompile(`(?i)\b(?:today|this morning)\b`)
	recencyWeekPattern  = regexp.MustCompile(`(?i)\b(?:this week|last week)\b`)
	recencyMonthPattern = regexp.MustCompile(`(?i)\bpast month\b`)
)

// detectRecency maps temporal wording to a search window.
func detectRecency(message string) string {
	switch {
	case recencyDayPattern.MatchString(message):
		return RecencyDay
	case recencyWeekPattern.MatchString(message):
		return RecencyWeek
	case recencyMonthPattern.MatchString(message):
		return RecencyMonth
	default:
		return RecencyAny
	}
}

// leadingQueryChatter strips question scaffolding off the front of a
// message so the remainder works as a search string.
var leadingQueryChatter = regexp.MustCompile(`(?i)^(?:please\s+)?(?:can you\s+|could you\s+)?(?:search (?:the web )?for|look up|find out about|find|tell me about|what(?:'s| is| are)|who(?:'s| is| are)|how(?:'s| is| are)|where(?:'s| is| are))\s+`)

func cleanQuerySubject(message string) string {
	s := strings.TrimSpace(message)
	s = leadingQueryChatter.ReplaceAllString(s, "")
	s = strings.TrimRight(s, "?!. ")
	if s == "" {
		return strings.TrimRight(strings.TrimSpace(message), "?!. ")
	}
	return s
}
