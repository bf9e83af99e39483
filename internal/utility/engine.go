// Package utility implements the deterministic answer engine: a pure
// matcher that turns messages like "350F in C" or "is example.com up" into
// either an immediate inline answer or a single named tool call, with no
// LLM involved. Matching is ordered and first match wins; anything the
// engine cannot answer deterministically is a non-match, never an error.
package utility

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/haasonsaas/sidekick/internal/config"
)

// MatchKind distinguishes answers the engine produces itself from answers
// that need one upstream tool call.
type MatchKind string

const (
	KindInline MatchKind = "inline"
	KindTool   MatchKind = "tool"
)

// Match categories.
const (
	CategoryTemperature = "temperature_convert"
	CategoryDistance    = "distance_convert"
	CategoryFollowUp    = "unit_follow_up"
	CategoryArithmetic  = "arithmetic"
	CategoryConstant    = "named_constant"
	CategoryLetterCount = "letter_count"
	CategoryWeather     = "weather"
	CategoryTimezone    = "timezone"
	CategoryHoliday     = "holiday"
	CategoryFeed        = "feed"
	CategoryStatusProbe = "status_probe"
)

// Match is one deterministic verdict. Inline matches carry the final answer
// text; tool matches name the single call that will produce it.
type Match struct {
	Kind         MatchKind
	Category     string
	AnswerText   string
	ToolName     string
	ToolArgsJSON string
}

// defaultConstants are the built-in named-constant answers. Config entries
// extend or override them.
var defaultConstants = map[string]string{
	"pi":                "π ≈ 3.14159",
	"e":                 "e ≈ 2.71828",
	"euler's number":    "e ≈ 2.71828",
	"golden ratio":      "φ ≈ 1.61803",
	"phi":               "φ ≈ 1.61803",
	"speed of light":    "The speed of light is 299,792,458 m/s.",
	"avogadro's number": "Avogadro's number is 6.02214076×10²³ per mole.",
	"planck's constant": "Planck's constant is 6.62607015×10⁻³⁴ J·s.",
	"absolute zero":     "Absolute zero is −273.15°C (0K).",
}

// Engine matches messages against the ordered category list. It keeps the
// last inline conversion so follow-ups like "what is that in feet?" resolve
// without any tool. Safe for concurrent use.
type Engine struct {
	constants map[string]string

	mu   sync.Mutex
	last *lastAnswer
}

type lastAnswer struct {
	value float64
	unit  unitKind
}

// NewEngine builds an engine with the default constants extended by config.
func NewEngine(cfg config.UtilityConfig) *Engine {
	constants := make(map[string]string, len(defaultConstants)+len(cfg.Constants))
	for k, v := range defaultConstants {
		constants[k] = v
	}
	for k, v := range cfg.Constants {
		constants[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Engine{constants: constants}
}

// Match returns the first category hit for the message, or nil. The order
// is load-bearing: conversions beat arithmetic (so "350F in C" is never
// parsed as math), and inline categories beat tool categories.
func (e *Engine) Match(msg string) *Match {
	text := strings.TrimSpace(msg)
	if text == "" {
		return nil
	}

	matchers := []func(string) *Match{
		e.matchTemperature,
		e.matchDistance,
		e.matchFollowUp,
		e.matchArithmetic,
		e.matchConstant,
		e.matchLetterCount,
		e.matchWeather,
		e.matchTimezone,
		e.matchHoliday,
		e.matchFeed,
		e.matchStatusProbe,
	}
	for _, matcher := range matchers {
		if m := matcher(text); m != nil {
			return m
		}
	}
	return nil
}

// Reset clears the follow-up state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = nil
}

func (e *Engine) remember(value float64, u unitKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = &lastAnswer{value: value, unit: u}
}

func (e *Engine) lastInline() (lastAnswer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return lastAnswer{}, false
	}
	return *e.last, true
}

var (
	tempConvert = regexp.MustCompile(`(?i)^(?:convert\s+|what(?:'s| is)\s+)?(-?\d+(?:\.\d+)?)\s*°?\s*(celsius|centigrade|fahrenheit|kelvin|c|f|k)\s+(?:in|to|as)\s+°?\s*(celsius|centigrade|fahrenheit|kelvin|c|f|k)\s*\??$`)
	distConvert = regexp.MustCompile(`(?i)^(?:convert\s+|what(?:'s| is)\s+)?(-?\d+(?:\.\d+)?)\s*(kilometers?|kilometres?|km|miles?|mi|meters?|metres?|m|feet|foot|ft)\s+(?:in|to|as)\s+(kilometers?|kilometres?|km|miles?|mi|meters?|metres?|m|feet|foot|ft)\s*\??$`)

	followUpConvert = regexp.MustCompile(`(?i)^(?:and\s+)?(?:what(?:'s| is)?\s+)?(?:that|it)\s+in\s+([a-z°]+)\s*\??$`)

	arithmeticPrefix = regexp.MustCompile(`(?i)^(?:what(?:'s| is)\s+|calculate\s+|compute\s+|eval(?:uate)?\s+)`)
	arithmeticBody   = regexp.MustCompile(`^[0-9\s.+\-*/xX×÷()]+$`)

	constantPrefix = regexp.MustCompile(`(?i)^(?:what(?:'s| is)\s+|whats\s+|tell\s+me\s+)?(?:the\s+)?(?:value\s+of\s+)?(?:the\s+)?`)

	letterCount = regexp.MustCompile(`(?i)^how\s+many\s+(?:letter\s+)?([a-z])(?:'s|s)?\s+(?:are\s+)?(?:there\s+)?in\s+(?:the\s+word\s+)?["']?([a-z][a-z'-]*)["']?\s*\??$`)

	bareWeather = regexp.MustCompile(`(?i)^(?:what(?:'s| is)\s+)?(?:the\s+)?(?:current\s+)?weather(?:\s+like)?\s*\??$`)
	weatherIn   = regexp.MustCompile(`(?i)^(?:what(?:'s| is)\s+)?(?:the\s+)?(?:current\s+)?weather(?:\s+like)?\s+(?:in|at|for)\s+(.+)$`)
	weatherTail = regexp.MustCompile(`(?i)^(.+?)\s+weather\s*\??$`)

	timeIn = regexp.MustCompile(`(?i)^(?:what\s+)?(?:time(?:\s+is\s+it)?|(?:the\s+)?current\s+time|local\s+time)\s+(?:in|at|for)\s+(.+)$`)

	holidayQuery = regexp.MustCompile(`(?i)^(?:is\s+today\s+a\s+holiday|is\s+it\s+a\s+holiday(?:\s+today)?|any\s+holidays?\s+today|what\s+holiday\s+is\s+(?:it\s+)?today)\s*\??$`)

	feedURL    = regexp.MustCompile(`(?i)^(?:fetch|check|read|pull)\s+(?:the\s+)?feed\s+(?:at\s+|from\s+)?(https?://\S+)\s*$`)
	feedsQuery = regexp.MustCompile(`(?i)^(?:check|read|fetch|pull)\s+(?:my\s+|the\s+)?(?:news\s+)?feeds\s*\??$`)

	statusIsUp  = regexp.MustCompile(`(?i)^is\s+(\S+?)\s+(?:up|down|online|offline|reachable)\s*\??$`)
	statusCheck = regexp.MustCompile(`(?i)^(?:check|ping)\s+(https?://\S+)\s*\??$`)
)

func (e *Engine) matchTemperature(text string) *Match {
	m := tempConvert.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	from, to := parseUnit(m[2]), parseUnit(m[3])
	converted, ok := convert(value, from, to)
	if !ok {
		return nil
	}
	e.remember(converted, to)
	return &Match{
		Kind:       KindInline,
		Category:   CategoryTemperature,
		AnswerText: fmt.Sprintf("%s = %s", formatQuantity(value, from), formatConverted(converted, to)),
	}
}

func (e *Engine) matchDistance(text string) *Match {
	m := distConvert.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	from, to := parseUnit(m[2]), parseUnit(m[3])
	converted, ok := convert(value, from, to)
	if !ok {
		return nil
	}
	e.remember(converted, to)
	return &Match{
		Kind:       KindInline,
		Category:   CategoryDistance,
		AnswerText: fmt.Sprintf("%s = %s", formatQuantity(value, from), formatConverted(converted, to)),
	}
}

// matchFollowUp converts the last inline answer to a new unit. It never
// calls a tool and never fires without a prior conversion this session.
func (e *Engine) matchFollowUp(text string) *Match {
	m := followUpConvert.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	last, ok := e.lastInline()
	if !ok {
		return nil
	}
	target := parseUnit(m[1])
	if target == unitNone {
		return nil
	}
	converted, ok := convert(last.value, last.unit, target)
	if !ok {
		return nil
	}
	e.remember(converted, target)
	return &Match{
		Kind:       KindInline,
		Category:   CategoryFollowUp,
		AnswerText: fmt.Sprintf("%s = %s", formatConverted(last.value, last.unit), formatConverted(converted, target)),
	}
}

func (e *Engine) matchArithmetic(text string) *Match {
	expr := arithmeticPrefix.ReplaceAllString(text, "")
	expr = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(expr), "?="))
	if expr == "" || !arithmeticBody.MatchString(expr) {
		return nil
	}
	value, rendered, ok := evaluateExpression(expr)
	if !ok {
		return nil
	}
	return &Match{
		Kind:       KindInline,
		Category:   CategoryArithmetic,
		AnswerText: fmt.Sprintf("%s = **%s**", rendered, formatNumber(value)),
	}
}

func (e *Engine) matchConstant(text string) *Match {
	name := constantPrefix.ReplaceAllString(text, "")
	name = strings.ToLower(strings.TrimSpace(strings.TrimRight(name, "?!. ")))
	if name == "" {
		return nil
	}
	answer, ok := e.constants[name]
	if !ok {
		return nil
	}
	return &Match{Kind: KindInline, Category: CategoryConstant, AnswerText: answer}
}

func (e *Engine) matchLetterCount(text string) *Match {
	m := letterCount.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	letter := strings.ToLower(m[1])
	word := m[2]
	count := strings.Count(strings.ToLower(word), letter)
	var answer string
	if count == 1 {
		answer = fmt.Sprintf("There is 1 %s in %q.", letter, word)
	} else {
		answer = fmt.Sprintf("There are %d %s's in %q.", count, letter, word)
	}
	return &Match{Kind: KindInline, Category: CategoryLetterCount, AnswerText: answer}
}

func (e *Engine) matchWeather(text string) *Match {
	if m := weatherIn.FindStringSubmatch(text); m != nil {
		place := stripTemporalTail(m[1])
		if place == "" {
			return nil
		}
		return toolMatch(CategoryWeather, "weather_geocode", map[string]string{"location": place})
	}
	if bare := stripTemporalTail(text); bare != "" && bareWeather.MatchString(bare) {
		return toolMatch(CategoryWeather, "weather_geocode", nil)
	}
	if m := weatherTail.FindStringSubmatch(text); m != nil {
		place := stripTemporalTail(m[1])
		if place == "" {
			return nil
		}
		return toolMatch(CategoryWeather, "weather_geocode", map[string]string{"location": place})
	}
	return nil
}

func (e *Engine) matchTimezone(text string) *Match {
	m := timeIn.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	place := stripTemporalTail(m[1])
	if place == "" {
		return nil
	}
	return toolMatch(CategoryTimezone, "resolve_timezone", map[string]string{"location": place})
}

func (e *Engine) matchHoliday(text string) *Match {
	if !holidayQuery.MatchString(text) {
		return nil
	}
	return toolMatch(CategoryHoliday, "holidays_is_today", nil)
}

func (e *Engine) matchFeed(text string) *Match {
	if m := feedURL.FindStringSubmatch(text); m != nil {
		return toolMatch(CategoryFeed, "feed_fetch", map[string]string{"url": m[1]})
	}
	if feedsQuery.MatchString(text) {
		return toolMatch(CategoryFeed, "feed_fetch", nil)
	}
	return nil
}

func (e *Engine) matchStatusProbe(text string) *Match {
	if m := statusCheck.FindStringSubmatch(text); m != nil {
		return toolMatch(CategoryStatusProbe, "status_check_url", map[string]string{"url": m[1]})
	}
	m := statusIsUp.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	target := strings.TrimRight(m[1], "?!.,")
	if !strings.Contains(target, ".") {
		return nil
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}
	return toolMatch(CategoryStatusProbe, "status_check_url", map[string]string{"url": target})
}

// toolMatch builds a tool-kind match with marshaled arguments. A nil args
// map sends an empty object.
func toolMatch(category, tool string, args map[string]string) *Match {
	argsJSON := "{}"
	if len(args) > 0 {
		if data, err := json.Marshal(args); err == nil {
			argsJSON = string(data)
		}
	}
	return &Match{
		Kind:         KindTool,
		Category:     category,
		ToolName:     tool,
		ToolArgsJSON: argsJSON,
	}
}
