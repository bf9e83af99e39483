// Package router classifies each user message into a single intent. Four
// layers run in order, each a pure function of the message and session
// flags: explicit override prefixes, the deterministic utility engine,
// heuristic keyword tables, and finally one short LLM call with a closed
// label vocabulary. Earlier layers are cheaper and more trusted; the first
// layer that speaks wins.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/utility"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Layer names, recorded in the output for audit detail.
const (
	LayerPrefix    = "prefix"
	LayerUtility   = "utility"
	LayerHeuristic = "heuristic"
	LayerLLM       = "llm"
	LayerFallback  = "fallback"
)

// Confidence is fixed per layer: the deterministic layers are certain, the
// keyword tables are empirical, the LLM reports its own number.
const (
	deterministicConfidence = 1.0
	heuristicConfidence     = 0.8
	defaultLLMConfidence    = 0.5
)

// SessionFlags carries the per-session state the deterministic layers may
// consult. The router never reads conversation history directly.
type SessionFlags struct {
	// HasRecentSearch is true while a previous search session is fresh
	// enough for follow-ups.
	HasRecentSearch bool
}

// Output is the router's verdict for one message.
type Output struct {
	models.RouterOutput

	// Layer names which layer produced the verdict.
	Layer string

	// CleanedMessage is the message with any override prefix removed.
	CleanedMessage string

	// Utility is set when the deterministic utility engine matched; the
	// orchestrator answers from it without any LLM round trip.
	Utility *utility.Match
}

// Router applies the classification layers in order.
type Router struct {
	engine     *utility.Engine
	classifier llm.Client
	model      string
	rows       []heuristicRow
	llmEnabled bool
	logger     *slog.Logger
}

// New builds a router. The classifier may be nil, in which case the LLM
// layer is skipped and unmatched messages fall back to chat_only.
func New(engine *utility.Engine, classifier llm.Client, model string, cfg config.RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		engine:     engine,
		classifier: classifier,
		model:      model,
		rows:       buildHeuristics(cfg),
		llmEnabled: cfg.LLMFallbackEnabled(),
		logger:     logger.With("component", "router"),
	}
}

// Route classifies one message. It never fails: when every layer misses the
// verdict is chat_only.
func (r *Router) Route(ctx context.Context, message string, flags SessionFlags) Output {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return r.finish(models.IntentChatOnly, deterministicConfidence, LayerFallback, msg, nil)
	}

	if intent, cleaned, ok := matchPrefix(msg); ok {
		r.logger.Debug("routed by prefix", "intent", intent)
		return r.finish(intent, deterministicConfidence, LayerPrefix, cleaned, nil)
	}

	if r.engine != nil {
		if m := r.engine.Match(msg); m != nil {
			r.logger.Debug("routed by utility engine", "category", m.Category)
			out := r.finish(models.IntentUtilityDeterministic, deterministicConfidence, LayerUtility, msg, m)
			out.NeedsWeb = false
			out.NeedsSearch = false
			return out
		}
	}

	if intent, category, ok := r.matchHeuristics(msg, flags); ok {
		r.logger.Debug("routed by heuristics", "intent", intent, "category", category)
		return r.finish(intent, heuristicConfidence, LayerHeuristic, msg, nil)
	}

	if r.classifier != nil && r.llmEnabled {
		intent, confidence := r.classify(ctx, msg)
		r.logger.Debug("routed by llm", "intent", intent, "confidence", confidence)
		return r.finish(intent, confidence, LayerLLM, msg, nil)
	}

	return r.finish(models.IntentChatOnly, defaultLLMConfidence, LayerFallback, msg, nil)
}

func (r *Router) finish(intent models.Intent, confidence float64, layer, cleaned string, match *utility.Match) Output {
	needsWeb, needsSearch := computeNeeds(intent, cleaned)
	return Output{
		RouterOutput: models.RouterOutput{
			Intent:               intent,
			Confidence:           confidence,
			NeedsWeb:             needsWeb,
			NeedsSearch:          needsSearch,
			RequiredCapabilities: capabilitiesFor(intent),
		},
		Layer:          layer,
		CleanedMessage: cleaned,
		Utility:        match,
	}
}

// intentCapabilities is the fixed intent → capability table. The policy
// gate makes the final exposure decision; this names what the intent could
// legitimately need.
var intentCapabilities = map[models.Intent][]models.Capability{
	models.IntentChatOnly:             nil,
	models.IntentUtilityDeterministic: {models.CapDeterministicUtility},
	models.IntentLookupFact:           {models.CapWebSearch},
	models.IntentLookupNews:           {models.CapWebSearch},
	models.IntentLookupSearch:         {models.CapWebSearch},
	models.IntentBrowseOnce:           {models.CapBrowserControl},
	models.IntentOneShotDiscovery:     {models.CapWebSearch, models.CapBrowserControl},
	models.IntentScreenObserve:        {models.CapScreenObserve},
	models.IntentFileTask:             {models.CapFileAccess},
	models.IntentSystemTask:           {models.CapSystemExecute},
	models.IntentMemoryRead:           {models.CapMemoryRead},
	models.IntentMemoryWrite:          {models.CapMemoryWrite},
	models.IntentGeneralTool:          {models.CapMeta},
}

func capabilitiesFor(intent models.Intent) models.CapabilitySet {
	return models.NewCapabilitySet(intentCapabilities[intent]...)
}

// temporalMarkers flag freshness-sensitive wording that pushes borderline
// intents toward the web.
var temporalMarkers = regexp.MustCompile(`(?i)\b(?:today|this week|latest|breaking)\b`)

func computeNeeds(intent models.Intent, msg string) (needsWeb, needsSearch bool) {
	needsSearch = intent.IsLookup()
	needsWeb = needsSearch ||
		intent == models.IntentBrowseOnce ||
		intent == models.IntentOneShotDiscovery
	if !needsWeb && temporalMarkers.MatchString(msg) {
		switch intent {
		case models.IntentChatOnly, models.IntentGeneralTool:
			needsWeb = true
		}
	}
	return needsWeb, needsSearch
}
