package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// classifierPrompt pins the LLM layer to a closed vocabulary. Anything that
// comes back outside it is treated as chat_only.
const classifierPrompt = `You route one user message for a desktop assistant. Reply with a single JSON object on one line, like {"intent":"lookup_fact","confidence":0.9}.

"intent" must be exactly one of:
chat_only - conversation, opinions, writing help, anything answerable without tools
lookup_fact - a factual question best answered with a web search
lookup_news - current events or news
lookup_search - an explicit research request
browse_once - open or read one specific web page
one_shot_discovery - find a site or page, then read it
screen_observe - about what is on the user's screen
file_task - read, write, or list local files
system_task - run an application or shell command
memory_read - asks what the assistant remembers
memory_write - asks the assistant to remember or forget something
general_tool - needs a tool but fits nothing above

"confidence" is your own estimate between 0 and 1. No prose, no markdown.`

// llmVocabulary is every label the classifier may return. It deliberately
// excludes utility_deterministic, which only the engine layer can assign.
var llmVocabulary = func() map[models.Intent]struct{} {
	v := make(map[models.Intent]struct{}, len(models.AllIntents))
	for _, intent := range models.AllIntents {
		if intent == models.IntentUtilityDeterministic {
			continue
		}
		v[intent] = struct{}{}
	}
	return v
}()

type classifierVerdict struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// classify runs the single LLM classification call. Every failure mode
// (transport error, malformed JSON, unknown label) falls back to chat_only.
func (r *Router) classify(ctx context.Context, msg string) (models.Intent, float64) {
	zero := 0.0
	resp, err := r.classifier.Chat(ctx, &llm.Request{
		Model: r.model,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: classifierPrompt},
			{Role: models.RoleUser, Content: msg},
		},
		MaxTokens:   64,
		Temperature: &zero,
	})
	if err != nil {
		r.logger.Warn("intent classification failed", "error", err)
		return models.IntentChatOnly, defaultLLMConfidence
	}
	intent, confidence, ok := parseVerdict(resp.Content)
	if !ok {
		r.logger.Warn("intent classification unparseable", "content", resp.Content)
		return models.IntentChatOnly, defaultLLMConfidence
	}
	return intent, confidence
}

// parseVerdict accepts the JSON the prompt asks for, or a bare label when
// the model ignores the shape.
func parseVerdict(content string) (models.Intent, float64, bool) {
	text := strings.TrimSpace(content)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			var v classifierVerdict
			if err := json.Unmarshal([]byte(text[start:end+1]), &v); err == nil {
				if intent, ok := validLabel(v.Intent); ok {
					return intent, clampConfidence(v.Confidence), true
				}
			}
		}
	}
	if intent, ok := validLabel(text); ok {
		return intent, defaultLLMConfidence, true
	}
	return "", 0, false
}

func validLabel(raw string) (models.Intent, bool) {
	label := strings.Trim(strings.ToLower(strings.TrimSpace(raw)), "\"'`.")
	intent := models.Intent(label)
	_, ok := llmVocabulary[intent]
	return intent, ok
}

// clampConfidence keeps the model's number in range. Zero means the field
// was omitted, which gets the layer default.
func clampConfidence(c float64) float64 {
	if c <= 0 {
		return defaultLLMConfidence
	}
	if c > 1 {
		return 1
	}
	return c
}
