package search

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// EntityType classifies what a search is about.
type EntityType string

const (
	EntityPerson EntityType = "Person"
	EntityOrg    EntityType = "Org"
	EntityTopic  EntityType = "Topic"
	EntityNone   EntityType = "none"
)

// Entity is the resolver's verdict on the search subject. The zero value
// (type none, empty name) means no entity was recognized.
type Entity struct {
	Name string     `json:"name"`
	Type EntityType `json:"type"`
	Hint string     `json:"hint"`
}

const entityPrompt = `Identify the main subject of the user's search request.
Reply with exactly one line of JSON, nothing else:
{"name": "canonical subject name", "type": "Person|Org|Topic|none", "hint": "2-4 word disambiguator"}
Use type "none" with an empty name when there is no clear subject.`

// resolveEntity makes one short LLM call to name the search subject. Any
// failure resolves to the zero entity; the query builder copes without it.
func (t *turn) resolveEntity(ctx context.Context, message string) Entity {
	zeroTemp := 0.0
	resp, err := t.chat(ctx, &llm.Request{
		Model: t.model,
		Messages: []models.ChatMessage{
			models.SystemMessage(entityPrompt),
			models.UserMessage(message),
		},
		MaxTokens:   120,
		Temperature: &zeroTemp,
	})
	if err != nil {
		t.logger.Warn("entity resolver failed", "error", err)
		return Entity{Type: EntityNone}
	}
	entity, ok := parseEntity(resp.Content)
	if !ok {
		t.logger.Warn("entity resolver returned garbage", "content", resp.Content)
		return Entity{Type: EntityNone}
	}
	return entity
}

func parseEntity(content string) (Entity, bool) {
	payload, ok := firstJSONObject(content)
	if !ok {
		return Entity{}, false
	}
	var e Entity
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Entity{}, false
	}
	e.Name = strings.TrimSpace(e.Name)
	e.Hint = strings.TrimSpace(e.Hint)
	switch strings.ToLower(strings.TrimSpace(string(e.Type))) {
	case "person":
		e.Type = EntityPerson
	case "org", "organization", "organisation", "company":
		e.Type = EntityOrg
	case "topic":
		e.Type = EntityTopic
	default:
		e.Type = EntityNone
	}
	if e.Type == EntityNone || e.Name == "" {
		return Entity{Type: EntityNone}, true
	}
	return e, true
}

// firstJSONObject cuts the first {...} span out of a model reply,
// tolerating code fences and prose around it.
func firstJSONObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}
