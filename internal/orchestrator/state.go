package orchestrator

import (
	"time"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// historyLimit bounds the per-session conversation ring carried between
// turns. Older messages fall off the front.
const historyLimit = 20

// DialogueState keeps the narrow continuity slots a later turn may lean
// on. It is single-writer: only the turn task mutates it.
type DialogueState struct {
	Topic        string
	LocationName string
	TimeScope    string
	UpdatedAt    time.Time
}

// setTopic records the current subject when non-empty.
func (d *DialogueState) setTopic(topic string, now time.Time) {
	if topic == "" {
		return
	}
	d.Topic = topic
	d.UpdatedAt = now
}

// setLocation records the place the user last asked about.
func (d *DialogueState) setLocation(place string, now time.Time) {
	if place == "" {
		return
	}
	d.LocationName = place
	d.UpdatedAt = now
}

// setTimeScope records the recency window of the last lookup.
func (d *DialogueState) setTimeScope(scope string, now time.Time) {
	if scope == "" {
		return
	}
	d.TimeScope = scope
	d.UpdatedAt = now
}

// appendHistory adds the turn's user and assistant messages to the ring,
// dropping the oldest entries past the limit.
func appendHistory(ring []models.ChatMessage, userMsg, assistantText string) []models.ChatMessage {
	ring = append(ring, models.UserMessage(userMsg))
	if assistantText != "" {
		ring = append(ring, models.AssistantMessage(assistantText))
	}
	if len(ring) > historyLimit {
		ring = append([]models.ChatMessage(nil), ring[len(ring)-historyLimit:]...)
	}
	return ring
}
