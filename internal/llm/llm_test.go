package llm

import (
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/pkg/models"
)

func TestNormalizeHistory(t *testing.T) {
	history := []models.ChatMessage{
		models.SystemMessage("base prompt"),
		models.UserMessage("look this up"),
		{Role: models.RoleAssistantToolCalls, Content: "", ToolCalls: []models.ToolCallRequest{{ID: "a", Name: "web_search"}}},
		models.ToolMessage("a", "result one"),
		models.ToolMessage("a", "result two"),
		models.AssistantMessage("summarized"),
		models.UserMessage("and then?"),
	}

	got := NormalizeHistory(history)

	wantRoles := []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant, models.RoleUser}
	if len(got) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d: %+v", len(got), len(wantRoles), got)
	}
	for i, role := range wantRoles {
		if got[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, got[i].Role, role)
		}
	}
	// Both tool results and the final assistant text merge into one message.
	assistant := got[2].Content
	for _, fragment := range []string{"result one", "result two", "summarized"} {
		if !strings.Contains(assistant, fragment) {
			t.Errorf("assistant content missing %q: %q", fragment, assistant)
		}
	}
}

func TestNormalizeHistory_DropsBlankMessages(t *testing.T) {
	history := []models.ChatMessage{
		models.UserMessage("hi"),
		{Role: models.RoleAssistantToolCalls, ToolCalls: []models.ToolCallRequest{{ID: "a", Name: "noop"}}},
		models.ToolMessage("a", "   "),
		models.AssistantMessage("hello"),
	}
	got := NormalizeHistory(history)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(got), got)
	}
	if got[1].Content != "hello" {
		t.Errorf("assistant content = %q, want %q", got[1].Content, "hello")
	}
}

func TestNormalizeFinishReason(t *testing.T) {
	tests := []struct {
		raw      string
		hasCalls bool
		want     FinishReason
	}{
		{"stop", false, FinishStop},
		{"stop", true, FinishToolCalls},
		{"end_turn", false, FinishStop},
		{"stop_sequence", false, FinishStop},
		{"tool_calls", false, FinishToolCalls},
		{"tool_use", false, FinishToolCalls},
		{"length", false, FinishLength},
		{"max_tokens", false, FinishLength},
		{"", false, FinishStop},
		{"", true, FinishToolCalls},
		{"weird_reason", false, FinishStop},
	}
	for _, tt := range tests {
		if got := normalizeFinishReason(tt.raw, tt.hasCalls); got != tt.want {
			t.Errorf("normalizeFinishReason(%q, %v) = %q, want %q", tt.raw, tt.hasCalls, got, tt.want)
		}
	}
}
