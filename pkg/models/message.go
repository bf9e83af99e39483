// Package models defines the value types shared across the turn pipeline:
// chat messages, tool definitions and calls, router output, and the final
// agent response.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"

	// RoleAssistantToolCalls marks an assistant message that carries
	// structured tool-call requests instead of user-facing text.
	RoleAssistantToolCalls Role = "assistant_tool_calls"
)

// ChatMessage is one entry in the conversation history. Tool messages
// reference the assistant tool-call they answer via ToolCallID.
type ChatMessage struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage builds a plain assistant-role message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// ToolMessage builds a tool-result message answering the given call.
func ToolMessage(toolCallID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// ToolDefinition describes a tool exposed by the tool server. Names are
// matched case-insensitively; the canonical form is snake_case.
type ToolDefinition struct {
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	ParametersSchema json.RawMessage `json:"parameters_schema,omitempty"`
}

// ToolCallRequest is an LLM-requested tool invocation.
type ToolCallRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// ToolCallRecord is a completed (or skipped) tool invocation kept in the
// per-turn record list.
type ToolCallRecord struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments_json"`
	Result    string        `json:"result"`
	Success   bool          `json:"success"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// IsBlank reports whether content is empty or whitespace-only.
func IsBlank(content string) bool {
	return strings.TrimSpace(content) == ""
}
