// Package llm provides synchronous chat clients for the language models the
// pipeline talks to: a local OpenAI-compatible server, OpenAI, and Anthropic.
// All providers share one request/response shape so the router, the tool
// loop, and the search orchestrator never see provider specifics.
package llm

import (
	"context"
	"strings"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// FinishReason explains why the model stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Request is a single synchronous chat call.
type Request struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Messages is the full conversation history including the system
	// prompt. Providers translate roles to their wire format.
	Messages []models.ChatMessage

	// Tools declares the functions the model may request. When empty the
	// history is normalized to a plain system/user/assistant sequence
	// before sending.
	Tools []models.ToolDefinition

	// MaxTokens caps the completion length when positive.
	MaxTokens int

	// Temperature overrides the provider default when set.
	Temperature *float64

	// StopSequences terminate generation early. Honored where the backend
	// supports it; stripped on the local provider's regex-bug retry.
	StopSequences []string

	// RepetitionPenalty is a local-model sampling knob. Hosted providers
	// ignore it.
	RepetitionPenalty *float64
}

// Response is the model's reply to one Request.
type Response struct {
	// IsComplete reports whether generation ended naturally (stop or
	// tool_calls) rather than being truncated or failing mid-stream.
	IsComplete bool

	// Content is the assistant text, possibly empty when the model only
	// requested tools.
	Content string

	// ToolCalls lists the tool invocations the model requested this round.
	ToolCalls []models.ToolCallRequest

	// FinishReason is the normalized stop cause.
	FinishReason FinishReason

	// PromptTokens and CompletionTokens carry usage when the backend
	// reports it; zero otherwise.
	PromptTokens     int
	CompletionTokens int
}

// Client is a synchronous chat client. Implementations must be safe for
// concurrent use.
type Client interface {
	// Name identifies the provider for logging and metrics.
	Name() string

	// Chat sends the request and blocks until the model finishes.
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// HasToolCalls reports whether the model requested at least one tool.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// normalizeFinishReason maps backend finish strings onto the closed set.
func normalizeFinishReason(raw string, hasToolCalls bool) FinishReason {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stop", "end_turn", "stop_sequence":
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	case "tool_calls", "tool_use", "function_call":
		return FinishToolCalls
	case "length", "max_tokens":
		return FinishLength
	case "":
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return FinishStop
	}
}

// NormalizeHistory flattens tool-call scaffolding into a plain alternating
// system/user/assistant sequence. Backends that were not offered tools on
// the current call reject tool roles, so assistant tool-call markers keep
// only their visible text, tool results become assistant text, and
// consecutive same-role messages merge.
func NormalizeHistory(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))

	appendMerged := func(role models.Role, content string) {
		if models.IsBlank(content) {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = out[n-1].Content + "\n\n" + content
			return
		}
		out = append(out, models.ChatMessage{Role: role, Content: content})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			appendMerged(models.RoleSystem, msg.Content)
		case models.RoleUser:
			appendMerged(models.RoleUser, msg.Content)
		case models.RoleAssistant, models.RoleAssistantToolCalls:
			appendMerged(models.RoleAssistant, msg.Content)
		case models.RoleTool:
			appendMerged(models.RoleAssistant, msg.Content)
		}
	}

	return out
}
