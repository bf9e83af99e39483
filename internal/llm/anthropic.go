package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// AnthropicProvider implements Client on the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	configured   bool
	defaultModel string
	maxTokens    int
}

var _ Client = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	p := &AnthropicProvider{
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}
	if p.defaultModel == "" {
		p.defaultModel = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	if p.maxTokens <= 0 {
		p.maxTokens = 4096
	}
	if cfg.APIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		p.client = anthropic.NewClient(opts...)
		p.configured = true
	}
	return p
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Chat sends a non-streaming Messages request.
func (p *AnthropicProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	if !p.configured {
		return nil, errors.New("anthropic api key not configured")
	}
	if req == nil {
		return nil, errors.New("request is nil")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	messages, system := convertAnthropicMessages(req)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, NewProviderError("anthropic", model, err)
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, NewProviderError("anthropic", model, err)
	}
	return translateAnthropicMessage(msg, model)
}

func translateAnthropicMessage(msg *anthropic.Message, model string) (*Response, error) {
	if msg == nil {
		return nil, NewProviderError("anthropic", model, errors.New("response message is nil"))
	}
	out := &Response{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if out.Content != "" && block.Text != "" {
				out.Content += "\n"
			}
			out.Content += block.Text
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCallRequest{
				ID:            block.ID,
				Name:          block.Name,
				ArgumentsJSON: args,
			})
		}
	}
	out.FinishReason = normalizeFinishReason(string(msg.StopReason), len(out.ToolCalls) > 0)
	out.IsComplete = out.FinishReason == FinishStop || out.FinishReason == FinishToolCalls
	return out, nil
}

// convertAnthropicMessages splits the system prompt out (Anthropic carries
// it separately) and maps tool scaffolding onto content blocks.
func convertAnthropicMessages(req *Request) ([]anthropic.MessageParam, string) {
	history := req.Messages
	if len(req.Tools) == 0 {
		history = NormalizeHistory(history)
	}

	var system string
	result := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistant:
			if models.IsBlank(msg.Content) {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistantToolCalls:
			var blocks []anthropic.ContentBlockParamUnion
			if !models.IsBlank(msg.Content) {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &input); err != nil || input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}
		case models.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}
	return result, system
}

func convertAnthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := t.ParametersSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		var schemaParam anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schema, &schemaParam); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schemaParam, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		if t.Description != "" {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}
