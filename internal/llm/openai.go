package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/sidekick/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIProvider implements Client on the OpenAI chat completions API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

var _ Client = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider. An empty API key is allowed
// for delayed configuration; Chat errors until one is set.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	p := &OpenAIProvider{
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}
	if p.defaultModel == "" {
		p.defaultModel = openai.GPT4oMini
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Second
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		p.client = openai.NewClientWithConfig(clientCfg)
	}
	return p
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Chat sends a non-streaming chat completion request with linear-backoff
// retries for transient failures.
func (p *OpenAIProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	if p.client == nil {
		return nil, errors.New("openai api key not configured")
	}
	if req == nil {
		return nil, errors.New("request is nil")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		chatReq.Stop = req.StopSequences
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		resp, lastErr = p.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !IsRetryable(lastErr) {
			return nil, wrapOpenAIError(model, lastErr)
		}
	}
	if lastErr != nil {
		return nil, wrapOpenAIError(model, lastErr)
	}

	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", model, errors.New("response carried no choices"))
	}
	choice := resp.Choices[0]

	out := &Response{
		Content:          choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCallRequest{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: args,
		})
	}
	out.FinishReason = normalizeFinishReason(string(choice.FinishReason), len(out.ToolCalls) > 0)
	out.IsComplete = out.FinishReason == FinishStop || out.FinishReason == FinishToolCalls
	return out, nil
}

func wrapOpenAIError(model string, err error) error {
	perr := NewProviderError("openai", model, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			perr.WithMessage(apiErr.Message)
		}
	}
	return perr
}

func convertOpenAIMessages(req *Request) []openai.ChatCompletionMessage {
	history := req.Messages
	if len(req.Tools) == 0 {
		history = NormalizeHistory(history)
	}

	result := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistantToolCalls:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args := tc.ArgumentsJSON
				if args == "" {
					args = "{}"
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(t.ParametersSchema, &schemaMap); err != nil || schemaMap == nil {
			// A bad schema on one tool must not break the whole call.
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
