package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// regexBugMarker identifies a llama.cpp-family grammar failure triggered by
// certain stop sequences and sampling extras. The request succeeds when
// retried without them.
const regexBugMarker = "Failed to process regex"

// LocalConfig configures the local OpenAI-compatible provider.
type LocalConfig struct {
	// BaseURL points at the local server, e.g. http://127.0.0.1:8080.
	BaseURL string

	// APIKey is sent as a bearer token when the server requires one.
	APIKey string

	// DefaultModel names the loaded model. Many local servers ignore it.
	DefaultModel string

	// Timeout bounds a single chat call.
	Timeout time.Duration
}

// LocalProvider talks to a local OpenAI-compatible chat completions server
// (llama.cpp, LM Studio, Ollama in compatibility mode). It is the default
// provider and owns two backend quirks: the stop-sequence regex bug retry
// and history flattening for tool-free calls.
type LocalProvider struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	defaultModel string
	logger       *slog.Logger
}

var _ Client = (*LocalProvider)(nil)

// NewLocalProvider creates a local provider.
func NewLocalProvider(cfg LocalConfig, logger *slog.Logger) *LocalProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
		logger:       logger.With("component", "llm.local"),
	}
}

// Name returns the provider name.
func (p *LocalProvider) Name() string {
	return "local"
}

// Chat sends a non-streaming chat completion request.
func (p *LocalProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		model = "local"
	}

	payload := localChatRequest{
		Model:    model,
		Messages: buildLocalMessages(req),
		Stream:   false,
	}
	if len(req.Tools) > 0 {
		payload.Tools = buildLocalTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		payload.Temperature = req.Temperature
	}
	payload.Stop = req.StopSequences
	payload.RepetitionPenalty = req.RepetitionPenalty

	status, body, err := p.post(ctx, payload)
	if err != nil {
		return nil, NewProviderError("local", model, err)
	}

	// Some local backends choke on stop sequences or repetition penalty
	// with a grammar error. Retry once without the extras; anything else
	// surfaces as-is.
	if status == http.StatusBadRequest && bytes.Contains(body, []byte(regexBugMarker)) &&
		(len(payload.Stop) > 0 || payload.RepetitionPenalty != nil) {
		p.logger.Warn("local backend rejected sampling extras, retrying without them",
			"model", model, "stop_sequences", len(payload.Stop))
		payload.Stop = nil
		payload.RepetitionPenalty = nil
		status, body, err = p.post(ctx, payload)
		if err != nil {
			return nil, NewProviderError("local", model, err)
		}
	}

	if status >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(body))
		return nil, NewProviderError("local", model, fmt.Errorf("local backend status %d: %s", status, msg)).WithStatus(status)
	}

	return parseLocalResponse(body, model)
}

func (p *LocalProvider) post(ctx context.Context, payload localChatRequest) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func parseLocalResponse(body []byte, model string) (*Response, error) {
	var decoded localChatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, NewProviderError("local", model, fmt.Errorf("decode response: %w", err))
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, NewProviderError("local", model, errors.New(decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return nil, NewProviderError("local", model, errors.New("response carried no choices"))
	}

	choice := decoded.Choices[0]
	out := &Response{
		Content:          choice.Message.Content,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = uuid.NewString()
		}
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCallRequest{
			ID:            id,
			Name:          strings.TrimSpace(tc.Function.Name),
			ArgumentsJSON: args,
		})
	}
	out.FinishReason = normalizeFinishReason(choice.FinishReason, len(out.ToolCalls) > 0)
	out.IsComplete = out.FinishReason == FinishStop || out.FinishReason == FinishToolCalls
	return out, nil
}

// buildLocalMessages converts history to the wire format. Without tools the
// history is flattened first so the backend never sees tool roles it was
// not offered schemas for.
func buildLocalMessages(req *Request) []localChatMessage {
	history := req.Messages
	if len(req.Tools) == 0 {
		history = NormalizeHistory(history)
	}

	messages := make([]localChatMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistantToolCalls:
			wire := localChatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args := tc.ArgumentsJSON
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				wire.ToolCalls = append(wire.ToolCalls, localToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: localFunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, wire)
		case models.RoleTool:
			messages = append(messages, localChatMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		default:
			messages = append(messages, localChatMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}
	return messages
}

func buildLocalTools(tools []models.ToolDefinition) []localTool {
	out := make([]localTool, 0, len(tools))
	for _, t := range tools {
		schema := t.ParametersSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, localTool{
			Type: "function",
			Function: localFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

type localChatRequest struct {
	Model             string             `json:"model"`
	Messages          []localChatMessage `json:"messages"`
	Tools             []localTool        `json:"tools,omitempty"`
	MaxTokens         int                `json:"max_tokens,omitempty"`
	Temperature       *float64           `json:"temperature,omitempty"`
	Stop              []string           `json:"stop,omitempty"`
	RepetitionPenalty *float64           `json:"repetition_penalty,omitempty"`
	Stream            bool               `json:"stream"`
}

type localChatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []localToolCall `json:"tool_calls,omitempty"`
}

type localToolCall struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function localFunctionCall `json:"function"`
}

type localFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type localTool struct {
	Type     string           `json:"type"`
	Function localFunctionDef `json:"function"`
}

type localFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type localChatResponse struct {
	Choices []struct {
		Message struct {
			Content   string          `json:"content"`
			ToolCalls []localToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
