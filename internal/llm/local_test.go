package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/pkg/models"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *LocalProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewLocalProvider(LocalConfig{BaseURL: server.URL}, nil)
}

func textCompletion(content, finishReason string) string {
	return `{"choices":[{"message":{"content":` + jsonString(content) + `},"finish_reason":"` + finishReason + `"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestLocalChat_Text(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		io.WriteString(w, textCompletion("hello there", "stop"))
	})

	resp, err := p.Chat(context.Background(), &Request{
		Messages: []models.ChatMessage{models.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("content = %q, want %q", resp.Content, "hello there")
	}
	if resp.FinishReason != FinishStop {
		t.Errorf("finish reason = %q, want stop", resp.FinishReason)
	}
	if !resp.IsComplete {
		t.Error("expected IsComplete")
	}
	if resp.PromptTokens != 10 || resp.CompletionTokens != 5 {
		t.Errorf("usage = %d/%d, want 10/5", resp.PromptTokens, resp.CompletionTokens)
	}
}

func TestLocalChat_ToolCalls(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"","tool_calls":[
			{"id":"call_1","function":{"name":"web_search","arguments":"{\"query\":\"go\"}"}},
			{"function":{"name":"get_weather","arguments":""}}
		]},"finish_reason":"tool_calls"}]}`)
	})

	resp, err := p.Chat(context.Background(), &Request{
		Messages: []models.ChatMessage{models.UserMessage("search go")},
		Tools:    []models.ToolDefinition{{Name: "web_search"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("finish reason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "web_search" {
		t.Errorf("first call = %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[0].ArgumentsJSON != `{"query":"go"}` {
		t.Errorf("arguments = %q", resp.ToolCalls[0].ArgumentsJSON)
	}
	// Missing id and empty arguments are filled.
	if resp.ToolCalls[1].ID == "" {
		t.Error("expected generated id for second call")
	}
	if resp.ToolCalls[1].ArgumentsJSON != "{}" {
		t.Errorf("empty arguments = %q, want {}", resp.ToolCalls[1].ArgumentsJSON)
	}
}

func TestLocalChat_RegexBugRetry(t *testing.T) {
	var requests []localChatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req localChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		requests = append(requests, req)
		if len(requests) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"message":"Failed to process regex: invalid stop"}}`)
			return
		}
		io.WriteString(w, textCompletion("recovered", "stop"))
	})

	penalty := 1.1
	resp, err := p.Chat(context.Background(), &Request{
		Messages:          []models.ChatMessage{models.UserMessage("hi")},
		StopSequences:     []string{"\n\n"},
		RepetitionPenalty: &penalty,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("content = %q, want recovered", resp.Content)
	}
	if len(requests) != 2 {
		t.Fatalf("got %d requests, want 2", len(requests))
	}
	if len(requests[0].Stop) == 0 || requests[0].RepetitionPenalty == nil {
		t.Error("first request should carry the sampling extras")
	}
	if len(requests[1].Stop) != 0 || requests[1].RepetitionPenalty != nil {
		t.Error("retry should strip stop sequences and repetition penalty")
	}
}

func TestLocalChat_RegexBugWithoutExtrasSurfaces(t *testing.T) {
	var calls int
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"Failed to process regex"}}`)
	})

	_, err := p.Chat(context.Background(), &Request{
		Messages: []models.ChatMessage{models.UserMessage("hi")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("got %d requests, want 1 (no extras to strip)", calls)
	}
	perr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if perr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", perr.Status)
	}
}

func TestLocalChat_OtherBadRequestNotRetried(t *testing.T) {
	var calls int
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"model is overloaded"}}`)
	})

	_, err := p.Chat(context.Background(), &Request{
		Messages:      []models.ChatMessage{models.UserMessage("hi")},
		StopSequences: []string{"###"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("got %d requests, want 1", calls)
	}
}

func TestLocalChat_NormalizesHistoryWithoutTools(t *testing.T) {
	var wire localChatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &wire); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		io.WriteString(w, textCompletion("ok", "stop"))
	})

	history := []models.ChatMessage{
		models.SystemMessage("you are helpful"),
		models.UserMessage("what is the weather?"),
		{Role: models.RoleAssistantToolCalls, ToolCalls: []models.ToolCallRequest{{ID: "c1", Name: "get_weather", ArgumentsJSON: "{}"}}},
		models.ToolMessage("c1", "72F and sunny"),
		models.AssistantMessage("It is 72F and sunny."),
		models.UserMessage("thanks"),
	}
	if _, err := p.Chat(context.Background(), &Request{Messages: history}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	for _, msg := range wire.Messages {
		if msg.Role == "tool" || len(msg.ToolCalls) > 0 {
			t.Errorf("tool scaffolding leaked into tool-free call: %+v", msg)
		}
	}
	roles := make([]string, len(wire.Messages))
	for i, msg := range wire.Messages {
		roles[i] = msg.Role
	}
	want := []string{"system", "user", "assistant", "user"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	// Tool output folds into the assistant text.
	if !strings.Contains(wire.Messages[2].Content, "72F and sunny") {
		t.Errorf("assistant content lost the tool output: %q", wire.Messages[2].Content)
	}
}

func TestLocalChat_KeepsScaffoldingWithTools(t *testing.T) {
	var wire localChatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &wire); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		io.WriteString(w, textCompletion("ok", "stop"))
	})

	history := []models.ChatMessage{
		models.UserMessage("check the weather"),
		{Role: models.RoleAssistantToolCalls, ToolCalls: []models.ToolCallRequest{{ID: "c1", Name: "get_weather", ArgumentsJSON: `{"city":"boise"}`}}},
		models.ToolMessage("c1", "68F"),
	}
	req := &Request{
		Messages: history,
		Tools:    []models.ToolDefinition{{Name: "get_weather", Description: "weather lookup"}},
	}
	if _, err := p.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(wire.Tools) != 1 || wire.Tools[0].Function.Name != "get_weather" {
		t.Fatalf("tools not forwarded: %+v", wire.Tools)
	}
	var sawToolCall, sawToolResult bool
	for _, msg := range wire.Messages {
		if len(msg.ToolCalls) > 0 {
			sawToolCall = true
		}
		if msg.Role == "tool" && msg.ToolCallID == "c1" {
			sawToolResult = true
		}
	}
	if !sawToolCall || !sawToolResult {
		t.Errorf("scaffolding dropped: call=%v result=%v", sawToolCall, sawToolResult)
	}
}

func TestLocalChat_ServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	})

	_, err := p.Chat(context.Background(), &Request{
		Messages: []models.ChatMessage{models.UserMessage("hi")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	perr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if perr.Reason != ReasonServerError {
		t.Errorf("reason = %q, want server_error", perr.Reason)
	}
	if !IsRetryable(err) {
		t.Error("server errors should be retryable")
	}
}
