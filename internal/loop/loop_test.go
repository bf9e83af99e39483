package loop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/sidekick/internal/audit"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/mcp"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// stubLLM replays one scripted response per round. The last response
// repeats when the script runs out.
type stubLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	delay     time.Duration
	requests  []*llm.Request
	calls     int
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := &llm.Request{
		Model:    req.Model,
		Messages: append([]models.ChatMessage(nil), req.Messages...),
		Tools:    append([]models.ToolDefinition(nil), req.Tools...),
	}
	s.requests = append(s.requests, snapshot)
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *stubLLM) rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubServer is a mutex-guarded in-memory tool server; loop rounds call it
// from multiple goroutines.
type stubServer struct {
	mu      sync.Mutex
	results map[string]string
	calls   []string
}

func (s *stubServer) CallToolText(_ context.Context, name string, _ json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.results[name], nil
}

func (s *stubServer) ListTools(context.Context) []mcp.ServerTool { return nil }

func (s *stubServer) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func allowAll() config.PermissionsConfig {
	groups := make(map[string]string, len(config.KnownGroups))
	for _, g := range config.KnownGroups {
		groups[g] = config.PermissionAlways
	}
	return config.PermissionsConfig{
		Groups:            groups,
		DeveloperOverride: config.OverrideNone,
		Grant:             config.GrantConfig{Secret: "test-grant-secret"},
	}
}

func newTestExecutor(model *stubLLM, server *stubServer, cfg config.LoopConfig) *Executor {
	registry := tools.DefaultRegistry()
	gate := tools.NewGate(tools.GateConfig{Permissions: allowAll(), MemoryEnabled: true}, registry, nil, nil)
	client := tools.NewClient(server, gate, registry, audit.NewRecorder(), nil, nil)
	return New(model, client, cfg, nil, nil)
}

func history() []models.ChatMessage {
	return []models.ChatMessage{
		models.SystemMessage("You are a helpful assistant."),
		models.UserMessage("do the thing"),
	}
}

func defs(names ...string) []models.ToolDefinition {
	out := make([]models.ToolDefinition, len(names))
	for i, n := range names {
		out[i] = models.ToolDefinition{Name: n}
	}
	return out
}

func toolCallResponse(content string, calls ...models.ToolCallRequest) *llm.Response {
	return &llm.Response{
		IsComplete:   true,
		Content:      content,
		ToolCalls:    calls,
		FinishReason: llm.FinishToolCalls,
	}
}

func finalResponse(content string) *llm.Response {
	return &llm.Response{IsComplete: true, Content: content, FinishReason: llm.FinishStop}
}

func TestRunNoToolCalls(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{finalResponse("All done.")}}
	e := newTestExecutor(model, &stubServer{}, config.LoopConfig{})

	res, err := e.Run(context.Background(), Request{History: history()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rounds != 1 || res.FinalText != "All done." || res.Exhausted {
		t.Fatalf("res = %+v", res)
	}
	if len(res.Records) != 0 {
		t.Errorf("records = %v, want none", res.Records)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.Role != models.RoleAssistant || last.Content != "All done." {
		t.Errorf("last message = %+v", last)
	}
}

func TestRunExecutesToolsAndFeedsResultsBack(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		toolCallResponse("", models.ToolCallRequest{ID: "call_1", Name: "web_search", ArgumentsJSON: `{"query":"weather"}`}),
		finalResponse("It will rain."),
	}}
	server := &stubServer{results: map[string]string{"web_search": "SEARCH RESULTS"}}
	e := newTestExecutor(model, server, config.LoopConfig{})

	res, err := e.Run(context.Background(), Request{History: history(), Exposed: defs("web_search")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rounds != 2 || res.FinalText != "It will rain." {
		t.Fatalf("res = %+v", res)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %+v", res.Records)
	}
	rec := res.Records[0]
	if rec.Name != "web_search" || !rec.Success || rec.Result != "SEARCH RESULTS" {
		t.Errorf("record = %+v", rec)
	}

	// Second round must have seen the scaffolding: assistant_tool_calls
	// message then the tool result.
	second := model.requests[1]
	n := len(second.Messages)
	if second.Messages[n-2].Role != models.RoleAssistantToolCalls {
		t.Errorf("message[n-2] = %+v", second.Messages[n-2])
	}
	toolMsg := second.Messages[n-1]
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "call_1" || toolMsg.Content != "SEARCH RESULTS" {
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestRunToolNotPermitted(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		toolCallResponse("", models.ToolCallRequest{ID: "call_1", Name: "system_exec", ArgumentsJSON: `{"command":"rm -rf /"}`}),
		finalResponse("I can't run that."),
	}}
	server := &stubServer{results: map[string]string{"system_exec": "should never happen"}}
	e := newTestExecutor(model, server, config.LoopConfig{})

	res, err := e.Run(context.Background(), Request{History: history(), Exposed: defs("web_search")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %+v", res.Records)
	}
	rec := res.Records[0]
	if rec.Result != "tool_not_permitted" || rec.Success {
		t.Errorf("record = %+v", rec)
	}
	if calls := server.called(); len(calls) != 0 {
		t.Errorf("server calls = %v, want none", calls)
	}
}

func TestRunConflictResolution(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		toolCallResponse("",
			models.ToolCallRequest{ID: "call_1", Name: "screen_capture", ArgumentsJSON: "{}"},
			models.ToolCallRequest{ID: "call_2", Name: "get_active_window", ArgumentsJSON: "{}"},
		),
		finalResponse("You're looking at your editor."),
	}}
	server := &stubServer{results: map[string]string{
		"screen_capture":    "FULL SCREEN",
		"get_active_window": "ACTIVE WINDOW",
	}}
	e := newTestExecutor(model, server, config.LoopConfig{})

	res, err := e.Run(context.Background(), Request{
		History: history(),
		Exposed: defs("screen_capture", "get_active_window"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %+v", res.Records)
	}
	loser, winner := res.Records[0], res.Records[1]
	if loser.Name != "screen_capture" || loser.Result != "tool_conflict_skipped: deterministic_priority" || loser.Success {
		t.Errorf("loser record = %+v", loser)
	}
	if winner.Name != "get_active_window" || !winner.Success || winner.Result != "ACTIVE WINDOW" {
		t.Errorf("winner record = %+v", winner)
	}
	if calls := server.called(); len(calls) != 1 || calls[0] != "get_active_window" {
		t.Errorf("server calls = %v, want only get_active_window", calls)
	}
}

func TestRunConflictLoserRunsWhenWinnerNotExposed(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		toolCallResponse("",
			models.ToolCallRequest{ID: "call_1", Name: "screen_capture", ArgumentsJSON: "{}"},
			models.ToolCallRequest{ID: "call_2", Name: "get_active_window", ArgumentsJSON: "{}"},
		),
		finalResponse("done"),
	}}
	server := &stubServer{results: map[string]string{"screen_capture": "FULL SCREEN"}}
	e := newTestExecutor(model, server, config.LoopConfig{})

	res, err := e.Run(context.Background(), Request{History: history(), Exposed: defs("screen_capture")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	capture, window := res.Records[0], res.Records[1]
	if capture.Name != "screen_capture" || !capture.Success || capture.Result != "FULL SCREEN" {
		t.Errorf("screen_capture record = %+v", capture)
	}
	if window.Result != "tool_not_permitted" {
		t.Errorf("get_active_window record = %+v", window)
	}
}

func TestRunResultsSortedByCallID(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		toolCallResponse("",
			models.ToolCallRequest{ID: "call_b", Name: "web_search", ArgumentsJSON: "{}"},
			models.ToolCallRequest{ID: "call_a", Name: "get_time", ArgumentsJSON: "{}"},
		),
		finalResponse("done"),
	}}
	server := &stubServer{results: map[string]string{
		"web_search": "RESULTS",
		"get_time":   "10:30",
	}}
	e := newTestExecutor(model, server, config.LoopConfig{})

	res, err := e.Run(context.Background(), Request{History: history(), Exposed: defs("web_search", "get_time")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Records[0].ID != "call_a" || res.Records[1].ID != "call_b" {
		t.Errorf("record order = %s, %s", res.Records[0].ID, res.Records[1].ID)
	}

	var toolIDs []string
	for _, msg := range res.Messages {
		if msg.Role == models.RoleTool {
			toolIDs = append(toolIDs, msg.ToolCallID)
		}
	}
	if len(toolIDs) != 2 || toolIDs[0] != "call_a" || toolIDs[1] != "call_b" {
		t.Errorf("tool message order = %v", toolIDs)
	}
}

func TestRunMaxRoundsExhausted(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		toolCallResponse("", models.ToolCallRequest{ID: "call_1", Name: "web_search", ArgumentsJSON: "{}"}),
	}}
	server := &stubServer{results: map[string]string{"web_search": "RESULTS"}}
	e := newTestExecutor(model, server, config.LoopConfig{MaxRounds: 2})

	res, err := e.Run(context.Background(), Request{History: history(), Exposed: defs("web_search")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Exhausted || res.Rounds != 2 {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(res.FinalText, "maximum tool rounds reached") {
		t.Errorf("final text = %q", res.FinalText)
	}
	if len(res.Records) != 2 {
		t.Errorf("records = %d, want 2", len(res.Records))
	}
	last := res.Messages[len(res.Messages)-1]
	if last.Role != models.RoleAssistant || !strings.Contains(last.Content, "maximum") {
		t.Errorf("last message = %+v", last)
	}
}

func TestRunCancellation(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{finalResponse("never seen")}}
	e := newTestExecutor(model, &stubServer{}, config.LoopConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, Request{History: history()})
	if err == nil {
		t.Fatal("Run succeeded after cancellation")
	}
	var loopErr *Error
	if !errors.As(err, &loopErr) || loopErr.Phase != PhaseCancelled {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err does not unwrap to context.Canceled: %v", err)
	}
}

func TestRunWallBudgetExhausted(t *testing.T) {
	model := &stubLLM{
		responses: []*llm.Response{finalResponse("too slow")},
		delay:     50 * time.Millisecond,
	}
	e := newTestExecutor(model, &stubServer{}, config.LoopConfig{WallBudget: 10 * time.Millisecond})

	res, err := e.Run(context.Background(), Request{History: history()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Exhausted {
		t.Fatal("Exhausted = false, want true")
	}
	if !strings.Contains(res.FinalText, "maximum time budget") {
		t.Errorf("final text = %q", res.FinalText)
	}
}

func TestRunLLMError(t *testing.T) {
	model := &stubLLM{err: errors.New("backend exploded")}
	e := newTestExecutor(model, &stubServer{}, config.LoopConfig{})

	_, err := e.Run(context.Background(), Request{History: history()})
	var loopErr *Error
	if !errors.As(err, &loopErr) || loopErr.Phase != PhaseLLM {
		t.Fatalf("err = %v", err)
	}
}

func TestRunRepeatedRoundsSeeGrowingHistory(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		toolCallResponse("", models.ToolCallRequest{ID: "call_1", Name: "get_time", ArgumentsJSON: "{}"}),
		toolCallResponse("", models.ToolCallRequest{ID: "call_2", Name: "get_time", ArgumentsJSON: "{}"}),
		finalResponse("done"),
	}}
	server := &stubServer{results: map[string]string{"get_time": "10:30"}}
	e := newTestExecutor(model, server, config.LoopConfig{})

	res, err := e.Run(context.Background(), Request{History: history(), Exposed: defs("get_time")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rounds != 3 || model.rounds() != 3 {
		t.Fatalf("rounds = %d / %d", res.Rounds, model.rounds())
	}
	if len(model.requests[0].Messages) >= len(model.requests[1].Messages) ||
		len(model.requests[1].Messages) >= len(model.requests[2].Messages) {
		t.Error("history did not grow between rounds")
	}
}
