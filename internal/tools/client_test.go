package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/audit"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/mcp"
	"github.com/haasonsaas/sidekick/internal/observability"
)

// stubCaller is an in-memory tool server.
type stubCaller struct {
	tools   []mcp.ServerTool
	results map[string]string
	errs    map[string]error
	calls   []stubCall
}

type stubCall struct {
	name string
	args string
}

func (s *stubCaller) CallToolText(_ context.Context, name string, args json.RawMessage) (string, error) {
	s.calls = append(s.calls, stubCall{name: name, args: string(args)})
	if err, ok := s.errs[name]; ok {
		return "", err
	}
	return s.results[name], nil
}

func (s *stubCaller) ListTools(_ context.Context) []mcp.ServerTool {
	return s.tools
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

func newTestClient(server *stubCaller, perms config.PermissionsConfig) (*Client, *audit.Recorder) {
	rec := audit.NewRecorder()
	registry := DefaultRegistry()
	gate := NewGate(GateConfig{Permissions: perms, MemoryEnabled: true}, registry, nil, nil)
	client := NewClient(server, gate, registry, rec, nil, nil)
	return client, rec
}

func turnContext() context.Context {
	ctx := observability.AddSessionID(context.Background(), "sess-1")
	return observability.AddRequestID(ctx, "req-1")
}

func TestClientCallAuditTrail(t *testing.T) {
	server := &stubCaller{results: map[string]string{"web_search": "three results"}}
	client, rec := newTestClient(server, allowAll())

	out, err := client.Call(turnContext(), "WebSearch", `{"query":"go"}`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "three results" {
		t.Fatalf("output = %q", out)
	}

	if len(server.calls) != 1 || server.calls[0].name != "web_search" {
		t.Fatalf("server calls = %+v, want canonical web_search", server.calls)
	}

	starts := rec.ByAction(audit.ActionToolCallStart)
	if len(starts) != 1 {
		t.Fatalf("START events = %d, want 1", len(starts))
	}
	start := starts[0]
	if start.Result != audit.ResultPending || start.Target != "web_search" {
		t.Errorf("START = %s/%s", start.Result, start.Target)
	}
	if start.Details["session_id"] != "sess-1" || start.Details["request_id"] != "req-1" {
		t.Errorf("START ids = %v/%v", start.Details["session_id"], start.Details["request_id"])
	}
	if start.Details["canonical_name"] != "web_search" {
		t.Errorf("canonical_name = %v", start.Details["canonical_name"])
	}
	if s, _ := start.Details["args_summary"].(string); !strings.Contains(s, "query") {
		t.Errorf("args_summary = %q", s)
	}

	perms := rec.ByAction(audit.ActionPermissionDecision)
	if len(perms) != 1 || perms[0].Result != audit.ResultOK {
		t.Fatalf("PERMISSION_DECISION = %+v", perms)
	}
	if perms[0].PermissionTokenID == "" {
		t.Error("granted decision should carry a token id")
	}

	ends := rec.ByAction(audit.ActionToolCallEnd)
	if len(ends) != 1 {
		t.Fatalf("END events = %d, want 1", len(ends))
	}
	end := ends[0]
	if end.Result != audit.ResultOK {
		t.Errorf("END result = %s", end.Result)
	}
	if end.Details["request_id"] != "req-1" {
		t.Errorf("END request_id = %v, want to match START", end.Details["request_id"])
	}
	if _, ok := end.Details["duration_ms"]; !ok {
		t.Error("END missing duration_ms")
	}
	if end.Details["output_summary"] != "three results" {
		t.Errorf("output_summary = %v", end.Details["output_summary"])
	}
	if end.PermissionTokenID != perms[0].PermissionTokenID {
		t.Error("END token id should match the permission decision")
	}
}

func TestClientCallBlocked(t *testing.T) {
	server := &stubCaller{results: map[string]string{"screen_capture": "pixels"}}
	perms := allowAll()
	perms.Groups[config.GroupScreen] = config.PermissionOff
	client, rec := newTestClient(server, perms)

	outcome := client.Invoke(turnContext(), "ScreenCapture", "")
	if outcome.Status != OutcomeBlocked {
		t.Fatalf("status = %s, want blocked", outcome.Status)
	}
	if !strings.HasPrefix(outcome.Text, "Tool call blocked: ") {
		t.Fatalf("text = %q", outcome.Text)
	}
	if len(server.calls) != 0 {
		t.Fatal("blocked call must not reach the server")
	}

	ends := rec.ByAction(audit.ActionToolCallEnd)
	if len(ends) != 1 || ends[0].Result != audit.ResultBlocked {
		t.Fatalf("END = %+v", ends)
	}
	if msg, _ := ends[0].Details["error_message"].(string); !strings.Contains(msg, "screen") {
		t.Errorf("error_message = %q", msg)
	}
	decisions := rec.ByAction(audit.ActionPermissionDecision)
	if len(decisions) != 1 || decisions[0].Result != audit.ResultDenied {
		t.Fatalf("PERMISSION_DECISION = %+v", decisions)
	}

	// The string form keeps the same contract with a nil error.
	text, err := client.Call(turnContext(), "ScreenCapture", "")
	if err != nil || !strings.HasPrefix(text, "Tool call blocked: ") {
		t.Errorf("Call = (%q, %v)", text, err)
	}
}

func TestClientCallServerFailure(t *testing.T) {
	server := &stubCaller{errs: map[string]error{
		"web_search": &mcp.ToolFailure{Tool: "web_search", Message: "socket timeout"},
	}}
	client, rec := newTestClient(server, allowAll())

	outcome := client.Invoke(turnContext(), "web_search", `{"query":"go"}`)
	if outcome.Status != OutcomeFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if outcome.Text != "Tool execution failed: socket timeout" {
		t.Fatalf("text = %q", outcome.Text)
	}

	ends := rec.ByAction(audit.ActionToolCallEnd)
	if len(ends) != 1 || ends[0].Result != audit.ResultError {
		t.Fatalf("END = %+v", ends)
	}
	if ends[0].Details["error_message"] != "socket timeout" {
		t.Errorf("error_message = %v", ends[0].Details["error_message"])
	}
}

func TestClientSensitiveOutputHashedInAudit(t *testing.T) {
	raw := "screen pixels: user's bank balance $1,234"
	server := &stubCaller{results: map[string]string{"screen_capture": raw}}
	client, rec := newTestClient(server, allowAll())

	outcome := client.Invoke(turnContext(), "screen_capture", "")
	if outcome.Text != raw {
		t.Fatalf("caller must receive the full output, got %q", outcome.Text)
	}

	end := rec.ByAction(audit.ActionToolCallEnd)[0]
	summary, _ := end.Details["output_summary"].(string)
	if summary != SensitiveSummary("screen", raw) {
		t.Errorf("output_summary = %q", summary)
	}
	if strings.Contains(summary, "bank balance") {
		t.Error("raw screen contents leaked into the audit log")
	}
}

func TestClientSecretsScrubbedFromAudit(t *testing.T) {
	raw := `{"status":"ok","api_key":"sk-live-1234567890"}`
	server := &stubCaller{results: map[string]string{"status_check_url": raw}}
	client, rec := newTestClient(server, allowAll())

	outcome := client.Invoke(turnContext(), "status_check_url", `{"url":"https://example.com"}`)
	if outcome.Text != raw {
		t.Fatalf("caller must receive the full output, got %q", outcome.Text)
	}

	end := rec.ByAction(audit.ActionToolCallEnd)[0]
	summary, _ := end.Details["output_summary"].(string)
	if strings.Contains(summary, "sk-live") {
		t.Errorf("secret leaked into output_summary: %q", summary)
	}
	if !strings.Contains(summary, "[REDACTED]") {
		t.Errorf("output_summary = %q", summary)
	}
}

func TestClientValidatesArguments(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["query"],
		"properties": {"query": {"type": "string"}},
		"additionalProperties": false
	}`)
	server := &stubCaller{
		tools: []mcp.ServerTool{
			{Server: "web", Tool: &mcp.Tool{Name: "WebSearch", InputSchema: schema}},
		},
		results: map[string]string{"web_search": "results"},
	}
	client, rec := newTestClient(server, allowAll())

	if defs := client.List(context.Background()); len(defs) != 1 || defs[0].Name != "web_search" {
		t.Fatalf("List = %+v", defs)
	}

	bad := client.Invoke(turnContext(), "web_search", `{"q": 1}`)
	if bad.Status != OutcomeFailed {
		t.Fatalf("status = %s, want failed", bad.Status)
	}
	if !strings.HasPrefix(bad.Text, "Tool execution failed: ") {
		t.Fatalf("text = %q", bad.Text)
	}
	if len(server.calls) != 0 {
		t.Fatal("invalid arguments must not reach the server")
	}
	if ends := rec.ByAction(audit.ActionToolCallEnd); len(ends) != 1 || ends[0].Result != audit.ResultError {
		t.Fatalf("END = %+v", ends)
	}

	good := client.Invoke(turnContext(), "web_search", `{"query":"go"}`)
	if good.Status != OutcomeOK || good.Text != "results" {
		t.Fatalf("outcome = %+v", good)
	}
}

func TestClientListCanonicalizesAndDedupes(t *testing.T) {
	server := &stubCaller{
		tools: []mcp.ServerTool{
			{Server: "a", Tool: &mcp.Tool{Name: "WebSearch", Description: "first"}},
			{Server: "b", Tool: &mcp.Tool{Name: "web_search", Description: "duplicate"}},
			{Server: "a", Tool: &mcp.Tool{Name: "ScreenCapture"}},
		},
	}
	client, rec := newTestClient(server, allowAll())

	defs := client.List(context.Background())
	if len(defs) != 2 {
		t.Fatalf("List = %+v", defs)
	}
	if defs[0].Name != "web_search" || defs[0].Description != "first" {
		t.Errorf("defs[0] = %+v, want first server to win", defs[0])
	}
	if defs[1].Name != "screen_capture" {
		t.Errorf("defs[1] = %+v", defs[1])
	}

	if events := rec.Events(); len(events) != 0 {
		t.Errorf("List wrote %d audit events, want none", len(events))
	}
}
