package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager holds the connections to every configured tool server and routes
// tool calls to the server that owns the tool.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
}

// ServerTool pairs a tool with the server that exposes it.
type ServerTool struct {
	Server string
	Tool   *Tool
}

// ServerStatus summarizes one configured server connection.
type ServerStatus struct {
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

// Connect validates the server configuration, dials it, and tracks the
// client. Validation runs here so no process launches and no connection
// dials for a config that fails the security checks.
func (m *Manager) Connect(ctx context.Context, cfg *ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	_, exists := m.clients[cfg.Name]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	client := NewClient(cfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Name, err)
	}

	m.mu.Lock()
	m.clients[cfg.Name] = client
	m.order = append(m.order, cfg.Name)
	m.mu.Unlock()

	return nil
}

// Disconnect closes one server connection.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[name]
	if !exists {
		return nil
	}

	err := client.Close()
	delete(m.clients, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	m.logger.Info("disconnected from tool server", "server", name)
	return err
}

// Close disconnects from all servers.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close tool server client",
				"server", name,
				"error", err)
		}
		delete(m.clients, name)
	}
	m.order = nil

	return nil
}

// Client returns the client for one server.
func (m *Manager) Client(name string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[name]
	return client, exists
}

// ListTools merges the tool lists of every connected server, sorted by
// server then tool name so repeated calls produce a stable ordering.
func (m *Manager) ListTools(ctx context.Context) []ServerTool {
	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.RUnlock()

	var merged []ServerTool
	for _, name := range names {
		client, ok := m.Client(name)
		if !ok {
			continue
		}

		tools, err := client.ListTools(ctx)
		if err != nil {
			m.logger.Warn("listing tools failed", "server", name, "error", err)
			continue
		}
		for _, tool := range tools {
			merged = append(merged, ServerTool{Server: name, Tool: tool})
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Server != merged[j].Server {
			return merged[i].Server < merged[j].Server
		}
		return merged[i].Tool.Name < merged[j].Tool.Name
	})
	return merged
}

// FindTool locates a tool by name across all servers, in connect order.
func (m *Manager) FindTool(name string) (string, *Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, serverName := range m.order {
		client, ok := m.clients[serverName]
		if !ok {
			continue
		}
		for _, tool := range client.Tools() {
			if tool.Name == name {
				return serverName, tool, true
			}
		}
	}
	return "", nil, false
}

// CallTool routes a tool invocation to the server that owns the tool.
func (m *Manager) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	serverName, _, found := m.FindTool(name)
	if !found {
		return nil, fmt.Errorf("tool %q not found on any connected server", name)
	}

	client, ok := m.Client(serverName)
	if !ok {
		return nil, fmt.Errorf("server %q not connected", serverName)
	}
	return client.CallTool(ctx, name, args)
}

// CallToolText routes a tool invocation and flattens the result to text.
func (m *Manager) CallToolText(ctx context.Context, name string, args json.RawMessage) (string, error) {
	serverName, _, found := m.FindTool(name)
	if !found {
		return "", fmt.Errorf("tool %q not found on any connected server", name)
	}

	client, ok := m.Client(serverName)
	if !ok {
		return "", fmt.Errorf("server %q not connected", serverName)
	}
	return client.CallToolText(ctx, name, args)
}

// Status reports every tracked server connection.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.order))
	for _, name := range m.order {
		client, ok := m.clients[name]
		if !ok {
			continue
		}
		statuses = append(statuses, ServerStatus{
			Name:      name,
			Connected: client.Connected(),
			Server:    client.ServerInfo(),
			Tools:     len(client.Tools()),
		})
	}
	return statuses
}
