// Package mcp implements a Model Context Protocol client. Sidekick's tool
// servers are MCP servers reached over stdio, HTTP, or websocket transports;
// the pipeline only uses the tool surface of the protocol (tools/list and
// tools/call plus the list_changed notification).
package mcp

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ProtocolVersion is the MCP protocol revision this client speaks.
const ProtocolVersion = "2024-11-05"

// TransportType specifies the MCP transport protocol.
type TransportType string

const (
	TransportStdio     TransportType = "stdio"
	TransportHTTP      TransportType = "http"
	TransportWebSocket TransportType = "websocket"
)

// ServerConfig holds connection settings for one MCP server.
type ServerConfig struct {
	Name      string        `json:"name"`
	Transport TransportType `json:"transport"`

	// Stdio transport options
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	WorkDir string            `json:"workdir,omitempty"`

	// HTTP and websocket transport options
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Timeout bounds a single request to the server.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate checks the server configuration for security issues before any
// process is launched or connection dialed.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("server name is required")
	}

	switch c.Transport {
	case TransportStdio:
		if err := c.validateStdio(); err != nil {
			return fmt.Errorf("stdio config for %s: %w", c.Name, err)
		}
	case TransportHTTP:
		if err := validateURLScheme(c.URL, "http://", "https://"); err != nil {
			return fmt.Errorf("http config for %s: %w", c.Name, err)
		}
	case TransportWebSocket:
		if err := validateURLScheme(c.URL, "ws://", "wss://"); err != nil {
			return fmt.Errorf("websocket config for %s: %w", c.Name, err)
		}
	case "":
		return fmt.Errorf("transport is required for server %s", c.Name)
	default:
		return fmt.Errorf("unknown transport %q for server %s", c.Transport, c.Name)
	}

	return nil
}

func (c *ServerConfig) validateStdio() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}

	if err := validatePath(c.Command, "command"); err != nil {
		return err
	}

	if c.WorkDir != "" {
		if err := validatePath(c.WorkDir, "workdir"); err != nil {
			return err
		}
	}

	for i, arg := range c.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains suspicious shell metacharacters: %q", i, arg)
		}
	}

	return nil
}

func validateURLScheme(rawURL string, schemes ...string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	for _, scheme := range schemes {
		if strings.HasPrefix(rawURL, scheme) {
			return nil
		}
	}
	return fmt.Errorf("URL must start with %s", strings.Join(schemes, " or "))
}

// validatePath checks a path for traversal attacks.
func validatePath(path, fieldName string) error {
	if path == "" {
		return nil
	}

	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("%s contains path traversal: %q", fieldName, path)
	}

	return nil
}

// containsShellMetachars checks for shell metacharacters that could indicate
// injection. Only the most dangerous patterns that suggest command chaining
// are flagged; spaces and quotes are common in legitimate args.
func containsShellMetachars(s string) bool {
	dangerousPatterns := []string{
		"$(", "${", // Command substitution
		"`",        // Backtick substitution
		"&&", "||", // Command chaining
		";",      // Command separator
		"|",      // Pipe
		">", "<", // Redirection
		"\n", "\r", // Newlines
	}
	for _, pattern := range dangerousPatterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// Tool describes a tool exposed by an MCP server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ClientInfo identifies this client during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the server, returned from initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities advertises what this client supports. Sidekick consumes
// tools only, so the object is intentionally empty.
type ClientCapabilities struct{}

// ToolsCapability reports server-side tool list behavior.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities reports what the server supports.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// ListToolsResult is the reply to tools/list.
type ListToolsResult struct {
	Tools []*Tool `json:"tools"`
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultContent is one content block in a tool call result.
type ToolResultContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolCallResult is the reply to tools/call.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// Text flattens the result content into a single string. Text blocks are
// joined with newlines; binary blocks are summarized rather than inlined.
func (r *ToolCallResult) Text() string {
	if r == nil {
		return ""
	}

	parts := make([]string, 0, len(r.Content))
	for _, content := range r.Content {
		switch {
		case content.Type == "text" || content.Type == "":
			if content.Text != "" {
				parts = append(parts, content.Text)
			}
		case content.Data != "":
			parts = append(parts, fmt.Sprintf("[%s content, %d bytes]", content.Type, len(content.Data)))
		default:
			parts = append(parts, fmt.Sprintf("[%s content]", content.Type))
		}
	}
	return strings.Join(parts, "\n")
}

// ToolFailure reports a tool that the server executed but which returned an
// error result.
type ToolFailure struct {
	Tool    string
	Message string
}

func (e *ToolFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s failed", e.Tool)
	}
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// JSON-RPC 2.0 message types.

// JSONRPCRequest is a request expecting a response.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a reply to a request, matched by ID.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCNotification is a one-way message with no response.
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError carries a protocol-level error.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCP method and notification names used by this client.
const (
	methodInitialize  = "initialize"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
	notifInitialized  = "notifications/initialized"
	notifToolsChanged = "notifications/tools/list_changed"
)
