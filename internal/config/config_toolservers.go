package config

import (
	"fmt"
	"strings"
	"time"
)

// Tool server transports.
const (
	TransportStdio     = "stdio"
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// ToolServerConfig describes one tool server connection.
type ToolServerConfig struct {
	// Name identifies the server in logs and audit events.
	Name string `yaml:"name"`

	// Transport is "stdio", "http", or "websocket".
	Transport string `yaml:"transport"`

	// Command and Args launch a stdio server.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	// URL is the endpoint for http and websocket servers.
	URL string `yaml:"url"`

	// Headers are sent on every http/websocket request.
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds a single tool invocation on this server.
	Timeout time.Duration `yaml:"timeout"`
}

// Validate checks the tool server entry for structural problems. Transport
// level validation (path traversal, shell metacharacters) happens again in
// the client before launching anything.
func (c ToolServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("tool server name is required")
	}
	switch c.Transport {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("tool server %q: stdio transport requires command", c.Name)
		}
	case TransportHTTP, TransportWebSocket:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("tool server %q: %s transport requires url", c.Name, c.Transport)
		}
	case "":
		return fmt.Errorf("tool server %q: transport is required", c.Name)
	default:
		return fmt.Errorf("tool server %q: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}
