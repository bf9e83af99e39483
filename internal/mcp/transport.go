package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Transport moves JSON-RPC messages between the client and one MCP server.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Notifications returns the channel of server-initiated notifications.
	// The channel is closed when the transport shuts down.
	Notifications() <-chan *JSONRPCNotification

	// Connected reports whether the transport is currently usable.
	Connected() bool
}

// NewTransport creates a transport from the server configuration.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportHTTP:
		return NewHTTPTransport(cfg)
	case TransportWebSocket:
		return NewWebSocketTransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}

// notificationBuffer is the size of each transport's notification channel.
// Notifications are dropped when the buffer is full rather than blocking the
// read loop.
const notificationBuffer = 16

// marshalParams renders request params, keeping nil params absent.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// inbound is the shape probe for messages arriving from a server. JSON-RPC
// frames are distinguished by which fields are present: a response carries an
// ID and no method, a notification a method and no ID, and a server-initiated
// request both.
type inbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

func (m *inbound) isResponse() bool {
	return len(m.ID) > 0 && m.Method == ""
}

func (m *inbound) isNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

func (m *inbound) isRequest() bool {
	return m.Method != "" && len(m.ID) > 0
}

// responseID parses the ID of a response keyed by this client's numeric
// request counter.
func (m *inbound) responseID() (int64, bool) {
	var id int64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

func (m *inbound) toResponse() *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: m.JSONRPC,
		ID:      m.ID,
		Result:  m.Result,
		Error:   m.Error,
	}
}

func (m *inbound) toNotification() *JSONRPCNotification {
	return &JSONRPCNotification{
		JSONRPC: m.JSONRPC,
		Method:  m.Method,
		Params:  m.Params,
	}
}

// methodNotFoundResponse builds the rejection sent for server-initiated
// requests. Sidekick does not expose a sampling or roots surface, so every
// inbound request is answered with method-not-found to keep the protocol
// conversation well-formed.
func methodNotFoundResponse(id json.RawMessage, method string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method %q not supported by this client", method),
		},
	}
}
