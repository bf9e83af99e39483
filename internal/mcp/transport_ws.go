package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 45 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
	wsMaxPayloadBytes = 4 << 20
)

// WebSocketTransport speaks JSON-RPC over a single websocket connection.
// Unlike the HTTP transport it carries server notifications on the same
// connection, so no side channel is needed.
type WebSocketTransport struct {
	config *ServerConfig
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	notifications chan *JSONRPCNotification

	connected atomic.Bool
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport creates a websocket transport for the given server.
func NewWebSocketTransport(cfg *ServerConfig) *WebSocketTransport {
	return &WebSocketTransport{
		config:        cfg,
		logger:        slog.Default().With("mcp_server", cfg.Name, "transport", "websocket"),
		pending:       make(map[int64]chan *JSONRPCResponse),
		notifications: make(chan *JSONRPCNotification, notificationBuffer),
		stop:          make(chan struct{}),
	}
}

// Connect dials the server and starts the read and keepalive loops.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for websocket transport")
	}

	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsWriteWait}
	conn, resp, err := dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial %s: %w", t.config.URL, err)
	}
	t.conn = conn

	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	t.connected.Store(true)
	t.logger.Debug("websocket connected", "url", t.config.URL)

	t.wg.Add(2)
	go t.readPump()
	go t.pingLoop()

	return nil
}

// Close tears down the connection and fails any in-flight calls.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.stop)

		if t.conn != nil {
			deadline := time.Now().Add(wsWriteWait)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = t.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			t.conn.Close()
		}

		t.wg.Wait()
		t.failPending()
		close(t.notifications)
	})
	return nil
}

// Call sends a request and waits for the matching response.
func (t *WebSocketTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  raw,
	}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeJSON(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	select {
	case resp, ok := <-respChan:
		if !ok || resp == nil {
			return nil, fmt.Errorf("transport closed")
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stop:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify sends a notification.
func (t *WebSocketTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	raw, err := marshalParams(params)
	if err != nil {
		return err
	}

	notif := JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
	}
	if err := t.writeJSON(notif); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Notifications returns the server notification channel.
func (t *WebSocketTransport) Notifications() <-chan *JSONRPCNotification {
	return t.notifications
}

// Connected reports whether the connection is up.
func (t *WebSocketTransport) Connected() bool {
	return t.connected.Load()
}

// writeJSON serializes one message onto the connection. Gorilla permits a
// single writer at a time, so writes are serialized here.
func (t *WebSocketTransport) writeJSON(msg any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteJSON(msg)
}

// readPump reads messages until the connection drops.
func (t *WebSocketTransport) readPump() {
	defer t.wg.Done()
	defer t.connected.Store(false)
	defer t.failPending()

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stop:
			default:
				t.logger.Debug("websocket read closed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		t.processMessage(data)
	}
}

// processMessage classifies and dispatches one inbound message.
func (t *WebSocketTransport) processMessage(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Warn("discarding malformed message", "error", err)
		return
	}

	switch {
	case msg.isResponse():
		id, ok := msg.responseID()
		if !ok {
			t.logger.Warn("response with unparseable id")
			return
		}
		t.deliver(id, msg.toResponse())
	case msg.isNotification():
		select {
		case t.notifications <- msg.toNotification():
		default:
			t.logger.Warn("notification channel full, dropping", "method", msg.Method)
		}
	case msg.isRequest():
		if err := t.writeJSON(methodNotFoundResponse(msg.ID, msg.Method)); err != nil {
			t.logger.Warn("failed to reject server request", "method", msg.Method, "error", err)
		}
	}
}

// deliver hands a response to the waiting caller, if any.
func (t *WebSocketTransport) deliver(id int64, resp *JSONRPCResponse) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	if ch, ok := t.pending[id]; ok {
		ch <- resp
		delete(t.pending, id)
	}
}

// failPending wakes every in-flight call after the connection is gone.
func (t *WebSocketTransport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// pingLoop keeps the connection alive; the pong handler extends the read
// deadline.
func (t *WebSocketTransport) pingLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteWait)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
