package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	sseReconnectDelay = 5 * time.Second
	maxResponseBytes  = 8 << 20
)

// HTTPTransport speaks JSON-RPC over HTTP POST, with an optional SSE stream
// at <url>/sse for server notifications.
type HTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger

	client *http.Client
	// sseClient has no overall timeout; the event stream is long-lived and
	// is torn down through the loop context instead.
	sseClient *http.Client

	notifications chan *JSONRPCNotification

	loopCtx    context.Context
	loopCancel context.CancelFunc

	connected atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTP transport for the given server.
func NewHTTPTransport(cfg *ServerConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	return &HTTPTransport{
		config:        cfg,
		logger:        slog.Default().With("mcp_server", cfg.Name, "transport", "http"),
		client:        &http.Client{Timeout: timeout},
		sseClient:     &http.Client{},
		notifications: make(chan *JSONRPCNotification, notificationBuffer),
		loopCtx:       loopCtx,
		loopCancel:    loopCancel,
	}
}

// Connect marks the transport ready and starts the SSE listener. No request
// is sent here; the client's initialize call is the first traffic.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for http transport")
	}

	t.connected.Store(true)
	t.logger.Debug("http transport ready", "url", t.config.URL)

	t.wg.Add(1)
	go t.sseLoop()

	return nil
}

// Close stops the SSE listener.
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.loopCancel()
		t.wg.Wait()
		t.client.CloseIdleConnections()
		t.sseClient.CloseIdleConnections()
		close(t.notifications)
	})
	return nil
}

// Call sends a request and decodes the response from the same POST exchange.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  raw,
	}

	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Notify sends a notification. The response body, if any, is discarded.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
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
	_, err = t.post(ctx, notif)
	return err
}

// Notifications returns the server notification channel.
func (t *HTTPTransport) Notifications() <-chan *JSONRPCNotification {
	return t.notifications
}

// Connected reports whether the transport accepts calls.
func (t *HTTPTransport) Connected() bool {
	return t.connected.Load()
}

// post sends one JSON-RPC message to the server endpoint and returns the
// response body.
func (t *HTTPTransport) post(ctx context.Context, msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// sseLoop keeps a notification stream open, reconnecting until Close.
func (t *HTTPTransport) sseLoop() {
	defer t.wg.Done()

	sseURL := strings.TrimSuffix(t.config.URL, "/") + "/sse"

	for {
		select {
		case <-t.loopCtx.Done():
			return
		default:
		}

		t.streamSSE(sseURL)

		select {
		case <-t.loopCtx.Done():
			return
		case <-time.After(sseReconnectDelay):
		}
	}
}

// streamSSE reads one SSE connection until it drops.
func (t *HTTPTransport) streamSSE(sseURL string) {
	req, err := http.NewRequestWithContext(t.loopCtx, http.MethodGet, sseURL, nil)
	if err != nil {
		t.logger.Debug("failed to create SSE request", "error", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.sseClient.Do(req)
	if err != nil {
		t.logger.Debug("SSE connection failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("SSE returned non-200", "status", resp.StatusCode)
		return
	}

	t.logger.Debug("SSE connected", "url", sseURL)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		t.processEvent(strings.TrimPrefix(line, "data: "))
	}

	if err := scanner.Err(); err != nil && t.loopCtx.Err() == nil {
		t.logger.Debug("SSE scanner error", "error", err)
	}
}

// processEvent handles one SSE data payload.
func (t *HTTPTransport) processEvent(data string) {
	var msg inbound
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return
	}

	switch {
	case msg.isNotification():
		select {
		case t.notifications <- msg.toNotification():
		default:
			t.logger.Warn("notification channel full, dropping", "method", msg.Method)
		}
	case msg.isRequest():
		// Server-initiated requests are rejected over the POST channel.
		ctx, cancel := context.WithTimeout(t.loopCtx, defaultRequestTimeout)
		defer cancel()
		if _, err := t.post(ctx, methodNotFoundResponse(msg.ID, msg.Method)); err != nil {
			t.logger.Debug("failed to reject server request", "method", msg.Method, "error", err)
		}
	}
}
