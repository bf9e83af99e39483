package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// defaultRequestTimeout bounds a Call when the server config sets none.
const defaultRequestTimeout = 30 * time.Second

// StdioTransport runs the MCP server as a subprocess and exchanges
// newline-delimited JSON-RPC messages over its stdin/stdout.
type StdioTransport struct {
	config *ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
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

var _ Transport = (*StdioTransport)(nil)

// NewStdioTransport creates a stdio transport for the given server.
func NewStdioTransport(cfg *ServerConfig) *StdioTransport {
	return &StdioTransport{
		config:        cfg,
		logger:        slog.Default().With("mcp_server", cfg.Name, "transport", "stdio"),
		pending:       make(map[int64]chan *JSONRPCResponse),
		notifications: make(chan *JSONRPCNotification, notificationBuffer),
		stop:          make(chan struct{}),
	}
}

// Connect launches the subprocess and starts the read loops. The process
// outlives ctx; it is stopped by Close.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}

	t.process = exec.Command(t.config.Command, t.config.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.config.WorkDir != "" {
		t.process.Dir = t.config.WorkDir
	}

	stdin, err := t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	t.stdin = stdin

	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := t.process.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	t.connected.Store(true)
	t.logger.Info("started MCP server process",
		"command", t.config.Command,
		"pid", t.process.Process.Pid)

	t.wg.Add(2)
	go t.readLoop(stdout)
	go t.logStderr(stderr)

	return nil
}

// Close stops the subprocess and fails any in-flight calls.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.stop)

		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.process != nil && t.process.Process != nil {
			t.process.Process.Kill()
		}

		t.wg.Wait()
		if t.process != nil {
			// Reap the process; the error is expected after Kill.
			_ = t.process.Wait()
		}

		t.failPending()
		close(t.notifications)
	})
	return nil
}

// Call sends a request and waits for the matching response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
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

	if err := t.writeMessage(req); err != nil {
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
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
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
	if err := t.writeMessage(notif); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Notifications returns the server notification channel.
func (t *StdioTransport) Notifications() <-chan *JSONRPCNotification {
	return t.notifications
}

// Connected reports whether the subprocess is still attached.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

// writeMessage serializes one message to the server's stdin. Writes are
// serialized so concurrent calls cannot interleave frames.
func (t *StdioTransport) writeMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(append(data, '\n'))
	return err
}

// readLoop reads newline-delimited messages from the server's stdout until
// the process exits or the transport closes.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer t.wg.Done()
	defer t.connected.Store(false)
	defer t.failPending()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-t.stop:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.processMessage(line)
	}

	if err := scanner.Err(); err != nil {
		t.logger.Error("stdout scanner error", "error", err)
	}
}

// processMessage classifies and dispatches one inbound message.
func (t *StdioTransport) processMessage(data []byte) {
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
		if err := t.writeMessage(methodNotFoundResponse(msg.ID, msg.Method)); err != nil {
			t.logger.Warn("failed to reject server request", "method", msg.Method, "error", err)
		}
	}
}

// deliver hands a response to the waiting caller, if any.
func (t *StdioTransport) deliver(id int64, resp *JSONRPCResponse) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	if ch, ok := t.pending[id]; ok {
		ch <- resp
		delete(t.pending, id)
	}
}

// failPending wakes every in-flight call after the connection is gone.
func (t *StdioTransport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// logStderr forwards the server's stderr to the log at debug level.
func (t *StdioTransport) logStderr(stderr io.Reader) {
	defer t.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case <-t.stop:
			return
		default:
		}

		if line := scanner.Text(); line != "" {
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
