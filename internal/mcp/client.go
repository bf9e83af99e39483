package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	clientName    = "sidekick"
	clientVersion = "1.0.0"

	// refreshTimeout bounds the background tool list refresh triggered by a
	// list_changed notification.
	refreshTimeout = 10 * time.Second
)

// Client is an MCP client connected to a single tool server. It performs the
// initialize handshake, caches the server's tool list, and invalidates that
// cache when the server announces a change.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []*Tool
	toolsValid bool
	serverInfo ServerInfo

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a client for the given server.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	return newClient(cfg, NewTransport(cfg), logger)
}

func newClient(cfg *ServerConfig, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:    cfg,
		transport: transport,
		logger:    logger.With("mcp_server", cfg.Name),
		done:      make(chan struct{}),
	}
}

// Connect establishes the transport, runs the initialize handshake, and
// primes the tool cache.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo: ClientInfo{
			Name:    clientName,
			Version: clientVersion,
		},
	}

	result, err := c.transport.Call(ctx, methodInitialize, params)
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()

	c.logger.Info("connected to tool server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, notifInitialized, nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.refreshTools(ctx); err != nil {
		c.logger.Warn("initial tool list failed", "error", err)
	}

	c.wg.Add(1)
	go c.watch()

	return nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.transport.Close()
		c.wg.Wait()
	})
	return err
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.config.Name
}

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig {
	return c.config
}

// ServerInfo returns the identity reported during initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Connected reports whether the underlying transport is up.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// Tools returns the cached tool list without touching the server.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotToolsLocked()
}

// ListTools returns the server's tools, refreshing the cache if a
// list_changed notification invalidated it. A failed refresh falls back to
// the previous snapshot when one exists.
func (c *Client) ListTools(ctx context.Context) ([]*Tool, error) {
	c.mu.RLock()
	if c.toolsValid {
		tools := c.snapshotToolsLocked()
		c.mu.RUnlock()
		return tools, nil
	}
	c.mu.RUnlock()

	if err := c.refreshTools(ctx); err != nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if len(c.tools) > 0 {
			c.logger.Warn("tool list refresh failed, using stale cache", "error", err)
			return c.snapshotToolsLocked(), nil
		}
		return nil, err
	}

	return c.Tools(), nil
}

// CallTool invokes a tool and returns the structured result. Protocol and
// transport failures surface as errors; a result with IsError set is
// returned as-is for the caller to interpret.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	params := CallToolParams{
		Name:      name,
		Arguments: args,
	}

	result, err := c.transport.Call(ctx, methodToolsCall, params)
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}
	return &callResult, nil
}

// CallToolText invokes a tool and flattens the result to text. A result the
// server marked as an error comes back as a *ToolFailure.
func (c *Client) CallToolText(ctx context.Context, name string, args json.RawMessage) (string, error) {
	result, err := c.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", &ToolFailure{Tool: name, Message: result.Text()}
	}
	return result.Text(), nil
}

// refreshTools fetches tools/list and replaces the cache.
func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, methodToolsList, nil)
	if err != nil {
		return err
	}

	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tool list: %w", err)
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.toolsValid = true
	c.mu.Unlock()

	c.logger.Debug("refreshed tools", "count", len(resp.Tools))
	return nil
}

// invalidateTools marks the cache stale; the next ListTools refetches.
func (c *Client) invalidateTools() {
	c.mu.Lock()
	c.toolsValid = false
	c.mu.Unlock()
}

// watch consumes server notifications until the client closes.
func (c *Client) watch() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case note, ok := <-c.transport.Notifications():
			if !ok {
				return
			}
			if note == nil {
				continue
			}

			switch note.Method {
			case notifToolsChanged:
				c.invalidateTools()
				ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
				if err := c.refreshTools(ctx); err != nil {
					c.logger.Warn("tool list refresh after change notification failed", "error", err)
				}
				cancel()
			default:
				c.logger.Debug("server notification", "method", note.Method)
			}
		}
	}
}

func (c *Client) snapshotToolsLocked() []*Tool {
	if len(c.tools) == 0 {
		return nil
	}
	out := make([]*Tool, len(c.tools))
	copy(out, c.tools)
	return out
}
