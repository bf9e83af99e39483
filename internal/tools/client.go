// Package tools wraps the raw tool servers behind an audited client: every
// call is canonicalized, checked against the permission gate, validated
// against the tool's parameter schema, and bracketed by audit events with
// secrets scrubbed from the logged summaries.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/audit"
	"github.com/haasonsaas/sidekick/internal/mcp"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Caller is the tool-server surface the audited client wraps.
type Caller interface {
	CallToolText(ctx context.Context, name string, args json.RawMessage) (string, error)
	ListTools(ctx context.Context) []mcp.ServerTool
}

var _ Caller = (*mcp.Manager)(nil)

const actorToolClient = "tool_client"

// OutcomeStatus classifies how a tool call ended.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeBlocked OutcomeStatus = "blocked"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the structured result of one audited tool call. Text always
// holds something presentable: the tool output on success, the blocked or
// failed message otherwise.
type Outcome struct {
	Text     string
	Status   OutcomeStatus
	TokenID  string
	Duration time.Duration
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Status == OutcomeOK
}

// Client is the audited tool client. It is the only path from the pipeline
// to a tool server; nothing below it re-checks permissions or writes tool
// audit events.
type Client struct {
	server   Caller
	gate     *Gate
	registry *Registry
	audit    audit.Sink
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu   sync.RWMutex
	defs map[string]models.ToolDefinition
}

// NewClient builds the audited client around a tool server.
func NewClient(server Caller, gate *Gate, registry *Registry, sink audit.Sink, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if gate == nil {
		gate = NewGate(GateConfig{MemoryEnabled: true}, registry, nil, logger)
	}
	return &Client{
		server:   server,
		gate:     gate,
		registry: registry,
		audit:    sink,
		metrics:  metrics,
		logger:   logger.With("component", "tools"),
		defs:     make(map[string]models.ToolDefinition),
	}
}

// Registry exposes the capability registry backing this client.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Call invokes a tool and returns the result text. Blocked and failed calls
// return their message with a nil error so the tool loop records them like
// any other result; the error is reserved for misuse of the client itself.
func (c *Client) Call(ctx context.Context, name, argsJSON string) (string, error) {
	return c.Invoke(ctx, name, argsJSON).Text, nil
}

// Invoke is Call with the structured outcome: status, grant token ID, and
// wall time. The loop and the memory provider use it to fill their records.
func (c *Client) Invoke(ctx context.Context, name, argsJSON string) Outcome {
	canonical := CanonicalName(name)
	start := time.Now()
	argsSummary := Summarize(argsJSON)

	c.emit(&audit.Event{
		Actor:  actorToolClient,
		Action: audit.ActionToolCallStart,
		Target: canonical,
		Result: audit.ResultPending,
		Details: map[string]any{
			"session_id":     observability.GetSessionID(ctx),
			"request_id":     observability.GetRequestID(ctx),
			"canonical_name": canonical,
			"args_summary":   argsSummary,
		},
	})

	decision := c.gate.Check(ctx, canonical, argsSummary)
	c.emitPermission(ctx, canonical, decision)

	if !decision.Granted() {
		dur := c.end(ctx, canonical, start, audit.ResultBlocked, "", decision.Reason, "")
		return Outcome{
			Text:     "Tool call blocked: " + decision.Reason,
			Status:   OutcomeBlocked,
			Duration: dur,
		}
	}

	if def, ok := c.definition(canonical); ok {
		if err := ValidateArgs(def, argsJSON); err != nil {
			dur := c.end(ctx, canonical, start, audit.ResultError, "", Scrub(err.Error()), decision.TokenID)
			return Outcome{
				Text:     "Tool execution failed: " + err.Error(),
				Status:   OutcomeFailed,
				TokenID:  decision.TokenID,
				Duration: dur,
			}
		}
	}

	var args json.RawMessage
	if strings.TrimSpace(argsJSON) != "" {
		args = json.RawMessage(argsJSON)
	}

	output, err := c.server.CallToolText(ctx, canonical, args)
	if err != nil {
		msg := failureMessage(err)
		dur := c.end(ctx, canonical, start, audit.ResultError, "", Scrub(msg), decision.TokenID)
		return Outcome{
			Text:     "Tool execution failed: " + msg,
			Status:   OutcomeFailed,
			TokenID:  decision.TokenID,
			Duration: dur,
		}
	}

	dur := c.end(ctx, canonical, start, audit.ResultOK, outputSummary(canonical, output), "", decision.TokenID)
	return Outcome{
		Text:     output,
		Status:   OutcomeOK,
		TokenID:  decision.TokenID,
		Duration: dur,
	}
}

// List fetches the tool definitions from every connected server with names
// canonicalized; the first server exposing a name wins. Definitions are
// cached for argument validation. List writes no audit events.
func (c *Client) List(ctx context.Context) []models.ToolDefinition {
	serverTools := c.server.ListTools(ctx)

	defs := make([]models.ToolDefinition, 0, len(serverTools))
	byName := make(map[string]models.ToolDefinition, len(serverTools))
	for _, st := range serverTools {
		if st.Tool == nil {
			continue
		}
		canonical := CanonicalName(st.Tool.Name)
		if canonical == "" {
			continue
		}
		if _, seen := byName[canonical]; seen {
			continue
		}
		def := models.ToolDefinition{
			Name:             canonical,
			Description:      st.Tool.Description,
			ParametersSchema: st.Tool.InputSchema,
		}
		byName[canonical] = def
		defs = append(defs, def)
	}

	c.mu.Lock()
	c.defs = byName
	c.mu.Unlock()

	return defs
}

func (c *Client) definition(canonical string) (models.ToolDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[canonical]
	return def, ok
}

func (c *Client) emit(event *audit.Event) {
	if c.audit != nil {
		c.audit.Log(event)
	}
}

func (c *Client) emitPermission(ctx context.Context, canonical string, d Decision) {
	result := audit.ResultOK
	if !d.Granted() {
		result = audit.ResultDenied
	}
	details := map[string]any{
		"session_id":     observability.GetSessionID(ctx),
		"request_id":     observability.GetRequestID(ctx),
		"canonical_name": canonical,
		"group":          d.Group,
		"mode":           d.Mode,
		"decision":       string(d.Action),
	}
	if d.Reason != "" {
		details["reason"] = d.Reason
	}
	c.emit(&audit.Event{
		Actor:             actorToolClient,
		Action:            audit.ActionPermissionDecision,
		Target:            canonical,
		Result:            result,
		Details:           details,
		PermissionTokenID: d.TokenID,
	})
}

// end writes the END event and records metrics, returning the wall time.
func (c *Client) end(ctx context.Context, canonical string, start time.Time, result audit.Result, outputSummary, errMsg, tokenID string) time.Duration {
	dur := time.Since(start)
	details := map[string]any{
		"session_id":     observability.GetSessionID(ctx),
		"request_id":     observability.GetRequestID(ctx),
		"canonical_name": canonical,
		"duration_ms":    dur.Milliseconds(),
	}
	if outputSummary != "" {
		details["output_summary"] = outputSummary
	}
	if errMsg != "" {
		details["error_message"] = errMsg
	}
	c.emit(&audit.Event{
		Actor:             actorToolClient,
		Action:            audit.ActionToolCallEnd,
		Target:            canonical,
		Result:            result,
		Details:           details,
		PermissionTokenID: tokenID,
	})
	if c.metrics != nil {
		c.metrics.RecordToolExecution(canonical, string(result), dur)
	}
	return dur
}

// outputSummary returns the log-safe rendering of a tool's output. Screen
// and file contents are reduced to a length-and-hash line; everything else
// is scrubbed and truncated.
func outputSummary(canonical, output string) string {
	if kind, ok := sensitiveOutputKinds[canonical]; ok {
		return SensitiveSummary(kind, output)
	}
	return Summarize(output)
}

// failureMessage extracts the message a user should see from a tool-server
// error.
func failureMessage(err error) string {
	var failure *mcp.ToolFailure
	if errors.As(err, &failure) {
		return failure.Message
	}
	return err.Error()
}
