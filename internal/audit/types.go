// Package audit provides the append-only JSON-Lines audit log for the turn
// pipeline: tool invocations, permission decisions, routing verdicts, and
// safety rewrites. Events serialize through a single writer; ReadTail
// recovers the most recent valid events for inspection.
package audit

import (
	"encoding/json"
	"time"
)

// EventVersion is stamped on every event so the line format can evolve.
const EventVersion = 1

// Action identifies what happened. The vocabulary is closed; downstream
// tooling greps for these literals.
type Action string

const (
	// Tool client actions.
	ActionToolCallStart Action = "MCP_TOOL_CALL_START"
	ActionToolCallEnd   Action = "MCP_TOOL_CALL_END"

	// Permission gate actions.
	ActionPermissionDecision Action = "PERMISSION_DECISION"

	// Pipeline actions.
	ActionRouterOutput    Action = "ROUTER_OUTPUT"
	ActionPolicyDecision  Action = "POLICY_DECISION"
	ActionMemoryRetrieved Action = "MEMORY_RETRIEVED"

	// Output contract actions.
	ActionRoleConfusionRewrite Action = "AGENT_ROLE_CONFUSION_REWRITE"
	ActionOffTopicCalcRewrite  Action = "AGENT_OFFTOPIC_CALC_REWRITE"
	ActionAbusiveUserBoundary  Action = "AGENT_ABUSIVE_USER_BOUNDARY"
	ActionSafetyOverride       Action = "AGENT_SAFETY_OVERRIDE"

	// Turn lifecycle actions.
	ActionTurnFailed Action = "AGENT_TURN_FAILED"
)

// Result is the outcome attached to an event.
type Result string

const (
	ResultPending Result = "pending"
	ResultOK      Result = "ok"
	ResultError   Result = "error"
	ResultDenied  Result = "denied"
	ResultBlocked Result = "blocked"
)

// Event is one audit record. Serialized as a single JSON object per line
// with snake_case field names; the schema is fixed and versioned.
type Event struct {
	TS                time.Time      `json:"ts"`
	EventVersion      int            `json:"event_version"`
	Actor             string         `json:"actor"`
	Action            Action         `json:"action"`
	Target            string         `json:"target,omitempty"`
	Result            Result         `json:"result"`
	Details           map[string]any `json:"details,omitempty"`
	PermissionTokenID string         `json:"permission_token_id,omitempty"`
}

// marshal renders the event as a JSONL line without the trailing newline.
func (e *Event) marshal() ([]byte, error) {
	if e.EventVersion == 0 {
		e.EventVersion = EventVersion
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	return json.Marshal(e)
}

// Sink accepts audit events. The file-backed Logger is the production
// implementation; Recorder keeps events in memory for tests.
type Sink interface {
	Log(event *Event)
}

// Config configures the audit logger.
type Config struct {
	// Enabled determines whether events are written at all.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the JSONL file location. Empty selects DefaultPath().
	Path string `yaml:"path" json:"path"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// FlushInterval is how often buffered events are forced to disk.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`

	// MaxDetailSize truncates oversized string detail values.
	MaxDetailSize int `yaml:"max_detail_size" json:"max_detail_size"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BufferSize:    1024,
		FlushInterval: 2 * time.Second,
		MaxDetailSize: 2048,
	}
}
