package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting pipeline metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn throughput and latency by resolved intent
//   - Which router layer resolved each classification
//   - LLM request performance and token consumption
//   - Tool execution patterns and latencies
//   - Deterministic utility matches and redactions
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordTurn("chat_only", "ok", time.Since(start))
type Metrics struct {
	// TurnCounter tracks processed turns.
	// Labels: intent, status (ok|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: intent
	TurnDuration *prometheus.HistogramVec

	// RouterLayer counts classifications by the layer that resolved them.
	// Labels: layer (prefix|utility|heuristic|llm|fallback)
	RouterLayer *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (local|openai|anthropic), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (ok|error|denied|blocked)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// UtilityMatches counts deterministic utility answers.
	// Labels: category (unit_conversion|arithmetic|constants|...)
	UtilityMatches *prometheus.CounterVec

	// RedactionCounter counts redactions applied to audited tool traffic.
	// Labels: kind (secret_key|jwt|high_entropy|oversize)
	RedactionCounter *prometheus.CounterVec

	// LoopRounds measures tool loop rounds consumed per turn.
	// Labels: intent
	LoopRounds *prometheus.HistogramVec

	// SearchStageDuration measures search pipeline stage latency.
	// Labels: stage (mode|entity|query|execute|cluster|compose)
	SearchStageDuration *prometheus.HistogramVec

	// ActiveSearchSessions is a gauge tracking live search sessions.
	ActiveSearchSessions prometheus.Gauge

	// ErrorCounter tracks errors by type and component.
	// Labels: component (router|loop|search|memory|tools), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry. This should be called once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates all pipeline metrics on a specific
// registerer. Tests pass a fresh registry to avoid duplicate registration.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_turns_total",
				Help: "Total number of processed turns by intent and status",
			},
			[]string{"intent", "status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidekick_turn_duration_seconds",
				Help:    "End-to-end turn processing duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"intent"},
		),

		RouterLayer: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_router_layer_total",
				Help: "Intent classifications by resolving router layer",
			},
			[]string{"layer"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidekick_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidekick_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		UtilityMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_utility_matches_total",
				Help: "Deterministic utility answers by category",
			},
			[]string{"category"},
		),

		RedactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_redactions_total",
				Help: "Redactions applied to audited tool traffic by kind",
			},
			[]string{"kind"},
		),

		LoopRounds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidekick_loop_rounds",
				Help:    "Tool loop rounds consumed per turn",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
			[]string{"intent"},
		),

		SearchStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidekick_search_stage_duration_seconds",
				Help:    "Duration of search pipeline stages in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),

		ActiveSearchSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidekick_active_search_sessions",
				Help: "Current number of live search sessions",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordTurn records metrics for a completed turn.
func (m *Metrics) RecordTurn(intent, status string, duration time.Duration) {
	m.TurnCounter.WithLabelValues(intent, status).Inc()
	m.TurnDuration.WithLabelValues(intent).Observe(duration.Seconds())
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("openai", "gpt-4o-mini", "success", time.Since(start), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, duration time.Duration) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
