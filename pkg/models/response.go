package models

// AgentResponse is the final result of processing one user turn.
type AgentResponse struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`

	ToolCallsMade []ToolCallRecord `json:"tool_calls_made,omitempty"`
	LLMRoundTrips int              `json:"llm_round_trips"`

	GuardrailsUsed      bool     `json:"guardrails_used,omitempty"`
	GuardrailsRationale []string `json:"guardrails_rationale,omitempty"`

	// UI hints. Deterministic answers and fact-finding searches suppress
	// the source cards and the tool-activity indicator.
	SuppressSourceCardsUI  bool `json:"suppress_source_cards_ui"`
	SuppressToolActivityUI bool `json:"suppress_tool_activity_ui"`
}
