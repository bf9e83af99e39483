// Package guardrails runs an optional structured pre-answer pipeline for
// decision-shaped questions: goal inference, option extraction, constraint
// synthesis, then a decision. Every stage must return schema-valid JSON; a
// single malformed stage abandons the whole path and the normal pipeline
// answers instead. The caller only ever sees Used=false on failure, never
// an error.
package guardrails

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const stageMaxTokens = 400

// Result is the guardrails verdict. Used is false whenever any stage
// failed, in which case Text and Rationale are empty. LLMCalls counts the
// stage calls that completed, abort or not, so the caller can account for
// round trips.
type Result struct {
	Text      string
	Rationale []string
	Used      bool
	LLMCalls  int
}

// Coordinator owns the staged pipeline.
type Coordinator struct {
	client llm.Client
	model  string
	mode   string
	logger *slog.Logger
}

// New builds a coordinator. A nil client disables the pipeline regardless
// of mode.
func New(client llm.Client, model string, cfg config.GuardrailsConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = config.GuardrailsAuto
	}
	return &Coordinator{
		client: client,
		model:  model,
		mode:   mode,
		logger: logger.With("component", "guardrails"),
	}
}

// autoTriggers are the decision-support cues that arm the pipeline in auto
// mode.
var autoTriggers = []string{
	"should i", "should we", "which one", "which of these", "help me decide",
	"help me choose", "pros and cons", "is it better to", "choose between",
	"what's the best option", "whats the best option", "trade-off",
	"tradeoff", "weigh the options",
}

// Enabled reports whether the pipeline runs for this message.
func (c *Coordinator) Enabled(message string) bool {
	if c.client == nil || c.mode == config.GuardrailsOff {
		return false
	}
	if c.mode == config.GuardrailsAlways {
		return true
	}
	low := strings.ToLower(message)
	for _, trigger := range autoTriggers {
		if strings.Contains(low, trigger) {
			return true
		}
	}
	return false
}

// Run executes the four stages in order. Any stage failure returns the
// zero Result so the normal pipeline takes over.
func (c *Coordinator) Run(ctx context.Context, message string) Result {
	if c.client == nil {
		return Result{}
	}
	var calls int

	var goal goalStage
	if err := c.runStage(ctx, "goal", goalPrompt, "Message: "+message, goalSchema, &goal, &calls); err != nil {
		c.logger.Warn("guardrails aborted", "stage", "goal", "error", err)
		return Result{LLMCalls: calls}
	}

	var opts optionsStage
	optsInput := fmt.Sprintf("Message: %s\nGoal: %s", message, goal.Goal)
	if err := c.runStage(ctx, "options", optionsPrompt, optsInput, optionsSchema, &opts, &calls); err != nil {
		c.logger.Warn("guardrails aborted", "stage", "options", "error", err)
		return Result{LLMCalls: calls}
	}

	var cons constraintsStage
	consInput := fmt.Sprintf("Message: %s\nGoal: %s\nEntities: %s\nOptions: %s",
		message, goal.Goal, strings.Join(opts.Entities, ", "), strings.Join(opts.Options, ", "))
	if err := c.runStage(ctx, "constraints", constraintsPrompt, consInput, constraintsSchema, &cons, &calls); err != nil {
		c.logger.Warn("guardrails aborted", "stage", "constraints", "error", err)
		return Result{LLMCalls: calls}
	}

	var dec decisionStage
	decInput := fmt.Sprintf("%s\nConstraints: %s", consInput, strings.Join(cons.Constraints, "; "))
	if err := c.runStage(ctx, "decision", decisionPrompt, decInput, decisionSchema, &dec, &calls); err != nil {
		c.logger.Warn("guardrails aborted", "stage", "decision", "error", err)
		return Result{LLMCalls: calls}
	}

	rationale := make([]string, 0, len(cons.Constraints)+2)
	rationale = append(rationale, "Goal: "+goal.Goal)
	for _, constraint := range cons.Constraints {
		rationale = append(rationale, "Constraint: "+constraint)
	}
	rationale = append(rationale, "Decision: "+dec.Decision)

	return Result{
		Text:      dec.Response,
		Rationale: scrubRationale(rationale),
		Used:      true,
		LLMCalls:  calls,
	}
}

// runStage makes one LLM call and insists on schema-valid JSON back. calls
// is incremented for every call that came back, valid or not.
func (c *Coordinator) runStage(ctx context.Context, name, system, user string, schema *jsonschema.Schema, out any, calls *int) error {
	zero := 0.0
	resp, err := c.client.Chat(ctx, &llm.Request{
		Model: c.model,
		Messages: []models.ChatMessage{
			models.SystemMessage(system),
			models.UserMessage(user),
		},
		MaxTokens:   stageMaxTokens,
		Temperature: &zero,
	})
	if err != nil {
		return fmt.Errorf("%s stage: %w", name, err)
	}
	*calls++
	raw, ok := extractJSONObject(resp.Content)
	if !ok {
		return fmt.Errorf("%s stage: no JSON object in reply", name)
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return fmt.Errorf("%s stage: decode: %w", name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%s stage: validate: %w", name, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%s stage: bind: %w", name, err)
	}
	return nil
}

func extractJSONObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

// rationaleDenyList keeps chain-of-thought vocabulary out of user-visible
// rationale. Offending lines are dropped whole.
var rationaleDenyList = []string{
	"analysis", "thought", "step-by-step", "step by step",
	"chain of thought", "reasoning:",
}

func scrubRationale(lines []string) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		low := strings.ToLower(line)
		clean := true
		for _, term := range rationaleDenyList {
			if strings.Contains(low, term) {
				clean = false
				break
			}
		}
		if clean {
			kept = append(kept, line)
		}
	}
	return kept
}

const goalPrompt = `You infer the single underlying goal behind a user message. Reply with one JSON object on one line: {"goal":"..."}. The goal is one short sentence in plain language. No other keys, no prose.`

const optionsPrompt = `You extract the entities and the candidate options from a decision-shaped message. Reply with one JSON object on one line: {"entities":["..."],"options":["..."]}. Entities are the things involved; options are the choices under consideration. Either list may be empty. No other keys, no prose.`

const constraintsPrompt = `You state the constraints that bound a decision: budget, time, compatibility, stated preferences. Reply with one JSON object on one line: {"constraints":["..."]}. Each constraint is one short sentence. The list may be empty. No other keys, no prose.`

const decisionPrompt = `You make the final call for a decision-shaped question. Reply with one JSON object on one line: {"decision":"...","response":"..."}. "decision" is the choice in one sentence. "response" is the full answer to show the user: friendly, concrete, a short paragraph. No other keys, no prose.`
