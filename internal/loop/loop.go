// Package loop drives the bounded tool-calling conversation: one LLM round
// at a time, requested calls filtered against the exposed set, overlapping
// requests resolved by a fixed priority table, eligible calls executed in
// parallel through the audited tool client, and results appended to history
// in tool-call-id order so runs are reproducible.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Messages appended when a budget stops the loop. Both carry the word
// "maximum" so callers and tests can spot exhaustion in the final text.
const (
	maxRoundsMessage  = "I had to stop there: maximum tool rounds reached. Here's what I have so far."
	wallBudgetMessage = "I had to stop there: maximum time budget reached. Here's what I have so far."
)

// Per-call skip results recorded instead of tool output.
const (
	resultNotPermitted    = "tool_not_permitted"
	resultConflictSkipped = "tool_conflict_skipped: deterministic_priority"
)

// conflictPriority maps a canonical tool name to the tool that beats it
// when both are requested in the same round. Seeded with the one known
// overlap: the focused-window probe wins over the full screenshot.
var conflictPriority = map[string]string{
	"screen_capture": "get_active_window",
}

// Phases for Error classification.
const (
	PhaseLLM       = "llm"
	PhaseCancelled = "cancelled"
)

// Error is a loop failure with position information. The wrapped cause
// preserves errors.Is checks for context.Canceled and DeadlineExceeded.
type Error struct {
	Phase string
	Round int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool loop round %d (%s): %v", e.Round, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Request is one run of the loop.
type Request struct {
	// Model overrides the provider default when non-empty.
	Model string

	// History is the conversation so far, system prompt included.
	History []models.ChatMessage

	// Exposed is the policy-filtered tool set the model may see.
	Exposed []models.ToolDefinition
}

// Result carries the loop outcome. Messages is the full history including
// everything appended during the run; Records lists every requested call,
// executed or skipped.
type Result struct {
	Messages  []models.ChatMessage
	FinalText string
	Records   []models.ToolCallRecord
	Rounds    int
	Exhausted bool
}

// Executor runs tool loops. Safe for concurrent use; all per-run state
// lives in Run.
type Executor struct {
	llm     llm.Client
	tools   *tools.Client
	cfg     config.LoopConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New builds an executor.
func New(llmClient llm.Client, toolClient *tools.Client, cfg config.LoopConfig, metrics *observability.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		llm:     llmClient,
		tools:   toolClient,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "loop"),
	}
}

// Run executes rounds until the model stops requesting tools, a budget is
// exhausted, or the turn is cancelled. Cancellation returns the partial
// result alongside the error.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	maxRounds := e.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 10
	}
	wallBudget := e.cfg.WallBudget
	if wallBudget <= 0 {
		wallBudget = 60 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, wallBudget)
	defer cancel()

	exposed := make(map[string]struct{}, len(req.Exposed))
	for _, def := range req.Exposed {
		exposed[tools.CanonicalName(def.Name)] = struct{}{}
	}

	res := Result{Messages: append([]models.ChatMessage(nil), req.History...)}

	for res.Rounds < maxRounds {
		start := time.Now()
		resp, err := e.llm.Chat(runCtx, &llm.Request{
			Model:    req.Model,
			Messages: res.Messages,
			Tools:    req.Exposed,
		})
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordLLMRequest(e.llm.Name(), req.Model, "error", time.Since(start), 0, 0)
			}
			return e.interrupted(ctx, runCtx, res, err)
		}
		if e.metrics != nil {
			e.metrics.RecordLLMRequest(e.llm.Name(), req.Model, "ok", time.Since(start), resp.PromptTokens, resp.CompletionTokens)
		}
		res.Rounds++

		if !resp.HasToolCalls() {
			res.FinalText = strings.TrimSpace(resp.Content)
			res.Messages = append(res.Messages, models.AssistantMessage(res.FinalText))
			return res, nil
		}

		// The assistant tool-calls message precedes every result message.
		res.Messages = append(res.Messages, models.ChatMessage{
			Role:      models.RoleAssistantToolCalls,
			Content:   strings.TrimSpace(resp.Content),
			ToolCalls: resp.ToolCalls,
		})

		outcomes := e.executeRound(runCtx, resp.ToolCalls, exposed)
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].record.ID < outcomes[j].record.ID })
		for _, oc := range outcomes {
			res.Records = append(res.Records, oc.record)
			res.Messages = append(res.Messages, models.ToolMessage(oc.record.ID, oc.message))
		}

		if runCtx.Err() != nil {
			return e.interrupted(ctx, runCtx, res, runCtx.Err())
		}
	}

	res.Exhausted = true
	res.FinalText = maxRoundsMessage
	res.Messages = append(res.Messages, models.AssistantMessage(maxRoundsMessage))
	e.logger.Warn("tool loop exhausted", "rounds", res.Rounds)
	return res, nil
}

type roundOutcome struct {
	record  models.ToolCallRecord
	message string
}

// executeRound classifies every requested call and runs the eligible ones
// concurrently. The returned slice is positional; the caller sorts it.
func (e *Executor) executeRound(ctx context.Context, calls []models.ToolCallRequest, exposed map[string]struct{}) []roundOutcome {
	canonicals := make([]string, len(calls))
	requested := make(map[string]struct{}, len(calls))
	for i, call := range calls {
		canonicals[i] = tools.CanonicalName(call.Name)
		requested[canonicals[i]] = struct{}{}
	}

	outcomes := make([]roundOutcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		canonical := canonicals[i]
		record := models.ToolCallRecord{
			ID:        call.ID,
			Name:      canonical,
			Arguments: call.ArgumentsJSON,
			StartedAt: time.Now(),
		}

		if _, ok := exposed[canonical]; !ok {
			record.Result = resultNotPermitted
			outcomes[i] = roundOutcome{record: record, message: resultNotPermitted}
			e.logger.Warn("tool call not permitted", "tool", canonical)
			continue
		}

		if winner, ok := conflictPriority[canonical]; ok {
			_, winnerRequested := requested[winner]
			_, winnerExposed := exposed[winner]
			if winnerRequested && winnerExposed {
				record.Result = resultConflictSkipped
				outcomes[i] = roundOutcome{record: record, message: resultConflictSkipped}
				e.logger.Debug("tool call lost conflict", "tool", canonical, "winner", winner)
				continue
			}
		}

		wg.Add(1)
		go func(i int, call models.ToolCallRequest, canonical string, record models.ToolCallRecord) {
			defer wg.Done()
			callCtx := ctx
			if e.cfg.ToolTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, e.cfg.ToolTimeout)
				defer cancel()
			}
			outcome := e.tools.Invoke(callCtx, canonical, call.ArgumentsJSON)
			record.Result = outcome.Text
			record.Success = outcome.OK()
			record.Duration = outcome.Duration
			outcomes[i] = roundOutcome{record: record, message: outcome.Text}
		}(i, call, canonical, record)
	}
	wg.Wait()
	return outcomes
}

// interrupted classifies an abort. Parent cancellation or deadline surfaces
// as an error with the partial result; the loop's own wall budget expiring
// instead closes the turn with a final message.
func (e *Executor) interrupted(parent, run context.Context, res Result, cause error) (Result, error) {
	if parent.Err() != nil {
		return res, &Error{Phase: PhaseCancelled, Round: res.Rounds, Err: parent.Err()}
	}
	if run.Err() != nil && errors.Is(run.Err(), context.DeadlineExceeded) {
		res.Exhausted = true
		res.FinalText = wallBudgetMessage
		res.Messages = append(res.Messages, models.AssistantMessage(wallBudgetMessage))
		e.logger.Warn("tool loop wall budget exhausted", "rounds", res.Rounds)
		return res, nil
	}
	return res, &Error{Phase: PhaseLLM, Round: res.Rounds, Err: cause}
}
