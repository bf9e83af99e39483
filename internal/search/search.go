// Package search runs the lookup pipeline: classify the turn, resolve the
// subject, build a validated query, call web_search through the audited
// client, parse and cluster the sources, enforce the market-quote
// freshness contract, and summarize. Follow-up turns reuse the session's
// results instead of searching blind.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const (
	defaultMaxResults        = 8
	defaultMarketQuoteMaxAge = 12 * time.Hour

	// pageContentLimit caps how much navigated page text reaches the
	// summarizer.
	pageContentLimit = 6000

	summaryMaxTokens = 600
)

// Request is one search turn. Session is a snapshot; Run never mutates it.
type Request struct {
	Message string
	Model   string
	Session Session
}

// Result is the finished turn plus the updated session snapshot for the
// caller to store.
type Result struct {
	Text          string
	Mode          Mode
	Branch        Branch
	Sources       []SourceItem
	Records       []models.ToolCallRecord
	LLMRoundTrips int
	Session       Session

	SuppressSourceCardsUI  bool
	SuppressToolActivityUI bool
}

// Orchestrator drives search turns. Safe for concurrent use; per-turn
// state lives in Run.
type Orchestrator struct {
	llm     llm.Client
	tools   *tools.Client
	cfg     config.SearchConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New builds a search orchestrator.
func New(llmClient llm.Client, toolClient *tools.Client, cfg config.SearchConfig, metrics *observability.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		llm:     llmClient,
		tools:   toolClient,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "search"),
	}
}

// turn is the mutable state of one Run: the LLM round-trip counter and
// the tool-call records accumulate here.
type turn struct {
	llm      llm.Client
	tools    *tools.Client
	cfg      config.SearchConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
	model    string
	llmCalls int
	seq      int
	records  []models.ToolCallRecord
}

// Run executes one search turn.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	message := strings.TrimSpace(req.Message)
	now := time.Now()

	if text, ok := cannedAnswer(message); ok {
		return Result{
			Text:                   text,
			Mode:                   ModeWebFactFind,
			Session:                req.Session,
			SuppressSourceCardsUI:  true,
			SuppressToolActivityUI: true,
		}, nil
	}

	fresh := req.Session.FreshAt(now, o.cfg.SessionTTL)
	mode, branch := classifyMode(message, fresh)
	o.logger.Debug("search turn classified", "mode", mode, "branch", branch)

	t := &turn{
		llm:     o.llm,
		tools:   o.tools,
		cfg:     o.cfg,
		metrics: o.metrics,
		logger:  o.logger,
		model:   req.Model,
	}

	switch {
	case mode == ModeFollowUp && branch == BranchDeepDive:
		return t.deepDive(ctx, message, req.Session, now)
	case mode == ModeFollowUp && branch == BranchMoreSources:
		return t.moreSources(ctx, message, req.Session, now)
	default:
		return t.freshSearch(ctx, message, mode, req.Session, now)
	}
}

// freshSearch handles news-aggregate and fact-find turns.
func (t *turn) freshSearch(ctx context.Context, message string, mode Mode, session Session, now time.Time) (Result, error) {
	res := Result{Mode: mode, Session: session}
	if mode == ModeWebFactFind {
		res.SuppressSourceCardsUI = true
		res.SuppressToolActivityUI = true
	}

	entity := t.resolveEntity(ctx, message)
	p := t.buildPlan(ctx, mode, entity, message)

	outcome := t.search(ctx, p)
	res.Records = t.records
	res.LLMRoundTrips = t.llmCalls
	if !outcome.OK() {
		res.Text = outcome.Text
		return res, nil
	}

	body, parsed := parseSources(outcome.Text)
	sources := dedupeSources(parsed, nil, t.cfg.MaxResults)
	res.Sources = sources

	res.Session = Session{
		Mode:      mode,
		Query:     p.Query,
		Recency:   p.Recency,
		Results:   sources,
		Entity:    entity.Name,
		UpdatedAt: now,
	}
	if len(sources) > 0 {
		res.Session.PrimaryID = sources[0].ID
	}

	if text, stale := t.staleQuoteAnswer(message, sources, now); stale {
		res.Text = text
		return res, nil
	}

	text, err := t.summarize(ctx, mode, message, body, sources)
	res.LLMRoundTrips = t.llmCalls
	if err != nil {
		return res, fmt.Errorf("search summary: %w", err)
	}
	res.Text = text
	return res, nil
}

// moreSources re-runs the session's query and shows only sources the user
// has not seen yet.
func (t *turn) moreSources(ctx context.Context, message string, session Session, now time.Time) (Result, error) {
	res := Result{Mode: ModeFollowUp, Branch: BranchMoreSources, Session: session}

	p := plan{Query: session.Query, Recency: session.Recency}
	if p.Query == "" {
		p.Query = cleanQuerySubject(message)
	}
	if p.Recency == "" {
		p.Recency = RecencyAny
	}

	outcome := t.search(ctx, p)
	res.Records = t.records
	if !outcome.OK() {
		res.Text = outcome.Text
		return res, nil
	}

	body, parsed := parseSources(outcome.Text)
	sources := dedupeSources(parsed, session.seenIDs(), t.cfg.MaxResults)
	res.Sources = sources

	res.Session = session
	res.Session.Mode = ModeFollowUp
	res.Session.Results = append(append([]SourceItem(nil), session.Results...), sources...)
	res.Session.UpdatedAt = now
	if res.Session.PrimaryID == "" && len(sources) > 0 {
		res.Session.PrimaryID = sources[0].ID
	}

	summaryMode := session.Mode
	if summaryMode != ModeNewsAggregate {
		summaryMode = ModeWebFactFind
	}
	text, err := t.summarize(ctx, summaryMode, message, body, sources)
	res.LLMRoundTrips = t.llmCalls
	if err != nil {
		return res, fmt.Errorf("search summary: %w", err)
	}
	res.Text = text
	return res, nil
}

// deepDive opens the session's primary source and summarizes the page.
func (t *turn) deepDive(ctx context.Context, message string, session Session, now time.Time) (Result, error) {
	res := Result{Mode: ModeFollowUp, Branch: BranchDeepDive, Session: session}

	primary, ok := session.primarySource()
	if !ok {
		// classifyMode only picks follow-up on a fresh session, so this
		// is unreachable in practice; answer like a fact-find instead.
		return t.freshSearch(ctx, message, ModeWebFactFind, session, now)
	}

	args, _ := json.Marshal(map[string]string{"url": primary.URL})
	outcome := t.invoke(ctx, "browser_navigate", string(args))
	res.Records = t.records
	if !outcome.OK() {
		res.Text = outcome.Text
		return res, nil
	}

	content := outcome.Text
	if len(content) > pageContentLimit {
		content = content[:pageContentLimit]
	}

	text, err := t.summarizePage(ctx, message, primary, content)
	res.LLMRoundTrips = t.llmCalls
	if err != nil {
		return res, fmt.Errorf("deep dive summary: %w", err)
	}
	res.Text = text
	res.Sources = []SourceItem{primary}

	res.Session = session
	res.Session.Mode = ModeFollowUp
	res.Session.UpdatedAt = now
	return res, nil
}

// search invokes the web_search tool with the plan.
func (t *turn) search(ctx context.Context, p plan) tools.Outcome {
	maxResults := t.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	args, _ := json.Marshal(map[string]any{
		"query":       p.Query,
		"recency":     p.Recency,
		"max_results": maxResults,
	})
	return t.invoke(ctx, "web_search", string(args))
}

// invoke runs one tool call through the audited client and records it.
func (t *turn) invoke(ctx context.Context, name, argsJSON string) tools.Outcome {
	t.seq++
	start := time.Now()
	outcome := t.tools.Invoke(ctx, name, argsJSON)
	t.records = append(t.records, models.ToolCallRecord{
		ID:        fmt.Sprintf("search_%d", t.seq),
		Name:      name,
		Arguments: argsJSON,
		Result:    outcome.Text,
		Success:   outcome.OK(),
		StartedAt: start,
		Duration:  outcome.Duration,
	})
	return outcome
}

// chat makes one LLM call, recording metrics and counting completed round
// trips.
func (t *turn) chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := t.llm.Chat(ctx, req)
	if err != nil {
		if t.metrics != nil {
			t.metrics.RecordLLMRequest(t.llm.Name(), req.Model, "error", time.Since(start), 0, 0)
		}
		return nil, err
	}
	if t.metrics != nil {
		t.metrics.RecordLLMRequest(t.llm.Name(), req.Model, "ok", time.Since(start), resp.PromptTokens, resp.CompletionTokens)
	}
	t.llmCalls++
	return resp, nil
}

var marketQuotePattern = regexp.MustCompile(`(?i)\b(?:dow jones|nasdaq|s&p|ftse|nikkei|stock price|share price|stock quote|market quote|stock market|bitcoin price|btc price|ethereum price|exchange rate)\b`)

// staleQuoteAnswer enforces the freshness contract for market-quote
// questions: stale evidence gets a canned refusal instead of a summary.
// Zero sources skip the check; the summarizer reports the empty result.
func (t *turn) staleQuoteAnswer(message string, sources []SourceItem, now time.Time) (string, bool) {
	if !marketQuotePattern.MatchString(message) || len(sources) == 0 {
		return "", false
	}
	maxAge := t.cfg.MarketQuoteMaxAge
	if maxAge <= 0 {
		maxAge = defaultMarketQuoteMaxAge
	}
	if newest, ok := newestPublished(sources); ok && now.Sub(newest) <= maxAge {
		return "", false
	}
	t.logger.Warn("market quote sources too old", "max_age", maxAge)
	return fmt.Sprintf("The freshest source I found is more than %d hours old, so I cannot safely report a current market quote. Please check a live market feed for up-to-the-minute numbers.", int(maxAge.Hours())), true
}

const (
	newsSummaryPrompt = `You present news coverage. Summarize the stories below for the user:
lead with the most significant, one short paragraph per story, mention how
many outlets cover each. Plain text, no markdown headings. If there are no
stories, say that nothing recent was found.`

	factSummaryPrompt = `You answer the user's question from web search results. Be concise and
factual, rely only on the notes and sources given, and say so plainly when
they do not contain the answer.`

	pageSummaryPrompt = `You summarize a web page for the user. Cover the points relevant to their
question in a few sentences and name the page you are summarizing.`
)

// summarize makes the final LLM call over the search evidence.
func (t *turn) summarize(ctx context.Context, mode Mode, message, body string, sources []SourceItem) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", message)
	if body != "" {
		fmt.Fprintf(&b, "\nSearch notes:\n%s\n", body)
	}

	prompt := factSummaryPrompt
	if mode == ModeNewsAggregate {
		prompt = newsSummaryPrompt
		b.WriteString("\nStories:\n")
		for _, cluster := range clusterStories(sources) {
			fmt.Fprintf(&b, "- %s (%s", cluster.Representative.Title, cluster.Representative.Domain)
			if n := len(cluster.Members); n > 1 {
				fmt.Fprintf(&b, ", %d reports", n)
			}
			b.WriteString(")\n")
		}
	} else if len(sources) > 0 {
		b.WriteString("\nSources:\n")
		for _, item := range sources {
			fmt.Fprintf(&b, "- %s (%s)\n", item.Title, item.Domain)
		}
	}

	resp, err := t.chat(ctx, &llm.Request{
		Model: t.model,
		Messages: []models.ChatMessage{
			models.SystemMessage(prompt),
			models.UserMessage(b.String()),
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// summarizePage is the deep-dive variant: one page, one summary.
func (t *turn) summarizePage(ctx context.Context, message string, source SourceItem, content string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPage: %s (%s)\n\nContent:\n%s\n", message, source.Title, source.URL, content)

	resp, err := t.chat(ctx, &llm.Request{
		Model: t.model,
		Messages: []models.ChatMessage{
			models.SystemMessage(pageSummaryPrompt),
			models.UserMessage(b.String()),
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
