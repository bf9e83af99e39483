// Package memory pre-fetches the bounded context pack injected into the
// system prompt. Retrieval goes through the audited tool client with a
// hard deadline; every outcome, including timeouts and failures, comes
// back as typed provenance rather than an exception, so a slow memory
// backend can never fail a turn.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/sidekick/internal/audit"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/memory/embeddings"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const (
	retrieveTool  = "memory_retrieve"
	listFactsTool = "memory_list_facts"

	actorMemory = "memory_provider"

	defaultTimeout      = 2 * time.Second
	defaultGreetTimeout = 500 * time.Millisecond
)

// RetrievalMode distinguishes the snappy cold-greeting pre-fetch from a
// normal turn.
type RetrievalMode string

const (
	ModeNormal RetrievalMode = "normal"
	ModeGreet  RetrievalMode = "greet"
)

// Request is one pre-fetch.
type Request struct {
	UserMessage     string
	MemoryEnabled   bool
	IsColdGreeting  bool
	ActiveProfileID string

	// Timeout overrides the configured deadline when positive.
	Timeout time.Duration
}

// Provenance records how retrieval went. It is always populated, success
// or not.
type Provenance struct {
	SourceTool    string
	RetrievalMode RetrievalMode

	Success  bool
	TimedOut bool
	Skipped  bool

	Facts      int
	Events     int
	Chunks     int
	Nuggets    int
	HasProfile bool
	Summary    string
}

// ContextResult is the pre-fetch outcome. Err never causes the turn to
// fail; callers read Provenance and move on.
type ContextResult struct {
	PackText         string
	OnboardingNeeded bool
	Err              error
	Provenance       Provenance
}

// Provider fetches memory packs. Safe for concurrent use.
type Provider struct {
	tools    *tools.Client
	embedder embeddings.Client
	sink     audit.Sink
	cfg      config.MemoryConfig
	logger   *slog.Logger
}

// NewProvider builds a provider. embedder and sink may be nil.
func NewProvider(toolClient *tools.Client, embedder embeddings.Client, sink audit.Sink, cfg config.MemoryConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		tools:    toolClient,
		embedder: embedder,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With("component", "memory"),
	}
}

type retrieveArgs struct {
	Query          string    `json:"query"`
	Mode           string    `json:"mode"`
	ProfileID      string    `json:"profile_id,omitempty"`
	MaxFacts       int       `json:"max_facts,omitempty"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty"`
}

type retrievePayload struct {
	PackText         string `json:"pack_text"`
	Facts            int    `json:"facts"`
	Events           int    `json:"events"`
	Chunks           int    `json:"chunks"`
	Nuggets          int    `json:"nuggets"`
	HasProfile       bool   `json:"has_profile"`
	Summary          string `json:"summary"`
	OnboardingNeeded bool   `json:"onboarding_needed"`
}

// GetContext fetches the memory pack for a turn. Disabled memory returns
// a Skipped provenance without touching the tool client.
func (p *Provider) GetContext(ctx context.Context, req Request) ContextResult {
	mode := ModeNormal
	if req.IsColdGreeting {
		mode = ModeGreet
	}
	prov := Provenance{SourceTool: retrieveTool, RetrievalMode: mode}

	if !req.MemoryEnabled {
		prov.Skipped = true
		return ContextResult{Provenance: prov}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout(req))
	defer cancel()

	args := retrieveArgs{
		Query:     req.UserMessage,
		Mode:      string(mode),
		ProfileID: req.ActiveProfileID,
		MaxFacts:  p.cfg.MaxFacts,
	}
	if p.embedder != nil {
		args.QueryEmbedding = p.embed(runCtx, req.UserMessage)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ContextResult{Err: fmt.Errorf("encode retrieval args: %w", err), Provenance: prov}
	}

	outcome := p.tools.Invoke(runCtx, retrieveTool, string(raw))
	if !outcome.OK() {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			prov.TimedOut = true
			p.logger.Warn("memory retrieval timed out", "mode", mode)
			return ContextResult{Err: context.DeadlineExceeded, Provenance: prov}
		}
		return ContextResult{Err: errors.New(outcome.Text), Provenance: prov}
	}

	var payload retrievePayload
	if err := json.Unmarshal([]byte(outcome.Text), &payload); err != nil {
		return ContextResult{Err: fmt.Errorf("parse retrieval payload: %w", err), Provenance: prov}
	}

	prov.Success = true
	prov.Facts = payload.Facts
	prov.Events = payload.Events
	prov.Chunks = payload.Chunks
	prov.Nuggets = payload.Nuggets
	prov.HasProfile = payload.HasProfile
	prov.Summary = payload.Summary

	if !models.IsBlank(payload.PackText) {
		p.emitRetrieved(prov)
	}
	return ContextResult{
		PackText:         payload.PackText,
		OnboardingNeeded: payload.OnboardingNeeded,
		Provenance:       prov,
	}
}

// ListFacts fetches the stored facts for one profile, for the
// "what do you know about me" path.
func (p *Provider) ListFacts(ctx context.Context, profileID string) ([]string, error) {
	args, err := json.Marshal(map[string]string{"profile_id": profileID})
	if err != nil {
		return nil, fmt.Errorf("encode list args: %w", err)
	}
	outcome := p.tools.Invoke(ctx, listFactsTool, string(args))
	if !outcome.OK() {
		return nil, errors.New(outcome.Text)
	}
	var payload struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(outcome.Text), &payload); err != nil {
		return nil, fmt.Errorf("parse facts payload: %w", err)
	}
	return payload.Facts, nil
}

func (p *Provider) timeout(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if req.IsColdGreeting {
		if p.cfg.GreetTimeout > 0 {
			return p.cfg.GreetTimeout
		}
		return defaultGreetTimeout
	}
	if p.cfg.DefaultTimeout > 0 {
		return p.cfg.DefaultTimeout
	}
	return defaultTimeout
}

// embed computes the optional query vector. Failures degrade to a plain
// keyword retrieval, never to a turn error.
func (p *Provider) embed(ctx context.Context, text string) []float32 {
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		p.logger.Debug("query embedding failed", "provider", p.embedder.Name(), "error", err)
		return nil
	}
	return vec
}

func (p *Provider) emitRetrieved(prov Provenance) {
	if p.sink == nil {
		return
	}
	p.sink.Log(&audit.Event{
		Actor:  actorMemory,
		Action: audit.ActionMemoryRetrieved,
		Target: retrieveTool,
		Result: audit.ResultOK,
		Details: map[string]any{
			"mode":        string(prov.RetrievalMode),
			"facts":       prov.Facts,
			"events":      prov.Events,
			"chunks":      prov.Chunks,
			"nuggets":     prov.Nuggets,
			"has_profile": prov.HasProfile,
		},
	})
}
