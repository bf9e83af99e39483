// Package main provides the CLI entry point for the Sidekick local assistant.
//
// handlers.go contains the RunE handler functions for all CLI commands and
// the pipeline assembly shared between them.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/haasonsaas/sidekick/internal/audit"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/guardrails"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/loop"
	"github.com/haasonsaas/sidekick/internal/mcp"
	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/memory/embeddings"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/orchestrator"
	"github.com/haasonsaas/sidekick/internal/router"
	"github.com/haasonsaas/sidekick/internal/search"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/internal/utility"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// =============================================================================
// Pipeline Assembly
// =============================================================================

// pipeline bundles everything one chat session owns. Metrics and tracing are
// process-wide and deliberately not part of it, so a config reload can
// rebuild the pipeline without re-registering collectors.
type pipeline struct {
	cfg      *config.Config
	orc      *orchestrator.Orchestrator
	auditLog *audit.Logger
	servers  *mcp.Manager
}

// Close releases the pipeline's resources: tool server connections first,
// then the audit log so trailing MCP_TOOL_CALL_END events still land.
func (p *pipeline) Close() {
	if p == nil {
		return
	}
	if p.servers != nil {
		_ = p.servers.Close()
	}
	if p.auditLog != nil {
		_ = p.auditLog.Close()
	}
}

// buildPipeline wires the full turn pipeline from config: audit log, tool
// servers, permission gate, LLM providers, and the orchestrator on top.
// Unreachable tool servers are logged and skipped rather than failing the
// whole session.
func buildPipeline(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, prompter tools.Prompter, logger *slog.Logger) (*pipeline, error) {
	auditLog, err := audit.NewLogger(audit.Config{
		Enabled:       cfg.Audit.IsEnabled(),
		Path:          cfg.Audit.Path,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
		MaxDetailSize: cfg.Audit.MaxDetailSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	servers := mcp.NewManager(logger)
	for i := range cfg.ToolServers {
		sc := toServerConfig(&cfg.ToolServers[i])
		if err := servers.Connect(ctx, sc); err != nil {
			logger.Warn("tool server unavailable", "server", sc.Name, "error", err)
		}
	}

	registry := tools.DefaultRegistry()
	gate := tools.NewGate(tools.GateConfig{
		Permissions:   cfg.Permissions,
		MemoryEnabled: cfg.Memory.IsEnabled(),
		Debug:         cfg.Agent.Debug,
	}, registry, prompter, logger)
	toolClient := tools.NewClient(servers, gate, registry, auditLog, metrics, logger)

	chatProvider := cfg.LLM.DefaultProvider
	chatClient, err := llm.New(chatProvider, providerOptions(cfg, chatProvider), logger)
	if err != nil {
		_ = servers.Close()
		_ = auditLog.Close()
		return nil, err
	}
	chatModel := cfg.LLM.Providers[chatProvider].DefaultModel

	routerProvider := cfg.LLM.RouterProvider
	if routerProvider == "" {
		routerProvider = chatProvider
	}
	classifier := chatClient
	if routerProvider != chatProvider {
		classifier, err = llm.New(routerProvider, providerOptions(cfg, routerProvider), logger)
		if err != nil {
			_ = servers.Close()
			_ = auditLog.Close()
			return nil, err
		}
	}
	routerModel := cfg.LLM.RouterModel
	if routerModel == "" {
		routerModel = cfg.LLM.Providers[routerProvider].DefaultModel
	}

	embedder, err := embeddings.New(cfg.Memory.Embeddings)
	if err != nil {
		// Retrieval degrades to keyword matching without an embedder.
		logger.Warn("embeddings unavailable", "error", err)
		embedder = nil
	}

	orc := orchestrator.New(cfg, orchestrator.Deps{
		Router:     router.New(utility.NewEngine(cfg.Utility), classifier, routerModel, cfg.Router, logger),
		Search:     search.New(chatClient, toolClient, cfg.Search, metrics, logger),
		Loop:       loop.New(chatClient, toolClient, cfg.Loop, metrics, logger),
		Memory:     memory.NewProvider(toolClient, embedder, auditLog, cfg.Memory, logger),
		Guardrails: guardrails.New(chatClient, chatModel, cfg.Guardrails, logger),
		Tools:      toolClient,
		Chat:       chatClient,
		Audit:      auditLog,
		Metrics:    metrics,
		Logger:     logger,
	})

	return &pipeline{cfg: cfg, orc: orc, auditLog: auditLog, servers: servers}, nil
}

// toServerConfig maps a config tool server entry to the connection settings
// the manager validates and dials.
func toServerConfig(ts *config.ToolServerConfig) *mcp.ServerConfig {
	return &mcp.ServerConfig{
		Name:      ts.Name,
		Transport: mcp.TransportType(ts.Transport),
		Command:   ts.Command,
		Args:      ts.Args,
		Env:       ts.Env,
		URL:       ts.URL,
		Headers:   ts.Headers,
		Timeout:   ts.Timeout,
	}
}

// providerOptions maps one llm.providers config section to construction
// options for that provider.
func providerOptions(cfg *config.Config, provider string) llm.Options {
	pc := cfg.LLM.Providers[provider]
	return llm.Options{
		APIKey:       pc.APIKey,
		BaseURL:      pc.BaseURL,
		DefaultModel: pc.DefaultModel,
		MaxTokens:    pc.MaxTokens,
		Timeout:      pc.Timeout,
	}
}

// =============================================================================
// Chat Command Handler
// =============================================================================

// runChat implements the chat command: one-shot with -m, REPL otherwise.
func runChat(ctx context.Context, out io.Writer, configPath, message string, debug, watch bool) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	logCfg := observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if debug {
		logCfg.Level = "debug"
	}
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go serveMetrics(addr, logger)
	}

	if tc := cfg.Observability.Tracing; tc.Enabled {
		_, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    tc.ServiceName,
			ServiceVersion: tc.ServiceVersion,
			Environment:    tc.Environment,
			Endpoint:       tc.Endpoint,
			SamplingRate:   tc.SamplingRate,
			Attributes:     tc.Attributes,
			EnableInsecure: tc.Insecure,
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	stdin := bufio.NewReader(os.Stdin)
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	prompter := terminalPrompter(stdin, out, interactive)

	pl, err := buildPipeline(ctx, cfg, metrics, prompter, logger)
	if err != nil {
		return err
	}

	// current guards the active pipeline so --watch can swap it between
	// turns without racing the REPL.
	var mu sync.Mutex
	current := pl
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		current.Close()
	}()

	if watch {
		go func() {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				npl, err := buildPipeline(ctx, next, metrics, prompter, logger)
				if err != nil {
					logger.Warn("config reload failed, keeping previous pipeline", "error", err)
					return
				}
				mu.Lock()
				old := current
				current = npl
				mu.Unlock()
				old.Close()
				logger.Info("pipeline rebuilt from updated config", "path", configPath)
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("config watch stopped", "error", err)
			}
		}()
	}

	active := func() *orchestrator.Orchestrator {
		mu.Lock()
		defer mu.Unlock()
		return current.orc
	}

	if strings.TrimSpace(message) != "" {
		resp := active().Process(ctx, message)
		printResponse(out, resp, debug)
		if !resp.Success {
			return fmt.Errorf("turn did not complete")
		}
		return nil
	}

	if interactive {
		fmt.Fprintf(out, "Sidekick %s. /reset clears the session, /quit exits.\n", version)
	}

	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		line, err := stdin.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			active().ResetSession()
			fmt.Fprintln(out, "Session reset.")
			continue
		}

		resp := active().Process(ctx, line)
		printResponse(out, resp, debug)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// serveMetrics exposes the Prometheus registry over HTTP.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// terminalPrompter approves "ask"-mode tool calls from the terminal. In a
// non-interactive session (piped stdin) everything is denied, which keeps
// scripted runs safe.
func terminalPrompter(in *bufio.Reader, out io.Writer, interactive bool) tools.Prompter {
	return tools.PrompterFunc(func(ctx context.Context, req tools.ApprovalRequest) (bool, error) {
		if !interactive {
			return false, nil
		}
		if req.ArgsSummary != "" {
			fmt.Fprintf(out, "Allow tool %s (%s group) with %s? [y/N] ", req.Tool, req.Group, req.ArgsSummary)
		} else {
			fmt.Fprintf(out, "Allow tool %s (%s group)? [y/N] ", req.Tool, req.Group)
		}
		line, err := in.ReadString('\n')
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	})
}

// printResponse renders one turn result. Debug mode adds the tool calls and
// LLM round trips behind the answer.
func printResponse(out io.Writer, resp models.AgentResponse, debug bool) {
	fmt.Fprintln(out, resp.Text)
	if !debug {
		return
	}
	for _, rec := range resp.ToolCallsMade {
		fmt.Fprintf(out, "  [tool] %s(%s) %s\n", rec.Name, rec.Arguments, rec.Duration)
	}
	fmt.Fprintf(out, "  [llm] %d round trip(s)\n", resp.LLMRoundTrips)
	if resp.GuardrailsUsed {
		fmt.Fprintf(out, "  [guardrails] %s\n", strings.Join(resp.GuardrailsRationale, "; "))
	}
}

// =============================================================================
// Audit Command Handlers
// =============================================================================

// runAuditTail implements "audit tail".
func runAuditTail(out io.Writer, configPath string, count int, asJSON bool) error {
	path, err := auditLogPath(configPath)
	if err != nil {
		return err
	}

	events, err := audit.ReadTailFile(path, count)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(out, "No audit log yet.")
			return nil
		}
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit events.")
		return nil
	}

	for _, event := range events {
		if asJSON {
			payload, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(payload))
			continue
		}
		target := event.Target
		if target != "" {
			target = " " + target
		}
		fmt.Fprintf(out, "%s %-28s%s [%s]\n",
			event.TS.Local().Format(time.RFC3339), event.Action, target, event.Result)
	}
	return nil
}

// runAuditPath implements "audit path".
func runAuditPath(out io.Writer, configPath string) error {
	path, err := auditLogPath(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, path)
	return nil
}

// auditLogPath resolves the audit log location: config override first, then
// the platform default.
func auditLogPath(configPath string) (string, error) {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.Audit.Path) != "" {
		return cfg.Audit.Path, nil
	}
	return audit.DefaultPath()
}

// =============================================================================
// Config Command Handlers
// =============================================================================

// runConfigValidate implements "config validate".
func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Configuration OK: %s\n", configPath)
	provider := cfg.LLM.DefaultProvider
	if provider == "" {
		provider = "local"
	}
	fmt.Fprintf(out, "  LLM provider: %s\n", provider)
	fmt.Fprintf(out, "  Tool servers: %d\n", len(cfg.ToolServers))
	fmt.Fprintf(out, "  Memory: %v | Audit: %v\n", cfg.Memory.IsEnabled(), cfg.Audit.IsEnabled())
	return nil
}

// runConfigSchema implements "config schema".
func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = out.Write(append(schema, '\n'))
	return err
}

// runConfigPath implements "config path".
func runConfigPath(out io.Writer) error {
	fmt.Fprintln(out, resolveConfigPath(""))
	return nil
}

// =============================================================================
// Tools Command Handler
// =============================================================================

// runToolsList implements "tools list".
func runToolsList(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	if len(cfg.ToolServers) == 0 {
		fmt.Fprintln(out, "No tool servers configured.")
		return nil
	}

	servers := mcp.NewManager(slog.Default())
	defer servers.Close()
	for i := range cfg.ToolServers {
		sc := toServerConfig(&cfg.ToolServers[i])
		if err := servers.Connect(ctx, sc); err != nil {
			fmt.Fprintf(out, "Server %s: unavailable (%v)\n", sc.Name, err)
		}
	}

	registry := tools.DefaultRegistry()
	listed := servers.ListTools(ctx)
	if len(listed) == 0 {
		fmt.Fprintln(out, "No tools available.")
		return nil
	}

	fmt.Fprintln(out, "Tools:")
	for _, st := range listed {
		group, ok := registry.Group(st.Tool.Name)
		if !ok {
			group = "ungrouped"
		}
		fmt.Fprintf(out, "  %-24s %-12s %s\n", st.Tool.Name, group, st.Server)
		if st.Tool.Description != "" {
			fmt.Fprintf(out, "    %s\n", st.Tool.Description)
		}
	}
	return nil
}
