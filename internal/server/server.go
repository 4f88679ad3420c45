// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it builds the store, pool and limiter,
// injects them into the tool handlers, and registers everything.
// No business logic lives here — only wiring.
package server

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/calebrios/promem/internal/config"
	"github.com/calebrios/promem/internal/memory"
	"github.com/calebrios/promem/internal/memtools"
	"github.com/calebrios/promem/internal/pool"
	"github.com/calebrios/promem/internal/ratelimit"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewService builds the shared service: store, connection pool and rate
// limiter, per cfg. The returned cleanup closes the pool and the store
// and must be called on shutdown (typically via defer). It is always
// non-nil and safe to call.
func NewService(cfg config.Config) (*memtools.Service, func(), error) {
	store, err := memory.New(cfg)
	if err != nil {
		return nil, noop, fmt.Errorf("initializing memory store: %w", err)
	}

	p, err := pool.New(context.Background(), store.DB(), cfg.PoolSize, cfg.AcquireTimeout)
	if err != nil {
		store.Close()
		return nil, noop, fmt.Errorf("warming connection pool: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.PersistRateLimit {
		limiter, err = ratelimit.NewPersistent(store.DB(), cfg.RateLimitPerMinute, cfg.RateLimitWindow)
		if err != nil {
			// Persistence is an upgrade, not a requirement.
			log.Printf("WARNING: persistent rate limit unavailable, using in-memory: %v", err)
			limiter = ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitWindow)
		}
	} else {
		limiter = ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitWindow)
	}

	svc := &memtools.Service{
		Store:   store,
		Limiter: limiter,
		Pool:    p,
		Cfg:     cfg,
	}
	cleanup := func() {
		if err := p.Close(); err != nil {
			log.Printf("WARNING: pool close: %v", err)
		}
		if err := store.Close(); err != nil {
			log.Printf("WARNING: memory store close: %v", err)
		}
	}
	return svc, cleanup, nil
}

// New creates and configures the MCP server with all memory tools
// registered over a freshly built service.
func New(cfg config.Config) (*server.MCPServer, func(), error) {
	svc, cleanup, err := NewService(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	log.Printf("promem %s: db=%s pool=%d rate=%d/min persist_rate=%v read_only=%v limits=%d/%d/%d",
		Version, cfg.DBPath, cfg.PoolSize, cfg.RateLimitPerMinute,
		cfg.PersistRateLimit, cfg.ReadOnly,
		cfg.MaxDecisions, cfg.MaxPatterns, cfg.MaxContextKeys)

	s := server.NewMCPServer(
		"promem",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	registerMemoryTools(s, svc)
	return s, cleanup, nil
}

// noop is the default cleanup when initialization fails.
func noop() {}

// registerMemoryTools registers all 11 memory MCP tools with the server.
// Dispatch is closed: anything outside this set is rejected by the MCP
// server itself.
func registerMemoryTools(s *server.MCPServer, svc *memtools.Service) {
	// --- Decisions ---
	remember := memtools.NewRememberDecisionTool(svc)
	s.AddTool(remember.Definition(), remember.Handle)

	recall := memtools.NewRecallDecisionsTool(svc)
	s.AddTool(recall.Definition(), recall.Handle)

	// --- Patterns ---
	storePattern := memtools.NewStorePatternTool(svc)
	s.AddTool(storePattern.Definition(), storePattern.Handle)

	getPatterns := memtools.NewGetPatternsTool(svc)
	s.AddTool(getPatterns.Definition(), getPatterns.Handle)

	// --- Context ---
	setContext := memtools.NewSetContextTool(svc)
	s.AddTool(setContext.Definition(), setContext.Handle)

	getContext := memtools.NewGetContextTool(svc)
	s.AddTool(getContext.Definition(), getContext.Handle)

	// --- Diagnostics ---
	stats := memtools.NewMemoryStatsTool(svc)
	s.AddTool(stats.Definition(), stats.Handle)

	health := memtools.NewHealthCheckTool(svc)
	s.AddTool(health.Definition(), health.Handle)

	// --- Backup and management ---
	export := memtools.NewExportTool(svc)
	s.AddTool(export.Definition(), export.Handle)

	importTool := memtools.NewImportTool(svc)
	s.AddTool(importTool.Definition(), importTool.Handle)

	purge := memtools.NewPurgeTool(svc)
	s.AddTool(purge.Definition(), purge.Handle)
}

// serverInstructions returns the system instructions that tell the AI
// how to use project memory effectively.
func serverInstructions() string {
	return `You have access to promem, a persistent project-memory server.
Memory survives between conversations — use it to build project knowledge over time.

## WHEN TO SAVE (call these PROACTIVELY, don't wait to be asked)
- remember_decision: after any significant architectural or design choice.
  Always include the rationale and the alternatives you rejected.
- store_pattern: when a reusable convention or code pattern is established.
- set_context: for durable project facts (deploy targets, tool choices,
  naming conventions). Use dotted keys like "deploy.target".

## WHEN TO RECALL
- At the start of a session: recall_decisions and get_context to recover
  what past sessions already settled.
- Before proposing an architectural change: recall_decisions with a keyword
  to check whether the question was already decided.

## MANAGEMENT
- memory_stats shows usage against capacity limits.
- health_check reports healthy / degraded / unhealthy.
- export_memory produces a JSON snapshot; import_memory atomically replaces
  all memory with a snapshot.
- purge_memory deletes everything and requires confirm='CONFIRM_PURGE'.

## LIMITS
The decision log keeps the most recent entries and silently drops the
oldest when full. Patterns and context keys have hard caps: at the cap,
update existing entries instead of creating new ones. Writes are rate
limited; if you hit the limit, wait and retry.`
}
