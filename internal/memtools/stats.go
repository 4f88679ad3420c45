package memtools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrios/promem/internal/memory"
)

// MemoryStatsTool handles the memory_stats MCP tool.
type MemoryStatsTool struct {
	svc *Service
}

// NewMemoryStatsTool creates a MemoryStatsTool.
func NewMemoryStatsTool(svc *Service) *MemoryStatsTool {
	return &MemoryStatsTool{svc: svc}
}

// Definition returns the MCP tool definition for memory_stats.
func (t *MemoryStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_stats",
		mcp.WithDescription(
			"Show memory usage: stored counts against their limits, database size, "+
				"connection pool occupancy and rate limiter state.",
		),
	)
}

// Handle processes the memory_stats tool call.
func (t *MemoryStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "memory_stats", false)
	if err != nil {
		return t.svc.errResult("memory_stats", err), nil
	}
	defer release()

	st, err := t.svc.Store.Stats()
	if err != nil {
		return t.svc.errResult("memory_stats", err), nil
	}

	var b strings.Builder
	b.WriteString("Project memory stats:\n")
	fmt.Fprintf(&b, "  Decisions:    %d / %d\n", st.Decisions, st.MaxDecisions)
	fmt.Fprintf(&b, "  Patterns:     %d / %d\n", st.Patterns, st.MaxPatterns)
	fmt.Fprintf(&b, "  Context keys: %d / %d\n", st.ContextKeys, st.MaxContextKeys)
	fmt.Fprintf(&b, "  Database:     %s (%d bytes)\n", st.DBPath, st.DBSizeBytes)

	if t.svc.Pool != nil {
		ps := t.svc.Pool.Stats()
		fmt.Fprintf(&b, "  Pool:         %d / %d connections in use\n", ps.InUse, ps.Size)
	}
	if t.svc.Limiter != nil {
		fmt.Fprintf(&b, "  Rate limit:   %.0f%% of window used\n", t.svc.Limiter.Utilization()*100)
		usage := t.svc.Limiter.Usage()
		if len(usage) > 0 {
			ops := make([]string, 0, len(usage))
			for op := range usage {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			b.WriteString("  Operations this window:\n")
			for _, op := range ops {
				fmt.Fprintf(&b, "    %s: %d\n", op, usage[op])
			}
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── HealthCheckTool ─────────────────────────────────────────────────────────

// HealthCheckTool handles the health_check MCP tool.
type HealthCheckTool struct {
	svc *Service
}

// NewHealthCheckTool creates a HealthCheckTool.
func NewHealthCheckTool(svc *Service) *HealthCheckTool {
	return &HealthCheckTool{svc: svc}
}

// Definition returns the MCP tool definition for health_check.
func (t *HealthCheckTool) Definition() mcp.Tool {
	return mcp.NewTool("health_check",
		mcp.WithDescription(
			"Run a health check: database connectivity, file integrity, write capability "+
				"and capacity utilization. Reports healthy, degraded or unhealthy.",
		),
	)
}

// Handle processes the health_check tool call.
//
// Health bypasses the shared gate entirely: it is rate-limit exempt,
// and a pool that cannot hand out a connection belongs in the report
// itself, not in an error result.
func (t *HealthCheckTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	poolCheck := memory.Check{OK: true}
	if t.svc.Pool != nil {
		conn, err := t.svc.Pool.Acquire(ctx)
		if err != nil {
			poolCheck = memory.Check{Detail: err.Error()}
		} else {
			defer t.svc.Pool.Release(conn)
		}
	}

	r := t.svc.Store.HealthCheck()
	if !poolCheck.OK {
		r.Status = memory.StatusUnhealthy
	}

	// The limiter is part of service health even though the storage
	// probes know nothing about it.
	var limiterUtil float64
	if t.svc.Limiter != nil {
		limiterUtil = t.svc.Limiter.Utilization()
		if r.Status == memory.StatusHealthy && limiterUtil > 0.8 {
			r.Status = memory.StatusDegraded
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	fmt.Fprintf(&b, "  Connection: %s\n", checkWord(r.Connection))
	fmt.Fprintf(&b, "  Integrity:  %s\n", checkWord(r.Integrity))
	fmt.Fprintf(&b, "  Writable:   %s\n", checkWord(r.Writable))
	if t.svc.Pool != nil {
		fmt.Fprintf(&b, "  Pool:       %s\n", checkWord(poolCheck))
	}
	for _, table := range []string{"decisions", "patterns", "context"} {
		fmt.Fprintf(&b, "  %s capacity: %.0f%%\n", table, r.Utilization[table]*100)
	}
	if t.svc.Limiter != nil {
		fmt.Fprintf(&b, "  rate limiter: %.0f%%\n", limiterUtil*100)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func checkWord(c memory.Check) string {
	if c.OK {
		return "ok"
	}
	return "FAILED: " + c.Detail
}
