// Package memtools provides the MCP tool handlers for project memory.
//
// Each tool handler follows the same pattern:
// - A struct with a *Service injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Every handler runs the same gate before touching storage: rate limit
// (unless the operation is exempt), read-only check for writes, then a
// pooled connection slot as the concurrency throttle.
package memtools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/oklog/ulid/v2"

	"github.com/calebrios/promem/internal/config"
	"github.com/calebrios/promem/internal/memory"
	"github.com/calebrios/promem/internal/pool"
	"github.com/calebrios/promem/internal/ratelimit"
)

// Service bundles the dependencies shared by all tool handlers.
type Service struct {
	Store   *memory.Store
	Limiter *ratelimit.Limiter
	Pool    *pool.Pool
	Cfg     config.Config
}

// rateLimitExempt lists operations that bypass the limiter: management
// and diagnostic operations must work even when a client has burned
// through its quota.
var rateLimitExempt = map[string]bool{
	"memory_stats":  true,
	"export_memory": true,
	"import_memory": true,
	"health_check":  true,
	"purge_memory":  true,
}

var noopRelease = func() {}

// CheckWritable rejects op when the server is read-only. The offline
// CLI shares this check with the MCP handlers: read-only must hold no
// matter which surface issues the write.
func (s *Service) CheckWritable(op string) error {
	if s.Cfg.ReadOnly {
		return memory.Errorf(memory.KindPermission,
			"%s rejected: server is running in read-only mode", op)
	}
	return nil
}

// gate runs the shared admission checks for op. On success it returns a
// release func the caller must invoke once the operation completes.
func (s *Service) gate(ctx context.Context, op string, write bool) (func(), error) {
	if s.Limiter != nil && !rateLimitExempt[op] {
		if d := s.Limiter.Allow(op); !d.Allowed {
			return nil, memory.Errorf(memory.KindRateLimit,
				"rate limit exceeded: retry in %s", d.RetryAfter.Round(time.Second))
		}
	}
	if write {
		if err := s.CheckWritable(op); err != nil {
			return nil, err
		}
	}
	if s.Pool != nil {
		conn, err := s.Pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, pool.ErrExhausted) {
				return nil, memory.Errorf(memory.KindPoolExhausted,
					"all database connections are busy, try again shortly")
			}
			return nil, err
		}
		return func() { s.Pool.Release(conn) }, nil
	}
	return noopRelease, nil
}

// errResult renders err as a tool error with a correlation ID that also
// appears in the server log.
func (s *Service) errResult(op string, err error) *mcp.CallToolResult {
	id := ulid.Make().String()
	log.Printf("%s failed (request %s): %v", op, id, err)
	if _, ok := memory.KindOf(err); ok {
		return mcp.NewToolResultError(fmt.Sprintf("%v (request %s)", err, id))
	}
	return mcp.NewToolResultError(fmt.Sprintf("[INTERNAL_ERROR] %s failed: %v (request %s)", op, err, id))
}
