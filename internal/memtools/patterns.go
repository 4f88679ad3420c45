package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrios/promem/internal/memory"
)

// StorePatternTool handles the store_pattern MCP tool.
type StorePatternTool struct {
	svc *Service
}

// NewStorePatternTool creates a StorePatternTool.
func NewStorePatternTool(svc *Service) *StorePatternTool {
	return &StorePatternTool{svc: svc}
}

// Definition returns the MCP tool definition for store_pattern.
func (t *StorePatternTool) Definition() mcp.Tool {
	return mcp.NewTool("store_pattern",
		mcp.WithDescription(
			"Store or update a named, reusable code pattern for this project. "+
				"Storing under an existing name updates it.",
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Unique pattern name (alphanumeric, underscore, hyphen, dot; max 100 chars)"),
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("What the pattern does"),
		),
		mcp.WithString("example",
			mcp.Description("A code example of the pattern"),
		),
		mcp.WithString("when_to_use",
			mcp.Description("When to reach for this pattern"),
		),
	)
}

// Handle processes the store_pattern tool call.
func (t *StorePatternTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "store_pattern", true)
	if err != nil {
		return t.svc.errResult("store_pattern", err), nil
	}
	defer release()

	name := req.GetString("name", "")
	description := req.GetString("description", "")
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	if description == "" {
		return mcp.NewToolResultError("'description' is required"), nil
	}

	p, err := t.svc.Store.StorePattern(memory.StorePatternParams{
		Name:        name,
		Description: description,
		Example:     req.GetString("example", ""),
		WhenToUse:   req.GetString("when_to_use", ""),
	})
	if err != nil {
		return t.svc.errResult("store_pattern", err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Pattern %q stored.", p.Name)), nil
}

// ─── GetPatternsTool ─────────────────────────────────────────────────────────

// GetPatternsTool handles the get_patterns MCP tool.
type GetPatternsTool struct {
	svc *Service
}

// NewGetPatternsTool creates a GetPatternsTool.
func NewGetPatternsTool(svc *Service) *GetPatternsTool {
	return &GetPatternsTool{svc: svc}
}

// Definition returns the MCP tool definition for get_patterns.
func (t *GetPatternsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_patterns",
		mcp.WithDescription(
			"Retrieve stored code patterns, ordered by name. Pass a name to fetch a single pattern.",
		),
		mcp.WithString("name",
			mcp.Description("Exact pattern name to fetch"),
		),
	)
}

// Handle processes the get_patterns tool call.
func (t *GetPatternsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "get_patterns", false)
	if err != nil {
		return t.svc.errResult("get_patterns", err), nil
	}
	defer release()

	name := req.GetString("name", "")
	patterns, err := t.svc.Store.GetPatterns(name)
	if err != nil {
		return t.svc.errResult("get_patterns", err), nil
	}
	if len(patterns) == 0 {
		if name != "" {
			return mcp.NewToolResultText(fmt.Sprintf("No pattern named %q.", name)), nil
		}
		return mcp.NewToolResultText("No patterns stored yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d pattern(s):\n", len(patterns))
	for _, p := range patterns {
		fmt.Fprintf(&b, "\n## %s\n%s\n", p.Name, p.Description)
		if p.WhenToUse != "" {
			fmt.Fprintf(&b, "When to use: %s\n", p.WhenToUse)
		}
		if p.Example != "" {
			fmt.Fprintf(&b, "Example:\n%s\n", p.Example)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}
