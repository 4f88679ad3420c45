package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// SetContextTool handles the set_context MCP tool.
type SetContextTool struct {
	svc *Service
}

// NewSetContextTool creates a SetContextTool.
func NewSetContextTool(svc *Service) *SetContextTool {
	return &SetContextTool{svc: svc}
}

// Definition returns the MCP tool definition for set_context.
func (t *SetContextTool) Definition() mcp.Tool {
	return mcp.NewTool("set_context",
		mcp.WithDescription(
			"Store a key/value fact about this project (e.g. 'deploy.target' = 'fly.io'). "+
				"Setting an existing key overwrites it.",
		),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Context key (alphanumeric, underscore, hyphen, dot; max 100 chars)"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("The value to remember"),
		),
	)
}

// Handle processes the set_context tool call.
func (t *SetContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "set_context", true)
	if err != nil {
		return t.svc.errResult("set_context", err), nil
	}
	defer release()

	key := req.GetString("key", "")
	if key == "" {
		return mcp.NewToolResultError("'key' is required"), nil
	}

	entry, err := t.svc.Store.SetContext(key, req.GetString("value", ""))
	if err != nil {
		return t.svc.errResult("set_context", err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Context set: %s = %s", entry.Key, entry.Value)), nil
}

// ─── GetContextTool ──────────────────────────────────────────────────────────

// GetContextTool handles the get_context MCP tool.
type GetContextTool struct {
	svc *Service
}

// NewGetContextTool creates a GetContextTool.
func NewGetContextTool(svc *Service) *GetContextTool {
	return &GetContextTool{svc: svc}
}

// Definition returns the MCP tool definition for get_context.
func (t *GetContextTool) Definition() mcp.Tool {
	return mcp.NewTool("get_context",
		mcp.WithDescription(
			"Retrieve project context. Pass a key for one value, or omit it to list everything.",
		),
		mcp.WithString("key",
			mcp.Description("Exact context key to fetch"),
		),
	)
}

// Handle processes the get_context tool call.
func (t *GetContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "get_context", false)
	if err != nil {
		return t.svc.errResult("get_context", err), nil
	}
	defer release()

	key := req.GetString("key", "")
	entries, err := t.svc.Store.GetContext(key)
	if err != nil {
		return t.svc.errResult("get_context", err), nil
	}
	if len(entries) == 0 {
		if key != "" {
			return mcp.NewToolResultText(fmt.Sprintf("No context stored under %q.", key)), nil
		}
		return mcp.NewToolResultText("No project context stored yet."), nil
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s = %s (updated %s)\n", e.Key, e.Value, e.UpdatedAt)
	}
	return mcp.NewToolResultText(b.String()), nil
}
