package memtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrios/promem/internal/memory"
)

// PurgeConfirmToken must be passed verbatim to purge_memory. The fixed
// token keeps the operation stateless while still requiring the client
// to spell out destructive intent.
const PurgeConfirmToken = "CONFIRM_PURGE"

// PurgeTool handles the purge_memory MCP tool.
type PurgeTool struct {
	svc *Service
}

// NewPurgeTool creates a PurgeTool.
func NewPurgeTool(svc *Service) *PurgeTool {
	return &PurgeTool{svc: svc}
}

// Definition returns the MCP tool definition for purge_memory.
func (t *PurgeTool) Definition() mcp.Tool {
	return mcp.NewTool("purge_memory",
		mcp.WithDescription(
			"Permanently delete ALL project memory: decisions, patterns and context. "+
				"Requires confirm='"+PurgeConfirmToken+"'. This cannot be undone.",
		),
		mcp.WithString("confirm",
			mcp.Required(),
			mcp.Description("Must be exactly '"+PurgeConfirmToken+"'"),
		),
	)
}

// Handle processes the purge_memory tool call.
func (t *PurgeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "purge_memory", true)
	if err != nil {
		return t.svc.errResult("purge_memory", err), nil
	}
	defer release()

	if req.GetString("confirm", "") != PurgeConfirmToken {
		return t.svc.errResult("purge_memory", memory.Errorf(memory.KindPermission,
			"purge requires confirm=%q", PurgeConfirmToken)), nil
	}

	res, err := t.svc.Store.Purge()
	if err != nil {
		return t.svc.errResult("purge_memory", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Memory purged: %d decisions, %d patterns, %d context keys deleted.",
		res.Decisions, res.Patterns, res.Context)), nil
}
