package memtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrios/promem/internal/memory"
)

// ExportTool handles the export_memory MCP tool.
type ExportTool struct {
	svc *Service
}

// NewExportTool creates an ExportTool.
func NewExportTool(svc *Service) *ExportTool {
	return &ExportTool{svc: svc}
}

// Definition returns the MCP tool definition for export_memory.
func (t *ExportTool) Definition() mcp.Tool {
	return mcp.NewTool("export_memory",
		mcp.WithDescription(
			"Export all project memory as a versioned JSON snapshot, suitable for backup "+
				"or for import into another project.",
		),
	)
}

// Handle processes the export_memory tool call.
func (t *ExportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "export_memory", false)
	if err != nil {
		return t.svc.errResult("export_memory", err), nil
	}
	defer release()

	data, err := t.svc.Store.Export()
	if err != nil {
		return t.svc.errResult("export_memory", err), nil
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return t.svc.errResult("export_memory", err), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// ─── ImportTool ──────────────────────────────────────────────────────────────

// ImportTool handles the import_memory MCP tool.
type ImportTool struct {
	svc *Service
}

// NewImportTool creates an ImportTool.
func NewImportTool(svc *Service) *ImportTool {
	return &ImportTool{svc: svc}
}

// Definition returns the MCP tool definition for import_memory.
func (t *ImportTool) Definition() mcp.Tool {
	return mcp.NewTool("import_memory",
		mcp.WithDescription(
			"Replace all project memory with a previously exported JSON snapshot. "+
				"The import is atomic: either the whole snapshot lands or nothing changes.",
		),
		mcp.WithString("data",
			mcp.Required(),
			mcp.Description("The JSON snapshot produced by export_memory"),
		),
	)
}

// Handle processes the import_memory tool call.
func (t *ImportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "import_memory", true)
	if err != nil {
		return t.svc.errResult("import_memory", err), nil
	}
	defer release()

	raw := req.GetString("data", "")
	if raw == "" {
		return mcp.NewToolResultError("'data' is required"), nil
	}

	var data memory.ExportData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return t.svc.errResult("import_memory",
			memory.Errorf(memory.KindValidation, "snapshot is not valid JSON: %v", err)), nil
	}

	res, err := t.svc.Store.Import(data)
	if err != nil {
		return t.svc.errResult("import_memory", err), nil
	}
	msg := fmt.Sprintf("Imported %d decisions, %d patterns, %d context keys.",
		res.Decisions, res.Patterns, res.Context)
	if res.Skipped > 0 {
		msg += fmt.Sprintf(" Skipped %d invalid record(s).", res.Skipped)
	}
	return mcp.NewToolResultText(msg), nil
}
