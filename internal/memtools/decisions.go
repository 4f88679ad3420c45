package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrios/promem/internal/memory"
)

// RememberDecisionTool handles the remember_decision MCP tool.
type RememberDecisionTool struct {
	svc *Service
}

// NewRememberDecisionTool creates a RememberDecisionTool.
func NewRememberDecisionTool(svc *Service) *RememberDecisionTool {
	return &RememberDecisionTool{svc: svc}
}

// Definition returns the MCP tool definition for remember_decision.
func (t *RememberDecisionTool) Definition() mcp.Tool {
	return mcp.NewTool("remember_decision",
		mcp.WithDescription(
			"Record an architectural or design decision in persistent project memory. "+
				"Call this when a significant choice is made so future sessions know what was decided and why.",
		),
		mcp.WithString("decision",
			mcp.Required(),
			mcp.Description("The decision that was made (e.g. 'Use SQLite for persistence')"),
		),
		mcp.WithString("rationale",
			mcp.Description("Why this decision was made"),
		),
		mcp.WithString("context",
			mcp.Description("The situation or component the decision applies to"),
		),
		mcp.WithString("alternatives",
			mcp.Description("Alternatives that were considered and rejected"),
		),
	)
}

// Handle processes the remember_decision tool call.
func (t *RememberDecisionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "remember_decision", true)
	if err != nil {
		return t.svc.errResult("remember_decision", err), nil
	}
	defer release()

	if req.GetString("decision", "") == "" {
		return mcp.NewToolResultError("'decision' is required"), nil
	}

	d, err := t.svc.Store.RememberDecision(memory.RememberDecisionParams{
		Decision:     req.GetString("decision", ""),
		Rationale:    req.GetString("rationale", ""),
		Context:      req.GetString("context", ""),
		Alternatives: req.GetString("alternatives", ""),
	})
	if err != nil {
		return t.svc.errResult("remember_decision", err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Decision recorded (ID: %d): %s", d.ID, d.Decision)), nil
}

// ─── RecallDecisionsTool ─────────────────────────────────────────────────────

// RecallDecisionsTool handles the recall_decisions MCP tool.
type RecallDecisionsTool struct {
	svc *Service
}

// NewRecallDecisionsTool creates a RecallDecisionsTool.
func NewRecallDecisionsTool(svc *Service) *RecallDecisionsTool {
	return &RecallDecisionsTool{svc: svc}
}

// Definition returns the MCP tool definition for recall_decisions.
func (t *RecallDecisionsTool) Definition() mcp.Tool {
	return mcp.NewTool("recall_decisions",
		mcp.WithDescription(
			"Retrieve past architectural decisions, newest first. Optionally filter by a keyword "+
				"matched against the decision, rationale and context fields.",
		),
		mcp.WithString("keyword",
			mcp.Description("Filter keyword; wildcards match literally"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (1-100, default 20)"),
		),
	)
}

// Handle processes the recall_decisions tool call.
func (t *RecallDecisionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	release, err := t.svc.gate(ctx, "recall_decisions", false)
	if err != nil {
		return t.svc.errResult("recall_decisions", err), nil
	}
	defer release()

	keyword := req.GetString("keyword", "")
	limit := intArg(req, "limit", 0)

	decisions, err := t.svc.Store.RecallDecisions(keyword, limit)
	if err != nil {
		return t.svc.errResult("recall_decisions", err), nil
	}
	if len(decisions) == 0 {
		if keyword != "" {
			return mcp.NewToolResultText(fmt.Sprintf("No decisions match %q.", keyword)), nil
		}
		return mcp.NewToolResultText("No decisions recorded yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d decision(s):\n", len(decisions))
	for _, d := range decisions {
		fmt.Fprintf(&b, "\n[%d] %s — %s\n", d.ID, d.Timestamp, d.Decision)
		if d.Rationale != "" {
			fmt.Fprintf(&b, "  Rationale: %s\n", d.Rationale)
		}
		if d.Context != "" {
			fmt.Fprintf(&b, "  Context: %s\n", d.Context)
		}
		if d.Alternatives != "" {
			fmt.Fprintf(&b, "  Alternatives: %s\n", d.Alternatives)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}
