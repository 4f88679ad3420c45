package memtools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calebrios/promem/internal/config"
	"github.com/calebrios/promem/internal/memory"
	"github.com/calebrios/promem/internal/pool"
	"github.com/calebrios/promem/internal/ratelimit"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// newTestService builds a Service over a temp-dir store. mutate adjusts
// the config before the store is opened.
func newTestService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "memory.db")
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &Service{
		Store:   store,
		Limiter: ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitWindow),
		Cfg:     cfg,
	}
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestToolDefinitions(t *testing.T) {
	svc := newTestService(t, nil)

	cases := []struct {
		def      mcp.Tool
		name     string
		required []string
	}{
		{NewRememberDecisionTool(svc).Definition(), "remember_decision", []string{"decision"}},
		{NewRecallDecisionsTool(svc).Definition(), "recall_decisions", nil},
		{NewStorePatternTool(svc).Definition(), "store_pattern", []string{"name", "description"}},
		{NewGetPatternsTool(svc).Definition(), "get_patterns", nil},
		{NewSetContextTool(svc).Definition(), "set_context", []string{"key", "value"}},
		{NewGetContextTool(svc).Definition(), "get_context", nil},
		{NewMemoryStatsTool(svc).Definition(), "memory_stats", nil},
		{NewExportTool(svc).Definition(), "export_memory", nil},
		{NewImportTool(svc).Definition(), "import_memory", []string{"data"}},
		{NewHealthCheckTool(svc).Definition(), "health_check", nil},
		{NewPurgeTool(svc).Definition(), "purge_memory", []string{"confirm"}},
	}
	for _, c := range cases {
		if c.def.Name != c.name {
			t.Errorf("tool name = %q, want %q", c.def.Name, c.name)
		}
		for _, want := range c.required {
			found := false
			for _, r := range c.def.InputSchema.Required {
				if r == want {
					found = true
				}
			}
			if !found {
				t.Errorf("%s: %q should be required", c.name, want)
			}
		}
	}
}

// ─── Decisions ───────────────────────────────────────────────────────────────

func TestRememberAndRecall(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	res, err := NewRememberDecisionTool(svc).Handle(ctx, makeReq(map[string]interface{}{
		"decision":  "Use SQLite",
		"rationale": "embedded, zero ops",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "Decision recorded") {
		t.Errorf("response = %q", resultText(res))
	}

	res, err = NewRecallDecisionsTool(svc).Handle(ctx, makeReq(map[string]interface{}{
		"keyword": "sqlite",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(res), "Use SQLite") {
		t.Errorf("recall response = %q", resultText(res))
	}
}

func TestRememberDecision_MissingArg(t *testing.T) {
	svc := newTestService(t, nil)

	res, err := NewRememberDecisionTool(svc).Handle(context.Background(), makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("missing 'decision' should produce a tool error")
	}
}

// ─── Patterns and context ────────────────────────────────────────────────────

func TestStorePattern_CapacityErrorTagged(t *testing.T) {
	svc := newTestService(t, func(c *config.Config) { c.MaxPatterns = 1 })
	ctx := context.Background()
	tool := NewStorePatternTool(svc)

	res, err := tool.Handle(ctx, makeReq(map[string]interface{}{
		"name": "first", "description": "d",
	}))
	if err != nil || res.IsError {
		t.Fatalf("first pattern should store: %v / %s", err, resultText(res))
	}

	res, err = tool.Handle(ctx, makeReq(map[string]interface{}{
		"name": "second", "description": "d",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(res), "CAPACITY_ERROR") {
		t.Errorf("response = %q, want CAPACITY_ERROR tag", resultText(res))
	}
}

func TestSetContext_InvalidKeyTagged(t *testing.T) {
	svc := newTestService(t, nil)

	res, err := NewSetContextTool(svc).Handle(context.Background(), makeReq(map[string]interface{}{
		"key": "bad key!", "value": "v",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(res), "VALIDATION_ERROR") {
		t.Errorf("response = %q, want VALIDATION_ERROR tag", resultText(res))
	}
	if !strings.Contains(resultText(res), "request ") {
		t.Errorf("error should carry a request id: %q", resultText(res))
	}
}

// ─── Stats and health ────────────────────────────────────────────────────────

func TestMemoryStats(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Store.SetContext("k", "v"); err != nil {
		t.Fatal(err)
	}
	res, err := NewMemoryStatsTool(svc).Handle(ctx, makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if !strings.Contains(text, "Context keys: 1 / 50") {
		t.Errorf("stats = %q", text)
	}
}

func TestHealthCheck_WedgedPoolReportsUnhealthy(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	p, err := pool.New(ctx, svc.Store.DB(), 1, 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	svc.Pool = p

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(conn)

	res, err := NewHealthCheckTool(svc).Handle(ctx, makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("health with a wedged pool must be a report, not an error: %s", resultText(res))
	}
	text := resultText(res)
	if !strings.Contains(text, "Status: unhealthy") {
		t.Errorf("health = %q, want unhealthy status", text)
	}
	if !strings.Contains(text, "Pool:       FAILED") {
		t.Errorf("health = %q, want failed pool check", text)
	}
}

func TestHealthCheck_Healthy(t *testing.T) {
	svc := newTestService(t, nil)

	res, err := NewHealthCheckTool(svc).Handle(context.Background(), makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(res), "Status: healthy") {
		t.Errorf("health = %q", resultText(res))
	}
}

// ─── Export / import ─────────────────────────────────────────────────────────

func TestExportImport_ThroughTools(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Store.RememberDecision(memory.RememberDecisionParams{Decision: "D"}); err != nil {
		t.Fatal(err)
	}

	res, err := NewExportTool(svc).Handle(ctx, makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	snapshot := resultText(res)
	var data memory.ExportData
	if err := json.Unmarshal([]byte(snapshot), &data); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	dst := newTestService(t, nil)
	res, err = NewImportTool(dst).Handle(ctx, makeReq(map[string]interface{}{
		"data": snapshot,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(res), "Imported 1 decisions") {
		t.Errorf("import response = %q", resultText(res))
	}
}

func TestImport_BadJSONTagged(t *testing.T) {
	svc := newTestService(t, nil)

	res, err := NewImportTool(svc).Handle(context.Background(), makeReq(map[string]interface{}{
		"data": "{not json",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(res), "VALIDATION_ERROR") {
		t.Errorf("response = %q", resultText(res))
	}
}

// ─── Purge ───────────────────────────────────────────────────────────────────

func TestPurge_RequiresExactToken(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	tool := NewPurgeTool(svc)

	if _, err := svc.Store.SetContext("k", "v"); err != nil {
		t.Fatal(err)
	}

	for _, bad := range []string{"", "confirm_purge", "CONFIRM", "yes"} {
		res, err := tool.Handle(ctx, makeReq(map[string]interface{}{"confirm": bad}))
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError || !strings.Contains(resultText(res), "PERMISSION_ERROR") {
			t.Errorf("confirm=%q: response = %q, want PERMISSION_ERROR", bad, resultText(res))
		}
	}
	entries, err := svc.Store.GetContext("k")
	if err != nil || len(entries) != 1 {
		t.Fatal("rejected purge must not delete anything")
	}

	res, err := tool.Handle(ctx, makeReq(map[string]interface{}{"confirm": PurgeConfirmToken}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("purge with exact token failed: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "1 context keys deleted") {
		t.Errorf("purge response = %q", resultText(res))
	}
}

// ─── Gates ───────────────────────────────────────────────────────────────────

func TestRateLimit_RejectionThroughHandler(t *testing.T) {
	svc := newTestService(t, nil)
	svc.Limiter = ratelimit.New(1, time.Minute)
	ctx := context.Background()
	tool := NewRememberDecisionTool(svc)

	res, err := tool.Handle(ctx, makeReq(map[string]interface{}{"decision": "first"}))
	if err != nil || res.IsError {
		t.Fatalf("first call should pass: %v / %s", err, resultText(res))
	}
	res, err = tool.Handle(ctx, makeReq(map[string]interface{}{"decision": "second"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(res), "RATE_LIMIT_EXCEEDED") {
		t.Errorf("response = %q, want RATE_LIMIT_EXCEEDED", resultText(res))
	}
}

func TestRateLimit_ExemptOperations(t *testing.T) {
	svc := newTestService(t, nil)
	svc.Limiter = ratelimit.New(1, time.Minute)
	ctx := context.Background()

	// Burn the whole quota.
	if d := svc.Limiter.Allow("remember_decision"); !d.Allowed {
		t.Fatal("setup call should be allowed")
	}

	res, err := NewMemoryStatsTool(svc).Handle(ctx, makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Errorf("memory_stats must bypass the limiter: %s", resultText(res))
	}
	res, err = NewHealthCheckTool(svc).Handle(ctx, makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Errorf("health_check must bypass the limiter: %s", resultText(res))
	}
}

func TestReadOnly_RejectsWritesAllowsReads(t *testing.T) {
	svc := newTestService(t, func(c *config.Config) { c.ReadOnly = true })
	ctx := context.Background()

	writes := []struct {
		name string
		res  func() (*mcp.CallToolResult, error)
	}{
		{"remember_decision", func() (*mcp.CallToolResult, error) {
			return NewRememberDecisionTool(svc).Handle(ctx, makeReq(map[string]interface{}{"decision": "d"}))
		}},
		{"store_pattern", func() (*mcp.CallToolResult, error) {
			return NewStorePatternTool(svc).Handle(ctx, makeReq(map[string]interface{}{"name": "p", "description": "d"}))
		}},
		{"set_context", func() (*mcp.CallToolResult, error) {
			return NewSetContextTool(svc).Handle(ctx, makeReq(map[string]interface{}{"key": "k", "value": "v"}))
		}},
		{"import_memory", func() (*mcp.CallToolResult, error) {
			return NewImportTool(svc).Handle(ctx, makeReq(map[string]interface{}{"data": `{"version":"1.0"}`}))
		}},
		{"purge_memory", func() (*mcp.CallToolResult, error) {
			return NewPurgeTool(svc).Handle(ctx, makeReq(map[string]interface{}{"confirm": PurgeConfirmToken}))
		}},
	}
	for _, w := range writes {
		res, err := w.res()
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError || !strings.Contains(resultText(res), "PERMISSION_ERROR") {
			t.Errorf("%s in read-only mode: response = %q, want PERMISSION_ERROR", w.name, resultText(res))
		}
	}

	res, err := NewGetContextTool(svc).Handle(ctx, makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Errorf("reads must work in read-only mode: %s", resultText(res))
	}
	res, err = NewExportTool(svc).Handle(ctx, makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Errorf("export must work in read-only mode: %s", resultText(res))
	}
}
