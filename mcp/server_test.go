package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jbctechsolutions/mizan/config"
	"github.com/jbctechsolutions/mizan/routing"
	"github.com/jbctechsolutions/mizan/telemetry"
)

// newTestServer wires an MCPServer against the shipped config and a canned
// caller so no real backend is reached.
func newTestServer(t *testing.T, tel *telemetry.Collector) *MCPServer {
	t.Helper()

	cfg, err := config.Load("../config")
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	conf := 0.9
	caller := routing.CallerFunc(func(ctx context.Context, backendID, text string, tctx routing.TaskContext) (routing.RawResult, error) {
		return routing.RawResult{Label: "positive", Score: 0.7, Confidence: &conf}, nil
	})

	reg := routing.NewRegistryFromConfig(cfg)
	rtr := routing.NewRouter(cfg, reg, caller, tel, nil)
	return NewMCPServer(cfg, rtr, reg, tel)
}

func callRequest(args map[string]interface{}) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText unpacks the single text content block of a tool result.
func resultText(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(mcpgo.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestHandleFeatures(t *testing.T) {
	s := newTestServer(t, nil)

	res, err := s.handleFeatures(context.Background(), callRequest(map[string]interface{}{
		"text": "عايز أعرف رأيك في الخدمة دي",
	}))
	if err != nil {
		t.Fatalf("handleFeatures: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool reported error: %s", resultText(t, res))
	}

	var f struct {
		LengthTokens   int     `json:"length_tokens"`
		ScriptRatio    float64 `json:"script_ratio"`
		DialectDensity float64 `json:"dialect_density"`
		Region         string  `json:"detected_region"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &f); err != nil {
		t.Fatalf("decoding features: %v", err)
	}
	if f.LengthTokens == 0 {
		t.Error("expected non-zero token count")
	}
	if f.ScriptRatio != 1.0 {
		t.Errorf("script ratio = %.2f, want 1.0 for pure Arabic", f.ScriptRatio)
	}
	if f.Region != "egyptian" {
		t.Errorf("region = %q, want egyptian", f.Region)
	}
}

func TestHandleFeaturesMissingText(t *testing.T) {
	s := newTestServer(t, nil)

	res, err := s.handleFeatures(context.Background(), callRequest(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handleFeatures: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error for missing text argument")
	}
}

func TestHandleBackends(t *testing.T) {
	s := newTestServer(t, nil)

	res, err := s.handleBackends(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handleBackends: %v", err)
	}

	var entries []struct {
		ID        string `json:"id"`
		Available bool   `json:"available"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &entries); err != nil {
		t.Fatalf("decoding backends: %v", err)
	}
	if len(entries) != len(s.cfg.Backends) {
		t.Fatalf("got %d backends, want %d", len(entries), len(s.cfg.Backends))
	}
	for _, e := range entries {
		if !e.Available {
			t.Errorf("backend %s should start available", e.ID)
		}
	}
}

func TestHandleAnalyze(t *testing.T) {
	s := newTestServer(t, nil)

	res, err := s.handleAnalyze(context.Background(), callRequest(map[string]interface{}{
		"text":     "الخدمة ممتازة والله",
		"task":     "quick_classification",
		"deadline": "5s",
	}))
	if err != nil {
		t.Fatalf("handleAnalyze: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool reported error: %s", resultText(t, res))
	}

	var out struct {
		Label   string `json:"primary_label"`
		Routing struct {
			SelectedBackend string `json:"selected_backend_id"`
		} `json:"routing"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decoding analysis: %v", err)
	}
	if out.Label != "positive" {
		t.Errorf("label = %q, want positive", out.Label)
	}
	if out.Routing.SelectedBackend == "" {
		t.Error("routing metadata missing selected backend")
	}
}

func TestHandleAnalyzeInvalidDeadline(t *testing.T) {
	s := newTestServer(t, nil)

	res, err := s.handleAnalyze(context.Background(), callRequest(map[string]interface{}{
		"text":     "نص",
		"deadline": "soonish",
	}))
	if err != nil {
		t.Fatalf("handleAnalyze: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error for unparseable deadline")
	}
	if !strings.Contains(resultText(t, res), "deadline") {
		t.Errorf("error should mention the deadline: %s", resultText(t, res))
	}
}

func TestHandleDecisions(t *testing.T) {
	s := newTestServer(t, nil)

	// Seed one decision through the analyze tool.
	if _, err := s.handleAnalyze(context.Background(), callRequest(map[string]interface{}{
		"text": "نص للتحليل",
	})); err != nil {
		t.Fatalf("seeding analyze: %v", err)
	}

	res, err := s.handleDecisions(context.Background(), callRequest(map[string]interface{}{
		"limit": "5",
	}))
	if err != nil {
		t.Fatalf("handleDecisions: %v", err)
	}

	var records []struct {
		ID        string `json:"id"`
		Succeeded bool   `json:"succeeded"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &records); err != nil {
		t.Fatalf("decoding decisions: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d decisions, want 1", len(records))
	}
	if !records[0].Succeeded {
		t.Error("seeded decision should have succeeded")
	}
}

func TestHandleDecisionsInvalidLimit(t *testing.T) {
	s := newTestServer(t, nil)

	res, err := s.handleDecisions(context.Background(), callRequest(map[string]interface{}{
		"limit": "many",
	}))
	if err != nil {
		t.Fatalf("handleDecisions: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error for non-numeric limit")
	}
}

func TestHandleStatsWithoutTelemetry(t *testing.T) {
	s := newTestServer(t, nil)

	res, err := s.handleStats(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handleStats: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error when telemetry is disabled")
	}
}

func TestHandleStatsWithTelemetry(t *testing.T) {
	tel, err := telemetry.NewCollector(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	t.Cleanup(func() { tel.Close() })

	s := newTestServer(t, tel)

	if _, err := s.handleAnalyze(context.Background(), callRequest(map[string]interface{}{
		"text": "نص",
	})); err != nil {
		t.Fatalf("seeding analyze: %v", err)
	}

	res, err := s.handleStats(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handleStats: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool reported error: %s", resultText(t, res))
	}

	var stats struct {
		TotalRequests int `json:"TotalRequests"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("total requests = %d, want 1", stats.TotalRequests)
	}
}
