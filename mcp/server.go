package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jbctechsolutions/mizan/config"
	"github.com/jbctechsolutions/mizan/routing"
	"github.com/jbctechsolutions/mizan/telemetry"
)

// MCPServer exposes the analysis engine over the Model Context Protocol
// using stdio transport. It registers five tools: analyze, features,
// backends, decisions, and stats.
type MCPServer struct {
	cfg       *config.Config
	router    *routing.Router
	registry  *routing.Registry
	extractor *routing.Extractor
	telemetry *telemetry.Collector
}

// NewMCPServer constructs an MCPServer from already-initialized
// dependencies. The caller loads config and wires the router, registry, and
// optional telemetry collector first.
func NewMCPServer(
	cfg *config.Config,
	rtr *routing.Router,
	reg *routing.Registry,
	tel *telemetry.Collector,
) *MCPServer {
	return &MCPServer{
		cfg:       cfg,
		router:    rtr,
		registry:  reg,
		extractor: routing.NewExtractor(cfg.Lexicon),
		telemetry: tel,
	}
}

// Start registers all tools with a new MCP server and begins serving
// requests over stdio. It blocks until stdin is closed or an error occurs.
func (m *MCPServer) Start() error {
	s := server.NewMCPServer(
		"mizan",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcpgo.NewTool("analyze",
		mcpgo.WithDescription("Route a text to the best analysis backend and return the result with routing metadata"),
		mcpgo.WithString("text",
			mcpgo.Required(),
			mcpgo.Description("The text to analyze"),
		),
		mcpgo.WithString("task",
			mcpgo.Description("Task type: quick_classification, deep_analysis, cultural_analysis, or generic"),
		),
		mcpgo.WithString("deadline",
			mcpgo.Description("Max time to wait, as a Go duration (default 30s)"),
		),
		mcpgo.WithBoolean("consensus",
			mcpgo.Description("Force multi-strategy consensus"),
		),
	), m.handleAnalyze)

	s.AddTool(mcpgo.NewTool("features",
		mcpgo.WithDescription("Extract the routing feature vector from a text without invoking any backend"),
		mcpgo.WithString("text",
			mcpgo.Required(),
			mcpgo.Description("The text to extract features from"),
		),
	), m.handleFeatures)

	s.AddTool(mcpgo.NewTool("backends",
		mcpgo.WithDescription("List registered backends with strengths, limits, and current health"),
	), m.handleBackends)

	s.AddTool(mcpgo.NewTool("decisions",
		mcpgo.WithDescription("Show recent routing decisions from the in-memory history"),
		mcpgo.WithString("limit",
			mcpgo.Description("Maximum number of decisions to return (default 10)"),
		),
	), m.handleDecisions)

	s.AddTool(mcpgo.NewTool("stats",
		mcpgo.WithDescription("Show aggregate routing statistics from persistent telemetry"),
		mcpgo.WithString("backend",
			mcpgo.Description("Filter stats by backend ID"),
		),
	), m.handleStats)

	return server.ServeStdio(s)
}

// handleAnalyze runs the full engine against the configured backends.
func (m *MCPServer) handleAnalyze(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	tctx := routing.TaskContext{
		TaskType:      routing.TaskType(req.GetString("task", string(routing.TaskGeneric))),
		WantConsensus: req.GetBool("consensus", false),
	}
	if d := req.GetString("deadline", ""); d != "" {
		dur, parseErr := time.ParseDuration(d)
		if parseErr != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("invalid deadline: %v", parseErr)), nil
		}
		tctx.Deadline = dur
	}

	result, err := m.router.Analyze(ctx, text, tctx)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("analyze: %v", err)), nil
	}

	b, err := json.Marshal(result)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// featuresResult is the JSON shape returned by the features tool.
type featuresResult struct {
	LengthTokens    int     `json:"length_tokens"`
	ScriptRatio     float64 `json:"script_ratio"`
	DialectDensity  float64 `json:"dialect_density"`
	ComplexityScore float64 `json:"complexity_score"`
	Region          string  `json:"detected_region,omitempty"`
}

// handleFeatures runs feature extraction only — no backend is invoked.
func (m *MCPServer) handleFeatures(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	f := m.extractor.Extract(text)
	result := featuresResult{
		LengthTokens:    f.LengthTokens,
		ScriptRatio:     f.ScriptRatio,
		DialectDensity:  f.DialectDensity,
		ComplexityScore: f.ComplexityScore,
		Region:          f.Region,
	}

	b, err := json.Marshal(result)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// backendEntry is the JSON shape for one backend in the backends tool reply.
type backendEntry struct {
	ID             string             `json:"id"`
	Strengths      map[string]float64 `json:"strengths"`
	MaxInputTokens int                `json:"max_input_tokens"`
	AvgLatencyMs   int                `json:"avg_latency_ms"`
	Available      bool               `json:"available"`
}

// handleBackends returns a snapshot of every registered backend profile.
func (m *MCPServer) handleBackends(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	profiles := m.registry.List()
	entries := make([]backendEntry, 0, len(profiles))
	for _, p := range profiles {
		entries = append(entries, backendEntry{
			ID:             p.ID,
			Strengths:      p.Strengths,
			MaxInputTokens: p.MaxInputTokens,
			AvgLatencyMs:   p.AvgLatencyMs,
			Available:      p.Available,
		})
	}

	b, err := json.Marshal(entries)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// handleDecisions returns recent decisions from the in-memory ring buffer.
func (m *MCPServer) handleDecisions(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	limit := 10
	if s := req.GetString("limit", ""); s != "" {
		if _, err := fmt.Sscanf(s, "%d", &limit); err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("invalid limit: %q", s)), nil
		}
	}

	b, err := json.Marshal(m.router.GetRecentDecisions(limit))
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// handleStats returns aggregate statistics from the telemetry collector.
func (m *MCPServer) handleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if m.telemetry == nil {
		return mcpgo.NewToolResultError("telemetry collector not available"), nil
	}

	stats, err := m.telemetry.GetStats(req.GetString("backend", ""))
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("get stats: %v", err)), nil
	}

	b, err := json.Marshal(stats)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}
