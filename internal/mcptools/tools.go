// Package mcptools exposes read-only views of sessions, datasets and QC
// statistics as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/analytics"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/dataset"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/extraction"
	"github.com/joseph-ayodele/thermo-extraction/internal/stats"
)

type Tools struct {
	sessions  *extraction.Service
	datasets  *dataset.Service
	analytics *analytics.Service
	logger    *slog.Logger
}

func New(sessions *extraction.Service, datasets *dataset.Service, an *analytics.Service, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{sessions: sessions, datasets: datasets, analytics: an, logger: logger}
}

// NewServer registers every tool on a fresh MCP server.
func (t *Tools) NewServer(name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	t.Register(s)
	return s
}

func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get one extraction session with its state, stage timestamps and paper metadata."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id, e.g. extract-AbC123xyz_")),
	), t.getSession)

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recent extraction sessions, newest first."),
		mcp.WithString("state", mcp.Description("Only sessions in this lifecycle state")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows, default 50, at most 200")),
	), t.listSessions)

	s.AddTool(mcp.NewTool("session_state_counts",
		mcp.WithDescription("Count sessions per lifecycle state."),
	), t.stateCounts)

	s.AddTool(mcp.NewTool("get_session_costs",
		mcp.WithDescription("AI token usage and estimated USD cost of a session, per stage."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), t.sessionCosts)

	s.AddTool(mcp.NewTool("list_dataset_files",
		mcp.WithDescription("List the files stored for a loaded dataset."),
		mcp.WithString("dataset_id", mcp.Required(), mcp.Description("Dataset UUID")),
		mcp.WithString("category", mcp.Description("Only files of this category, e.g. csv, pdf, image")),
	), t.datasetFiles)

	s.AddTool(mcp.NewTool("qc_stats",
		mcp.WithDescription("Control-chart statistics over coefficient-of-variation values of QC test configurations."),
		mcp.WithString("dataset", mcp.Description("curated (default) or all")),
		mcp.WithString("manufacturer_id", mcp.Description("Positive integer manufacturer filter")),
		mcp.WithString("assay_id", mcp.Description("Positive integer assay filter")),
	), t.qcStats)
}

func (t *Tools) getSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := t.sessions.Get(ctx, id)
	return t.result(ctx, "get_session", sess, err)
}

func (t *Tools) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := t.sessions.List(ctx, req.GetString("state", ""), req.GetInt("limit", 0))
	if err != nil {
		return t.result(ctx, "list_sessions", nil, err)
	}
	return t.result(ctx, "list_sessions", map[string]any{"sessions": list, "count": len(list)}, nil)
}

func (t *Tools) stateCounts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := t.sessions.Counts(ctx)
	return t.result(ctx, "session_state_counts", counts, err)
}

func (t *Tools) sessionCosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := t.sessions.Costs(ctx, id)
	return t.result(ctx, "get_session_costs", b, err)
}

func (t *Tools) datasetFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("dataset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := t.datasets.ListFiles(ctx, id, req.GetString("category", ""))
	return t.result(ctx, "list_dataset_files", list, err)
}

func (t *Tools) qcStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := t.analytics.Stats(ctx, analytics.StatsRequest{
		Dataset:        req.GetString("dataset", ""),
		ManufacturerID: req.GetString("manufacturer_id", ""),
		AssayID:        req.GetString("assay_id", ""),
	})
	var se *stats.Error
	if errors.As(err, &se) {
		return mcp.NewToolResultError(string(se.Type) + ": " + se.Error()), nil
	}
	return t.result(ctx, "qc_stats", rep, err)
}

// result renders v as indented JSON. Service errors become tool errors so
// the client sees the message.
func (t *Tools) result(ctx context.Context, tool string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		common.LoggerFromContext(ctx, t.logger).Warn("mcp.tool.failed", "tool", tool, "error", err)
		return mcp.NewToolResultError(common.MessageOf(err)), nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
