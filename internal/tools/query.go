package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/forge/internal/pipeline"
)

// HistoryTool handles the forge_history MCP tool.
type HistoryTool struct {
	pipeline *pipeline.Pipeline
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(p *pipeline.Pipeline) *HistoryTool {
	return &HistoryTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_history.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_history",
		mcp.WithDescription("List snapshots of a branch, newest first, following first parents."),
		mcp.WithString("branch",
			mcp.Description("Branch name or snapshot id (default: current branch)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries (default: 20, 0 for all)"),
		),
	)
}

// Handle processes the forge_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snaps, err := t.pipeline.History(ctx, req.GetString("branch", ""), intArg(req, "limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history failed: %v", err)), nil
	}

	var b strings.Builder
	for _, s := range snaps {
		fmt.Fprintf(&b, "%s %s %s", shortID(s.ID), s.Timestamp.UTC().Format("2006-01-02 15:04:05"), s.Message)
		if len(s.Parents) > 1 {
			b.WriteString(" (merge)")
		}
		fmt.Fprintf(&b, " [%d files]\n", len(s.Tree))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── DiffTool ───────────────────────────────────────────────────────────────

// DiffTool handles the forge_diff MCP tool.
type DiffTool struct {
	pipeline *pipeline.Pipeline
}

// NewDiffTool creates a DiffTool.
func NewDiffTool(p *pipeline.Pipeline) *DiffTool {
	return &DiffTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_diff.
func (t *DiffTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_diff",
		mcp.WithDescription("Show line-level differences between two branches or snapshots as unified diffs."),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Branch name or snapshot id"),
		),
		mcp.WithString("to",
			mcp.Description("Branch name or snapshot id (default: current branch)"),
		),
	)
}

// Handle processes the forge_diff tool call.
func (t *DiffTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from", "")
	if from == "" {
		return mcp.NewToolResultError("'from' is required"), nil
	}
	diffs, err := t.pipeline.Diff(ctx, from, req.GetString("to", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diff failed: %v", err)), nil
	}
	if len(diffs) == 0 {
		return mcp.NewToolResultText("No differences"), nil
	}

	var b strings.Builder
	for _, d := range diffs {
		b.WriteString(d.Unified())
	}
	return mcp.NewToolResultText(b.String()), nil
}
