package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/forge/internal/pipeline"
)

// PredictTool handles forge_predict and forge_is_safe. Both classify a
// whole-file replacement against the current head without touching the log.
type PredictTool struct {
	pipeline *pipeline.Pipeline
	safeOnly bool
}

// NewPredictTool creates the forge_predict tool.
func NewPredictTool(p *pipeline.Pipeline) *PredictTool {
	return &PredictTool{pipeline: p}
}

// NewIsSafeTool creates the forge_is_safe tool.
func NewIsSafeTool(p *pipeline.Pipeline) *PredictTool {
	return &PredictTool{pipeline: p, safeOnly: true}
}

// Definition returns the MCP tool definition.
func (t *PredictTool) Definition() mcp.Tool {
	name := "forge_predict"
	desc := "Predict the verdict of replacing a file with new content, with every vote and reason. Nothing is applied."
	if t.safeOnly {
		name = "forge_is_safe"
		desc = "Report whether replacing a file with new content would be classified green. Nothing is applied."
	}
	return mcp.NewTool(name,
		mcp.WithDescription(desc),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("File path relative to the workspace"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Complete proposed file content"),
		),
	)
}

// Handle processes the tool call.
func (t *PredictTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("file_path", "")
	if path == "" {
		return mcp.NewToolResultError("'file_path' is required"), nil
	}
	content := req.GetString("content", "")

	if t.safeOnly {
		safe, err := t.pipeline.IsGuaranteedSafe(ctx, path, content)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("prediction failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%t", safe)), nil
	}

	fv, err := t.pipeline.Predict(ctx, path, content)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("prediction failed: %v", err)), nil
	}
	return jsonResult(fv)
}

// ─── PreviewTool ────────────────────────────────────────────────────────────

// PreviewTool handles the forge_preview MCP tool.
type PreviewTool struct {
	pipeline *pipeline.Pipeline
}

// NewPreviewTool creates a PreviewTool.
func NewPreviewTool(p *pipeline.Pipeline) *PreviewTool {
	return &PreviewTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_preview.
func (t *PreviewTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_preview",
		mcp.WithDescription("Classify a batch of operations as forge_apply would, without integrating or committing anything."),
		mcp.WithArray("ops",
			mcp.Required(),
			mcp.Description("Operations in order, positioned against the current text"),
			mcp.Items(opsSchema()),
		),
	)
}

// Handle processes the forge_preview tool call.
func (t *PreviewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ops, err := opsArg(req, "ops")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.pipeline.Preview(ctx, ops)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("preview failed: %v", err)), nil
	}
	return jsonResult(res)
}
