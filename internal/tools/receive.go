package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/forge/internal/pipeline"
)

// ReceiveTool handles the forge_receive MCP tool.
type ReceiveTool struct {
	pipeline *pipeline.Pipeline
}

// NewReceiveTool creates a ReceiveTool.
func NewReceiveTool(p *pipeline.Pipeline) *ReceiveTool {
	return &ReceiveTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_receive.
func (t *ReceiveTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_receive",
		mcp.WithDescription(
			"Integrate operations sent by another peer. They are merged into the log but not committed; "+
				"the next forge_apply touching the same files commits them. Operations whose ancestors "+
				"have not arrived wait in a pending buffer.",
		),
		mcp.WithArray("ops",
			mcp.Required(),
			mcp.Description("Peer sync messages with peer_id, lamport_clock, local_sequence and context set"),
			mcp.Items(opsSchema()),
		),
	)
}

// Handle processes the forge_receive tool call.
func (t *ReceiveTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ops, err := opsArg(req, "ops")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := t.pipeline.Receive(ops)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("receive failed after %d operations: %v", n, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Integrated %d of %d operations", n, len(ops))), nil
}
