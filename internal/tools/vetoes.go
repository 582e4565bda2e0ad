package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/forge/internal/classifier"
)

// VetoTool handles the forge_veto MCP tool.
type VetoTool struct {
	classifier *classifier.Classifier
}

// NewVetoTool creates a VetoTool.
func NewVetoTool(c *classifier.Classifier) *VetoTool {
	return &VetoTool{classifier: c}
}

// Definition returns the MCP tool definition for forge_veto.
func (t *VetoTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_veto",
		mcp.WithDescription("Force every change to a file to red until the veto is cleared or votes are reset."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("File path to veto"),
		),
		mcp.WithString("voter_id",
			mcp.Description("Who is vetoing (default: 'user')"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the file is vetoed"),
		),
		mcp.WithBoolean("clear",
			mcp.Description("Remove the veto instead of setting it"),
		),
	)
}

// Handle processes the forge_veto tool call.
func (t *VetoTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("file_path", "")
	if path == "" {
		return mcp.NewToolResultError("'file_path' is required"), nil
	}
	if boolArg(req, "clear", false) {
		t.classifier.ClearVeto(path)
		return mcp.NewToolResultText(fmt.Sprintf("Veto cleared on %s", path)), nil
	}
	voter := req.GetString("voter_id", "user")
	t.classifier.Veto(path, voter, req.GetString("reason", ""))
	return mcp.NewToolResultText(fmt.Sprintf("Vetoed %s (by %s)", path, voter)), nil
}

// ResetVotesTool handles the forge_reset_votes MCP tool.
type ResetVotesTool struct {
	classifier *classifier.Classifier
}

// NewResetVotesTool creates a ResetVotesTool.
func NewResetVotesTool(c *classifier.Classifier) *ResetVotesTool {
	return &ResetVotesTool{classifier: c}
}

// Definition returns the MCP tool definition for forge_reset_votes.
func (t *ResetVotesTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_reset_votes",
		mcp.WithDescription("Clear every veto and cached prediction. Registered voters stay."),
	)
}

// Handle processes the forge_reset_votes tool call.
func (t *ResetVotesTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := len(t.classifier.Vetoes())
	t.classifier.Reset()
	return mcp.NewToolResultText(fmt.Sprintf("Votes reset (%d vetoes cleared)", n)), nil
}
