package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/forge/internal/pipeline"
)

// ApplyTool handles the forge_apply MCP tool.
type ApplyTool struct {
	pipeline *pipeline.Pipeline
}

// NewApplyTool creates an ApplyTool.
func NewApplyTool(p *pipeline.Pipeline) *ApplyTool {
	return &ApplyTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_apply.
func (t *ApplyTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_apply",
		mcp.WithDescription(
			"Apply a batch of text operations to the workspace. The batch is merged with concurrent edits, "+
				"classified by the registered voters and committed as a snapshot on the current branch when green. "+
				"Yellow needs approve=true. Red, or a file changed by a concurrent commit, rejects the whole batch "+
				"and returns the conflicts.",
		),
		mcp.WithArray("ops",
			mcp.Required(),
			mcp.Description("Operations in order. Positions are rune offsets into the text after the previous operation."),
			mcp.Items(opsSchema()),
		),
		mcp.WithString("message",
			mcp.Description("Snapshot message (default: 'apply <files>')"),
		),
		mcp.WithBoolean("approve",
			mcp.Description("Commit even when the verdict is yellow"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Skip classification entirely. Reserved for privileged callers."),
		),
	)
}

// Handle processes the forge_apply tool call.
func (t *ApplyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ops, err := opsArg(req, "ops")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	prop := pipeline.Proposal{
		Ops:     ops,
		Message: req.GetString("message", ""),
		Approve: boolArg(req, "approve", false),
	}

	var res *pipeline.Result
	if boolArg(req, "force", false) {
		res, err = t.pipeline.Force(ctx, prop)
	} else {
		res, err = t.pipeline.Apply(ctx, prop)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("apply failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResult(res)), nil
}

// formatResult summarizes a pipeline result for the caller.
func formatResult(res *pipeline.Result) string {
	var b strings.Builder
	switch {
	case res.Committed:
		fmt.Fprintf(&b, "Committed snapshot %s", shortID(res.Snapshot.ID))
	case len(res.Conflicts) > 0:
		fmt.Fprintf(&b, "Rejected (%d conflicts)", len(res.Conflicts))
	default:
		b.WriteString("No changes to commit")
	}
	if res.Verdict != "" {
		fmt.Fprintf(&b, "\nVerdict: %s", res.Verdict)
	}
	fmt.Fprintf(&b, "\nOperations: %d applied, %d skipped", len(res.Applied), res.Skipped)
	if res.Duplicates > 0 {
		fmt.Fprintf(&b, ", %d already integrated", res.Duplicates)
	}
	if res.Attempts > 1 {
		fmt.Fprintf(&b, "\nCommit attempts: %d", res.Attempts)
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(&b, "\n- %s:%d %s", c.Path, c.Line, c.Reason)
	}
	return b.String()
}
