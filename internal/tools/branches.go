package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/forge/internal/pipeline"
)

// BranchesTool handles the forge_branches MCP tool.
type BranchesTool struct {
	pipeline *pipeline.Pipeline
}

// NewBranchesTool creates a BranchesTool.
func NewBranchesTool(p *pipeline.Pipeline) *BranchesTool {
	return &BranchesTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_branches.
func (t *BranchesTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_branches",
		mcp.WithDescription("List branches with their head snapshots. The current branch is marked with '*'."),
	)
}

// Handle processes the forge_branches tool call.
func (t *BranchesTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branches, err := t.pipeline.Branches(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing branches failed: %v", err)), nil
	}
	var b strings.Builder
	for _, br := range branches {
		mark := " "
		if br.Current {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %s %s\n", mark, br.Name, shortID(br.Head))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── CreateBranchTool ───────────────────────────────────────────────────────

// CreateBranchTool handles the forge_create_branch MCP tool.
type CreateBranchTool struct {
	pipeline *pipeline.Pipeline
}

// NewCreateBranchTool creates a CreateBranchTool.
func NewCreateBranchTool(p *pipeline.Pipeline) *CreateBranchTool {
	return &CreateBranchTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_create_branch.
func (t *CreateBranchTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_create_branch",
		mcp.WithDescription("Create a branch, or delete one with delete=true."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Branch name"),
		),
		mcp.WithString("from",
			mcp.Description("Branch or snapshot id to start from (default: current branch)"),
		),
		mcp.WithBoolean("delete",
			mcp.Description("Delete the branch instead. The current branch cannot be deleted."),
		),
	)
}

// Handle processes the forge_create_branch tool call.
func (t *CreateBranchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	if boolArg(req, "delete", false) {
		if err := t.pipeline.DeleteBranch(ctx, name); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("deleting branch failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Deleted branch %s", name)), nil
	}
	br, err := t.pipeline.CreateBranch(ctx, name, req.GetString("from", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("creating branch failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created branch %s at %s", br.Name, shortID(br.Head))), nil
}

// ─── CheckoutTool ───────────────────────────────────────────────────────────

// CheckoutTool handles the forge_checkout MCP tool.
type CheckoutTool struct {
	pipeline *pipeline.Pipeline
}

// NewCheckoutTool creates a CheckoutTool.
func NewCheckoutTool(p *pipeline.Pipeline) *CheckoutTool {
	return &CheckoutTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_checkout.
func (t *CheckoutTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_checkout",
		mcp.WithDescription("Switch the current branch. Fails while received operations are still uncommitted."),
		mcp.WithString("branch",
			mcp.Required(),
			mcp.Description("Branch to switch to"),
		),
	)
}

// Handle processes the forge_checkout tool call.
func (t *CheckoutTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	if branch == "" {
		return mcp.NewToolResultError("'branch' is required"), nil
	}
	head, err := t.pipeline.Checkout(ctx, branch)
	if err != nil {
		if errors.Is(err, pipeline.ErrUncommitted) {
			return mcp.NewToolResultError(fmt.Sprintf("%v. Commit them with forge_apply first.", err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("checkout failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("On branch %s at %s", branch, shortID(head))), nil
}

// ─── MergeTool ──────────────────────────────────────────────────────────────

// MergeTool handles the forge_merge MCP tool.
type MergeTool struct {
	pipeline *pipeline.Pipeline
}

// NewMergeTool creates a MergeTool.
func NewMergeTool(p *pipeline.Pipeline) *MergeTool {
	return &MergeTool{pipeline: p}
}

// Definition returns the MCP tool definition for forge_merge.
func (t *MergeTool) Definition() mcp.Tool {
	return mcp.NewTool("forge_merge",
		mcp.WithDescription(
			"Three-way merge a source branch into a target branch. A file both sides changed in overlapping "+
				"or adjacent ranges keeps the target's version and is reported as a conflict; the merge snapshot "+
				"is still created.",
		),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Branch to merge from"),
		),
		mcp.WithString("target",
			mcp.Description("Branch to merge into (default: current branch)"),
		),
		mcp.WithString("message",
			mcp.Description("Merge snapshot message"),
		),
	)
}

// Handle processes the forge_merge tool call.
func (t *MergeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := req.GetString("source", "")
	if source == "" {
		return mcp.NewToolResultError("'source' is required"), nil
	}
	res, err := t.pipeline.Merge(ctx, source, req.GetString("target", ""), req.GetString("message", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("merge failed: %v", err)), nil
	}
	if res.AlreadyMerged {
		return mcp.NewToolResultText(fmt.Sprintf("Already up to date with %s", source)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Merged %s as %s", source, shortID(res.Snapshot.ID))
	if len(res.Replayed) > 0 {
		fmt.Fprintf(&b, "\nReplayed from operations: %s", strings.Join(res.Replayed, ", "))
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(&b, "\nCONFLICT %s:%d %s", c.Path, c.Line, c.Reason)
	}
	return mcp.NewToolResultText(b.String()), nil
}
