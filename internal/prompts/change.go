// Package prompts implements MCP prompt handlers for the workspace.
//
// Prompts are user-triggered workflows (like slash commands) that instruct
// the AI to run a sequence of forge tools.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ChangePrompt handles the forge-change MCP prompt.
// It walks the AI through predicting, applying and reporting one edit.
type ChangePrompt struct{}

// NewChangePrompt creates a ChangePrompt.
func NewChangePrompt() *ChangePrompt {
	return &ChangePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ChangePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("forge-change",
		mcp.WithPromptDescription(
			"Make a classified change to a file: preview the verdict, "+
				"apply it as operations and report the snapshot or the conflicts.",
		),
		mcp.WithArgument("file_path",
			mcp.ArgumentDescription("File to change"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What the change should achieve"),
		),
	)
}

// Handle processes the forge-change prompt request.
func (p *ChangePrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	path := req.Params.Arguments["file_path"]
	if path == "" {
		return nil, fmt.Errorf("file_path is required")
	}
	goal := req.Params.Arguments["goal"]
	if goal == "" {
		goal = "ask me what the change should do"
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Change %s", path),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to change `%s`. Goal: %s.\n\n"+
						"Please:\n"+
						"1. Write the new content and run `forge_predict` on it\n"+
						"2. If the verdict is red, show me the reasons and stop\n"+
						"3. Express the edit as insert/delete/replace operations and run `forge_preview`\n"+
						"4. Run `forge_apply` with a short message; set approve=true only if I agreed to a yellow verdict\n"+
						"5. Report the snapshot id, or list every conflict with its line and reason",
					path, goal,
				)),
			},
		},
	}, nil
}
