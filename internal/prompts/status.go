package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the forge-status MCP prompt.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("forge-status",
		mcp.WithPromptDescription(
			"Summarize the workspace: current branch, recent snapshots, "+
				"uncommitted operations and active vetoes.",
		),
	)
}

// Handle processes the forge-status prompt request.
func (p *StatusPrompt) Handle(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Forge Workspace Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please read the `forge://workspace/status` resource and run `forge_history` with limit=5.\n\n" +
						"Then:\n" +
						"1. Show the current branch and head snapshot\n" +
						"2. List uncommitted files and explain that checkout and merge are blocked until they are applied\n" +
						"3. List active vetoes with who set them and why\n" +
						"4. Summarize the last snapshots in one line each",
				),
			},
		},
	}, nil
}
