// Package resources implements MCP resource handlers for the workspace.
//
// Resources are read-only views the host can pull into context. They use
// forge:// URIs.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/forge/internal/pipeline"
)

// StatusURI addresses the workspace status resource.
const StatusURI = "forge://workspace/status"

// Handler serves workspace resources.
type Handler struct {
	pipeline *pipeline.Pipeline
}

// NewHandler creates a resource Handler.
func NewHandler(p *pipeline.Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// StatusResource returns the MCP resource definition for workspace status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		StatusURI,
		"Forge Workspace Status",
		mcp.WithResourceDescription("Current branch, head and epoch snapshots, Lamport clock, uncommitted files, voters and vetoes"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the workspace status as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	st, err := h.pipeline.Status(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func errorResource(uri, msg string) []mcp.ResourceContents {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}
}
