// Package tools implements the MCP tools that drive the change pipeline.
//
// Each tool is a struct holding the pipeline, with Definition() returning
// the mcp.Tool schema and Handle() processing a call. Pipeline failures are
// reported as tool errors, never as protocol errors.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/forge/internal/oplog"
)

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// opsArg decodes an array of operations in their wire shape.
func opsArg(req mcp.CallToolRequest, key string) ([]oplog.Operation, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("'%s' is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding '%s': %w", key, err)
	}
	var ops []oplog.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("'%s' must be an array of operations: %w", key, err)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("'%s' must not be empty", key)
	}
	return ops, nil
}

// opsSchema describes one operation for array parameters.
func opsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":      map[string]any{"type": "string"},
			"kind":           map[string]any{"type": "string", "enum": []string{"insert", "delete", "replace"}},
			"position":       map[string]any{"type": "integer", "description": "Rune offset into the current text"},
			"length":         map[string]any{"type": "integer", "description": "Runes removed by delete or replace"},
			"content":        map[string]any{"type": "string"},
			"peer_id":        map[string]any{"type": "string", "description": "Set only for operations authored by another peer"},
			"lamport_clock":  map[string]any{"type": "integer", "description": "Zero or absent for local operations"},
			"local_sequence": map[string]any{"type": "integer"},
			"context":        map[string]any{"type": "object", "description": "Version vector of the author"},
		},
		"required": []string{"file_path", "kind"},
	}
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
