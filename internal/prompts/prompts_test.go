package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, r *mcp.GetPromptResult) string {
	t.Helper()
	if len(r.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(r.Messages))
	}
	tc, ok := r.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", r.Messages[0].Content)
	}
	return tc.Text
}

func TestChangePrompt(t *testing.T) {
	p := NewChangePrompt()
	if name := p.Definition().Name; name != "forge-change" {
		t.Errorf("name = %q", name)
	}

	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"file_path": "main.go", "goal": "rename the handler"}
	r, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := promptText(t, r)
	for _, want := range []string{"`main.go`", "rename the handler", "forge_predict", "forge_apply"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestChangePrompt_RequiresPath(t *testing.T) {
	if _, err := NewChangePrompt().Handle(context.Background(), mcp.GetPromptRequest{}); err == nil {
		t.Error("expected error without file_path")
	}
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	if name := p.Definition().Name; name != "forge-status" {
		t.Errorf("name = %q", name)
	}
	r, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text := promptText(t, r); !strings.Contains(text, "forge://workspace/status") {
		t.Errorf("prompt should reference the status resource: %q", text)
	}
}
