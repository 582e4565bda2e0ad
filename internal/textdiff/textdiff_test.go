package textdiff_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/HendryAvila/forge/internal/textdiff"
)

func TestCompute_Hunks(t *testing.T) {
	d := textdiff.Compute("a.txt", "a\nb\nc\n", "a\nB\nc\nd\n")

	want := []textdiff.Hunk{
		{Op: textdiff.OpReplace, OldStart: 1, OldEnd: 2, NewStart: 1, NewEnd: 2},
		{Op: textdiff.OpInsert, OldStart: 3, OldEnd: 3, NewStart: 3, NewEnd: 4},
	}
	if diff := cmp.Diff(want, d.Hunks); diff != "" {
		t.Errorf("hunks mismatch (-want +got):\n%s", diff)
	}
	if got := d.FirstChangedLine(); got != 2 {
		t.Errorf("FirstChangedLine = %d, want 2", got)
	}
}

func TestCompute_Unchanged(t *testing.T) {
	d := textdiff.Compute("a.txt", "same\n", "same\n")
	if d.Changed() {
		t.Error("expected no change")
	}
	if len(d.Hunks) != 0 {
		t.Errorf("expected no hunks, got %d", len(d.Hunks))
	}
	if d.FirstChangedLine() != 0 {
		t.Errorf("FirstChangedLine = %d, want 0", d.FirstChangedLine())
	}
	if d.Unified() != "" {
		t.Errorf("expected empty unified diff, got %q", d.Unified())
	}
}

func TestUnified_HasHeaders(t *testing.T) {
	d := textdiff.Compute("dir/a.go", "package a\n", "package b\n")
	u := d.Unified()
	for _, want := range []string{"--- a/dir/a.go", "+++ b/dir/a.go", "-package a", "+package b"} {
		if !strings.Contains(u, want) {
			t.Errorf("unified diff missing %q:\n%s", want, u)
		}
	}
}

func TestStats(t *testing.T) {
	d := textdiff.Compute("a.txt", "1\n2\n3\n", "1\n3\n4\n5\n")
	st, err := d.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total() == 0 {
		t.Fatalf("expected changes, got %+v", st)
	}
	if st.Added == 0 {
		t.Errorf("expected added lines, got %+v", st)
	}

	empty, err := textdiff.Compute("a.txt", "x", "x").Stats()
	if err != nil {
		t.Fatalf("Stats on unchanged: %v", err)
	}
	if empty.Total() != 0 {
		t.Errorf("expected zero stats, got %+v", empty)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\n", []string{"a\n"}},
		{"a\nb", []string{"a\n", "b"}},
		{"a\n\n", []string{"a\n", "\n"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, textdiff.SplitLines(tt.in)); diff != "" {
			t.Errorf("SplitLines(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestLineOf(t *testing.T) {
	s := "ab\ncd\néf"
	tests := []struct {
		pos  int
		want int
	}{
		{0, 1}, {2, 1}, {3, 2}, {5, 2}, {6, 3}, {8, 3}, {100, 3},
	}
	for _, tt := range tests {
		if got := textdiff.LineOf(s, tt.pos); got != tt.want {
			t.Errorf("LineOf(%d) = %d, want %d", tt.pos, got, tt.want)
		}
	}
}
