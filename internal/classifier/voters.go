package classifier

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/forge/internal/textdiff"
)

// Func adapts a function to the Voter interface.
type Func struct {
	Name string
	Fn   func(ctx context.Context, path string, d textdiff.FileDiff) (Vote, error)
}

func (f Func) ID() string { return f.Name }

func (f Func) Evaluate(ctx context.Context, path string, d textdiff.FileDiff) (Vote, error) {
	return f.Fn(ctx, path, d)
}

// Fixed returns a voter that always casts the same verdict.
func Fixed(id string, verdict Verdict, reason string) Voter {
	return Func{Name: id, Fn: func(context.Context, string, textdiff.FileDiff) (Vote, error) {
		return Vote{Verdict: verdict, Reason: reason}, nil
	}}
}

// PathVoter classifies by file name. Docs, styles, assets and tests are
// green; schema and migration formats are red; source files are yellow,
// or red when their path suggests an API or type definition.
type PathVoter struct {
	GreenSuffixes []string
	RedSuffixes   []string
	CodeSuffixes  []string
	APIHints      []string
}

// NewPathVoter returns a PathVoter with the default rules.
func NewPathVoter() *PathVoter {
	return &PathVoter{
		GreenSuffixes: []string{
			".md", ".txt", ".json",
			".css", ".scss", ".less",
			".png", ".jpg", ".svg", ".ico",
			".test.ts", ".test.js", ".spec.ts", ".spec.js", "_test.go",
		},
		RedSuffixes:  []string{".proto", ".graphql", ".gql", ".sql"},
		CodeSuffixes: []string{".ts", ".tsx", ".js", ".jsx", ".rs", ".go", ".py", ".java", ".cpp", ".c", ".h"},
		APIHints:     []string{"api", "interface", "types", "schema"},
	}
}

func (v *PathVoter) ID() string { return "path" }

func (v *PathVoter) Evaluate(_ context.Context, path string, _ textdiff.FileDiff) (Vote, error) {
	lower := strings.ToLower(path)
	if hasAnySuffix(lower, v.GreenSuffixes) {
		return Vote{Verdict: Green}, nil
	}
	if hasAnySuffix(lower, v.RedSuffixes) {
		return Vote{Verdict: Red, Reason: fmt.Sprintf("breaking change potential: %s file modification", strings.TrimPrefix(filepath.Ext(lower), "."))}, nil
	}
	if hasAnySuffix(lower, v.CodeSuffixes) {
		for _, hint := range v.APIHints {
			if strings.Contains(lower, hint) {
				return Vote{Verdict: Red, Reason: "API/type definition file modification"}, nil
			}
		}
		return Vote{Verdict: Yellow, Reason: "source file may need review"}, nil
	}
	return Vote{Verdict: Yellow, Reason: "unknown file type"}, nil
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// SizeVoter votes yellow when a diff touches more than MaxLines lines.
type SizeVoter struct {
	MaxLines int
}

func (v SizeVoter) ID() string { return "size" }

func (v SizeVoter) Evaluate(_ context.Context, _ string, d textdiff.FileDiff) (Vote, error) {
	st, err := d.Stats()
	if err != nil {
		return Vote{}, err
	}
	if v.MaxLines > 0 && st.Total() > v.MaxLines {
		return Vote{
			Verdict: Yellow,
			Reason:  fmt.Sprintf("%d lines changed (+%d ~%d -%d), limit %d", st.Total(), st.Added, st.Changed, st.Deleted, v.MaxLines),
		}, nil
	}
	return Vote{Verdict: Green}, nil
}

// MarkerVoter votes red when the new text contains unresolved merge
// conflict markers.
type MarkerVoter struct{}

func (MarkerVoter) ID() string { return "markers" }

func (MarkerVoter) Evaluate(_ context.Context, _ string, d textdiff.FileDiff) (Vote, error) {
	for i, line := range textdiff.SplitLines(d.New) {
		if strings.HasPrefix(line, "<<<<<<<") || strings.HasPrefix(line, ">>>>>>>") {
			return Vote{Verdict: Red, Reason: fmt.Sprintf("conflict marker at line %d", i+1)}, nil
		}
	}
	return Vote{Verdict: Green}, nil
}
