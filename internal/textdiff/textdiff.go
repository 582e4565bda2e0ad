// Package textdiff computes line-level differences between two versions of
// a text file.
//
// Opcodes come from go-difflib's SequenceMatcher; unified output is parsed
// back with sourcegraph/go-diff when callers need line statistics. Both the
// classifier (voters receive a FileDiff) and the snapshot store (Diff, Merge)
// share these types so a diff means the same thing everywhere.
package textdiff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// HunkOp is the kind of a line-level change.
type HunkOp string

const (
	OpEqual   HunkOp = "equal"
	OpInsert  HunkOp = "insert"
	OpDelete  HunkOp = "delete"
	OpReplace HunkOp = "replace"
)

// Hunk is a single opcode over 0-based, end-exclusive line ranges.
type Hunk struct {
	Op       HunkOp `json:"op"`
	OldStart int    `json:"old_start"`
	OldEnd   int    `json:"old_end"`
	NewStart int    `json:"new_start"`
	NewEnd   int    `json:"new_end"`
}

// FileDiff is the line-level difference for one file.
type FileDiff struct {
	Path    string `json:"path"`
	OldHash string `json:"old_hash,omitempty"`
	NewHash string `json:"new_hash,omitempty"`
	Old     string `json:"-"`
	New     string `json:"-"`
	Hunks   []Hunk `json:"hunks"`
}

// Stats counts changed lines as reported by a unified diff parser.
type Stats struct {
	Added   int `json:"added"`
	Changed int `json:"changed"`
	Deleted int `json:"deleted"`
}

// Total returns the number of lines touched.
func (s Stats) Total() int { return s.Added + s.Changed + s.Deleted }

// Compute returns the line diff between old and new. Only non-equal hunks
// are kept.
func Compute(path, oldText, newText string) FileDiff {
	d := FileDiff{Path: path, Old: oldText, New: newText}
	if oldText == newText {
		return d
	}

	m := difflib.NewMatcher(SplitLines(oldText), SplitLines(newText))
	for _, oc := range m.GetOpCodes() {
		if oc.Tag == 'e' {
			continue
		}
		d.Hunks = append(d.Hunks, Hunk{
			Op:       tagOp(oc.Tag),
			OldStart: oc.I1,
			OldEnd:   oc.I2,
			NewStart: oc.J1,
			NewEnd:   oc.J2,
		})
	}
	return d
}

// Changed reports whether the two sides differ at all.
func (d FileDiff) Changed() bool {
	return d.Old != d.New
}

// FirstChangedLine returns the 1-based line in the new text where the first
// change starts, or 0 when nothing changed.
func (d FileDiff) FirstChangedLine() int {
	if !d.Changed() {
		return 0
	}
	if len(d.Hunks) == 0 {
		// Line contents equal, only the trailing newline differs.
		return max(1, len(SplitLines(d.New)))
	}
	return d.Hunks[0].NewStart + 1
}

// Unified renders the diff in unified format with three lines of context.
func (d FileDiff) Unified() string {
	if !d.Changed() {
		return ""
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        terminated(SplitLines(d.Old)),
		B:        terminated(SplitLines(d.New)),
		FromFile: "a/" + d.Path,
		ToFile:   "b/" + d.Path,
		Context:  3,
	})
	if err != nil {
		// difflib only fails on writer errors; a strings.Builder never fails.
		return ""
	}
	return out
}

// Stats parses the unified rendering and counts added/changed/deleted lines.
func (d FileDiff) Stats() (Stats, error) {
	unified := d.Unified()
	if unified == "" {
		return Stats{}, nil
	}
	// go-diff expects the git-style header lines difflib already emits.
	fd, err := diff.ParseFileDiff([]byte(unified))
	if err != nil {
		return Stats{}, fmt.Errorf("textdiff: parse unified diff for %s: %w", d.Path, err)
	}
	st := fd.Stat()
	return Stats{Added: int(st.Added), Changed: int(st.Changed), Deleted: int(st.Deleted)}, nil
}

// SplitLines splits s into lines, keeping line terminators. A trailing
// empty element is dropped, so "" yields no lines.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// LineOf returns the 1-based line number containing rune offset pos in s.
func LineOf(s string, pos int) int {
	line := 1
	i := 0
	for _, r := range s {
		if i >= pos {
			break
		}
		if r == '\n' {
			line++
		}
		i++
	}
	return line
}

func terminated(lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	last := lines[len(lines)-1]
	if !strings.HasSuffix(last, "\n") {
		out := make([]string, len(lines))
		copy(out, lines)
		out[len(out)-1] = last + "\n"
		return out
	}
	return lines
}

func tagOp(tag byte) HunkOp {
	switch tag {
	case 'i':
		return OpInsert
	case 'd':
		return OpDelete
	case 'r':
		return OpReplace
	default:
		return OpEqual
	}
}
