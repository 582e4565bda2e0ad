package textdiff

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Region is a change one side made to the base, expressed over base lines.
type Region struct {
	Start int      // first base line replaced (0-based)
	End   int      // end-exclusive
	Lines []string // replacement lines
	side  int
}

// MergeConflict describes overlapping edits found by Merge3.
type MergeConflict struct {
	Line   int // 1-based base line
	Reason string
}

// Merge3 performs a line-based three-way merge. Edits from both sides are
// combined when they touch disjoint, non-adjacent base ranges. Edits that
// overlap or abut each other are reported as conflicts unless both sides
// made the exact same edit; in that case merged is meaningless and the
// caller must keep its own version.
func Merge3(base, ours, theirs string) (merged string, conflicts []MergeConflict) {
	baseLines := SplitLines(base)
	regions := append(regionsOf(baseLines, SplitLines(ours), 0), regionsOf(baseLines, SplitLines(theirs), 1)...)
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Start != regions[j].Start {
			return regions[i].Start < regions[j].Start
		}
		return regions[i].side < regions[j].side
	})

	var kept []Region
	for _, r := range regions {
		if len(kept) == 0 {
			kept = append(kept, r)
			continue
		}
		prev := kept[len(kept)-1]
		// Closed-interval test: adjacent edits and two inserts at the same
		// gap count as overlapping.
		if r.Start <= prev.End && prev.Start <= r.End {
			if prev.side != r.side && sameRegion(prev, r) {
				continue
			}
			conflicts = append(conflicts, MergeConflict{
				Line:   min(prev.Start, r.Start) + 1,
				Reason: "both sides edited overlapping or adjacent lines",
			})
			continue
		}
		kept = append(kept, r)
	}
	if len(conflicts) > 0 {
		return "", conflicts
	}

	var b strings.Builder
	cursor := 0
	for _, r := range kept {
		for ; cursor < r.Start; cursor++ {
			b.WriteString(baseLines[cursor])
		}
		for _, l := range r.Lines {
			b.WriteString(l)
		}
		cursor = r.End
	}
	for ; cursor < len(baseLines); cursor++ {
		b.WriteString(baseLines[cursor])
	}
	return b.String(), nil
}

func regionsOf(base, other []string, side int) []Region {
	var out []Region
	m := difflib.NewMatcher(base, other)
	for _, oc := range m.GetOpCodes() {
		if oc.Tag == 'e' {
			continue
		}
		out = append(out, Region{
			Start: oc.I1,
			End:   oc.I2,
			Lines: other[oc.J1:oc.J2],
			side:  side,
		})
	}
	return out
}

func sameRegion(a, b Region) bool {
	if a.Start != b.Start || a.End != b.End || len(a.Lines) != len(b.Lines) {
		return false
	}
	for i := range a.Lines {
		if a.Lines[i] != b.Lines[i] {
			return false
		}
	}
	return true
}
