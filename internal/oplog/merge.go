package oplog

import (
	"sort"

	"github.com/HendryAvila/forge/internal/textdiff"
)

// Overlap is a structural conflict found while replaying two branches.
type Overlap struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ReplayResult is the outcome of replaying two operation sets onto a common
// baseline.
type ReplayResult struct {
	Text      string
	Conflicts []Overlap
}

// interval is a half-open range of baseline offsets.
type interval struct{ start, end int }

// Replay applies ours and theirs, both authored against baseline, in total
// order and reports where the two sides collide:
//
//   - deletions of overlapping or adjacent baseline ranges that differ
//   - insertions by both sides into the same baseline gap
//   - an insertion strictly inside a range the other side deleted
//
// Operations present in both sets are applied once. Text is the replayed
// result even when conflicts are reported.
func Replay(baseline string, ours, theirs []Operation) ReplayResult {
	side := make(map[Key]int)
	var all []Operation
	for _, op := range ours {
		if _, ok := side[op.Key()]; !ok {
			all = append(all, op)
		}
		side[op.Key()] = 1
	}
	for _, op := range theirs {
		s, ok := side[op.Key()]
		switch {
		case !ok:
			all = append(all, op)
			side[op.Key()] = 2
		case s == 1:
			side[op.Key()] = 3 // shared
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Less(all[j]) })

	doc := newDocument(baseline)
	for _, op := range all {
		_ = doc.apply(op) // operations that no longer fit are dropped on every peer alike
	}

	// Walk the items once, tracking baseline offsets.
	var (
		deleted [3][]interval
		gaps    [3]map[int]bool
		offset  int
	)
	gaps[1], gaps[2] = map[int]bool{}, map[int]bool{}
	for _, it := range doc.items {
		if it.origin.Peer == "" {
			for s := 1; s <= 2; s++ {
				if deletedBySide(it, side, s) {
					deleted[s] = extend(deleted[s], offset)
				}
			}
			offset++
			continue
		}
		if s := side[it.origin]; s == 1 || s == 2 {
			gaps[s][offset] = true
		}
	}

	res := ReplayResult{Text: doc.Text()}
	add := func(pos int, reason string) {
		res.Conflicts = append(res.Conflicts, Overlap{Line: textdiff.LineOf(baseline, pos), Reason: reason})
	}
	for _, a := range deleted[1] {
		for _, b := range deleted[2] {
			if a != b && a.start <= b.end && b.start <= a.end {
				add(min(a.start, b.start), "both branches deleted overlapping text")
			}
		}
	}
	for _, g := range sortedGaps(gaps[1]) {
		if gaps[2][g] {
			add(g, "both branches inserted at the same position")
		}
	}
	for s := 1; s <= 2; s++ {
		other := 3 - s
		for _, g := range sortedGaps(gaps[s]) {
			for _, iv := range deleted[other] {
				if iv.start < g && g < iv.end {
					add(g, "insertion inside text the other branch deleted")
				}
			}
		}
	}
	sort.SliceStable(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Line < res.Conflicts[j].Line })
	return res
}

func deletedBySide(it item, side map[Key]int, s int) bool {
	for _, k := range it.deletedBy {
		if v := side[k]; v == s {
			return true
		}
	}
	return false
}

// extend adds offset to the last interval when contiguous, else opens one.
func extend(ivs []interval, offset int) []interval {
	if n := len(ivs); n > 0 && ivs[n-1].end == offset {
		ivs[n-1].end++
		return ivs
	}
	return append(ivs, interval{start: offset, end: offset + 1})
}

func sortedGaps(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for g := range m {
		out = append(out, g)
	}
	sort.Ints(out)
	return out
}
