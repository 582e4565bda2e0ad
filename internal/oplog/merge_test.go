package oplog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/forge/internal/oplog"
)

// branchOps proposes edits on a fresh log over baseline and returns them.
func branchOps(t *testing.T, peer, baseline string, edits ...oplog.Operation) []oplog.Operation {
	t.Helper()
	l := oplog.New(peer, withText(baseline))
	var out []oplog.Operation
	for _, e := range edits {
		op, err := l.Propose(e)
		require.NoError(t, err)
		out = append(out, op)
	}
	return out
}

func TestReplay_DisjointEditsMerge(t *testing.T) {
	base := "one\ntwo\nthree\n"
	ours := branchOps(t, "peer-a", base, replace("f.txt", 0, 3, "ONE"))
	theirs := branchOps(t, "peer-b", base, insert("f.txt", 14, "four\n"))

	res := oplog.Replay(base, ours, theirs)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "ONE\ntwo\nthree\nfour\n", res.Text)
}

func TestReplay_OverlappingDeletesConflict(t *testing.T) {
	base := "alpha beta gamma\n"
	ours := branchOps(t, "peer-a", base, del("f.txt", 2, 6))   // "pha be"
	theirs := branchOps(t, "peer-b", base, del("f.txt", 5, 7)) // " beta g"

	res := oplog.Replay(base, ours, theirs)
	require.NotEmpty(t, res.Conflicts)
	assert.Equal(t, 1, res.Conflicts[0].Line)
	assert.Contains(t, res.Conflicts[0].Reason, "deleted overlapping")
}

func TestReplay_IdenticalDeletesDoNotConflict(t *testing.T) {
	base := "keep drop keep"
	ours := branchOps(t, "peer-a", base, del("f.txt", 4, 5))
	theirs := branchOps(t, "peer-b", base, del("f.txt", 4, 5))

	res := oplog.Replay(base, ours, theirs)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "keep keep", res.Text)
}

func TestReplay_SameGapInsertsConflict(t *testing.T) {
	base := "line1\nline2\n"
	ours := branchOps(t, "peer-a", base, insert("f.txt", 6, "ours\n"))
	theirs := branchOps(t, "peer-b", base, insert("f.txt", 6, "theirs\n"))

	res := oplog.Replay(base, ours, theirs)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, 2, res.Conflicts[0].Line)
	assert.Equal(t, "line1\nours\ntheirs\nline2\n", res.Text)
}

func TestReplay_InsertInsideOtherDeleteConflicts(t *testing.T) {
	base := "0123456789"
	ours := branchOps(t, "peer-a", base, del("f.txt", 2, 6))
	theirs := branchOps(t, "peer-b", base, insert("f.txt", 5, "x"))

	res := oplog.Replay(base, ours, theirs)
	require.Len(t, res.Conflicts, 1)
	assert.Contains(t, res.Conflicts[0].Reason, "inside text the other branch deleted")
}

func TestReplay_SharedOperationsAppliedOnce(t *testing.T) {
	base := "abc"
	shared := branchOps(t, "peer-a", base, insert("f.txt", 3, "d"))

	res := oplog.Replay(base, shared, shared)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "abcd", res.Text)
}
