package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/snapshot"
)

// commitOps proposes ops against the content of path at base and commits
// the result on branch, recording the operations.
func commitOps(t *testing.T, s *snapshot.Store, branch, base, peer, path string, edits ...oplog.Operation) *snapshot.Snapshot {
	t.Helper()
	ctx := context.Background()
	l := oplog.New(peer, oplog.WithBaseline(base, func(p string) (string, error) {
		content, _, err := s.ReadFile(ctx, base, p)
		return content, err
	}))
	var ops []oplog.Operation
	for _, e := range edits {
		e.Path = path
		op, err := l.Propose(e)
		require.NoError(t, err)
		ops = append(ops, op)
	}
	text, err := l.Materialize(path)
	require.NoError(t, err)

	snap, err := s.Commit(ctx, snapshot.CommitRequest{
		Branch:  branch,
		Parent:  mustHead(t, s, branch),
		Files:   map[string]string{path: text},
		Ops:     map[string][]oplog.Operation{path: ops},
		Base:    base,
		Message: "edit " + path,
	})
	require.NoError(t, err)
	return snap
}

// forkFeature commits content on main and branches feature from it.
func forkFeature(t *testing.T, s *snapshot.Store, files map[string]string) string {
	t.Helper()
	base := commit(t, s, "main", files, "base")
	_, err := s.CreateBranch(context.Background(), "feature", "main")
	require.NoError(t, err)
	return base.ID
}

func readFile(t *testing.T, s *snapshot.Store, id, path string) string {
	t.Helper()
	content, ok, err := s.ReadFile(context.Background(), id, path)
	require.NoError(t, err)
	require.True(t, ok, "file %s missing", path)
	return content
}

func TestMerge_DisjointFiles(t *testing.T) {
	s := newTestStore(t)
	forkFeature(t, s, map[string]string{"a.txt": "a\n", "b.txt": "b\n"})

	commit(t, s, "main", map[string]string{"a.txt": "A\n"}, "main edit")
	feat := commit(t, s, "feature", map[string]string{"b.txt": "B\n", "c.txt": "new\n"}, "feature edit")
	mainHead := mustHead(t, s, "main")

	res, err := s.Merge(context.Background(), "feature", "main", "")
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, []string{mainHead, feat.ID}, res.Snapshot.Parents)
	assert.Equal(t, "merge feature into main", res.Snapshot.Message)
	assert.Equal(t, res.Snapshot.ID, mustHead(t, s, "main"))

	id := res.Snapshot.ID
	assert.Equal(t, "A\n", readFile(t, s, id, "a.txt"))
	assert.Equal(t, "B\n", readFile(t, s, id, "b.txt"))
	assert.Equal(t, "new\n", readFile(t, s, id, "c.txt"))
}

func TestMerge_ReplaysRecordedOperations(t *testing.T) {
	s := newTestStore(t)
	base := forkFeature(t, s, map[string]string{"f.txt": "one\ntwo\nthree\n"})

	commitOps(t, s, "main", base, "peer-a", "f.txt",
		oplog.Operation{Kind: oplog.KindReplace, Position: 0, Length: 3, Content: "ONE"})
	commitOps(t, s, "feature", base, "peer-b", "f.txt",
		oplog.Operation{Kind: oplog.KindInsert, Position: 14, Content: "four\n"})

	res, err := s.Merge(context.Background(), "feature", "main", "merge")
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, []string{"f.txt"}, res.Replayed)
	assert.Equal(t, base, res.Ancestor)
	assert.Equal(t, "ONE\ntwo\nthree\nfour\n", readFile(t, s, res.Snapshot.ID, "f.txt"))
}

func TestMerge_OverlappingDeletesSurfaceConflict(t *testing.T) {
	s := newTestStore(t)
	base := forkFeature(t, s, map[string]string{"f.txt": "alpha beta gamma\n"})

	mainSnap := commitOps(t, s, "main", base, "peer-a", "f.txt",
		oplog.Operation{Kind: oplog.KindDelete, Position: 2, Length: 6})
	commitOps(t, s, "feature", base, "peer-b", "f.txt",
		oplog.Operation{Kind: oplog.KindDelete, Position: 5, Length: 7})

	res, err := s.Merge(context.Background(), "feature", "main", "")
	require.NoError(t, err)
	require.NotEmpty(t, res.Conflicts)
	assert.Equal(t, "f.txt", res.Conflicts[0].Path)
	assert.Equal(t, 1, res.Conflicts[0].Line)
	assert.Equal(t, readFile(t, s, mainSnap.ID, "f.txt"), readFile(t, s, res.Snapshot.ID, "f.txt"),
		"conflicted files keep the target version")
	assert.Len(t, res.Snapshot.Parents, 2)
}

func TestMerge_LineMergeFallback(t *testing.T) {
	s := newTestStore(t)
	forkFeature(t, s, map[string]string{"f.txt": "1\n2\n3\n4\n5\n"})

	commit(t, s, "main", map[string]string{"f.txt": "one\n2\n3\n4\n5\n"}, "m")
	commit(t, s, "feature", map[string]string{"f.txt": "1\n2\n3\n4\nfive\n"}, "f")

	res, err := s.Merge(context.Background(), "feature", "main", "")
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Empty(t, res.Replayed)
	assert.Equal(t, "one\n2\n3\n4\nfive\n", readFile(t, s, res.Snapshot.ID, "f.txt"))
}

func TestMerge_LineConflictKeepsTarget(t *testing.T) {
	s := newTestStore(t)
	forkFeature(t, s, map[string]string{"f.txt": "a\nb\nc\n"})

	commit(t, s, "main", map[string]string{"f.txt": "a\nmain\nc\n"}, "m")
	commit(t, s, "feature", map[string]string{"f.txt": "a\nfeature\nc\n"}, "f")

	res, err := s.Merge(context.Background(), "feature", "main", "")
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, 2, res.Conflicts[0].Line)
	assert.Equal(t, "a\nmain\nc\n", readFile(t, s, res.Snapshot.ID, "f.txt"))
}

func TestMerge_AlreadyMerged(t *testing.T) {
	s := newTestStore(t)
	forkFeature(t, s, map[string]string{"f.txt": "x\n"})
	commit(t, s, "main", map[string]string{"f.txt": "y\n"}, "ahead")
	before := mustHead(t, s, "main")

	res, err := s.Merge(context.Background(), "feature", "main", "")
	require.NoError(t, err)
	assert.True(t, res.AlreadyMerged)
	assert.Equal(t, before, res.Snapshot.ID)
	assert.Equal(t, before, mustHead(t, s, "main"))
}

func TestMerge_UnknownBranch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Merge(context.Background(), "nope", "main", "")
	assert.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)

	_, err = s.Merge(context.Background(), "main", "nope", "")
	assert.ErrorIs(t, err, snapshot.ErrBranchNotFound)
}
