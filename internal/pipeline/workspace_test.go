package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/forge/internal/classifier"
	"github.com/HendryAvila/forge/internal/journal"
	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/pipeline"
)

func TestPreview_DoesNotIntegrate(t *testing.T) {
	p := newTestPipeline(t, classifier.NewPathVoter())
	mustApply(t, p, insert("README.md", 0, "# forge\n"))
	before := head(t, p)

	res, err := p.Preview(context.Background(), []oplog.Operation{
		insert("README.md", 8, "more\n"),
		insert("api/types.go", 0, "package api\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, classifier.Red, res.Verdict)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "README.md", res.Files[0].Path)
	assert.Equal(t, classifier.Green, res.Files[0].Verdict)
	assert.Equal(t, "api/types.go", res.Files[1].Path)
	assert.Equal(t, classifier.Red, res.Files[1].Verdict)

	assert.Equal(t, before, head(t, p))
	assert.Equal(t, "# forge\n", text(t, p, "README.md"))
	assert.Empty(t, p.Log().Ops("api/types.go"))
}

func TestPreview_OutOfRange(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Preview(context.Background(), []oplog.Operation{insert("a.txt", 3, "x")})
	assert.True(t, oplog.IsOutOfRange(err))
}

func TestPredictAndIsGuaranteedSafe(t *testing.T) {
	p := newTestPipeline(t, classifier.NewPathVoter())
	ctx := context.Background()

	fv, err := p.Predict(ctx, "schema.sql", "DROP TABLE users;\n")
	require.NoError(t, err)
	assert.Equal(t, classifier.Red, fv.Verdict)

	safe, err := p.IsGuaranteedSafe(ctx, "notes.md", "hello\n")
	require.NoError(t, err)
	assert.True(t, safe)

	safe, err = p.IsGuaranteedSafe(ctx, "main.go", "package main\n")
	require.NoError(t, err)
	assert.False(t, safe)
}

func TestCheckout_RestartsLogOnBranchHead(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	mustApply(t, p, insert("a.txt", 0, "main\n"))

	_, err := p.CreateBranch(ctx, "feature", "")
	require.NoError(t, err)
	featHead, err := p.Checkout(ctx, "feature")
	require.NoError(t, err)

	st, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feature", st.Branch)
	assert.Equal(t, featHead, st.Epoch)

	res := mustApply(t, p, insert("a.txt", 5, "feature\n"))
	assert.Equal(t, "main\nfeature\n", read(t, p, res.Snapshot.ID, "a.txt"))

	_, err = p.Checkout(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "main\n", text(t, p, "a.txt"))
}

func TestCheckout_RefusesUncommitted(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	_, err := p.CreateBranch(ctx, "other", "")
	require.NoError(t, err)

	n, err := p.Receive([]oplog.Operation{{PeerID: "remote", Lamport: 1, Seq: 1, Path: "r.txt", Kind: oplog.KindInsert, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = p.Checkout(ctx, "other")
	assert.ErrorIs(t, err, pipeline.ErrUncommitted)
	assert.Contains(t, err.Error(), "r.txt")

	cur, err := p.Store().Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", cur)
}

func TestReceive_CommittedByNextBatch(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Receive([]oplog.Operation{{PeerID: "remote", Lamport: 3, Seq: 1, Path: "a.txt", Kind: oplog.KindInsert, Content: "remote "}})
	require.NoError(t, err)

	st, err := p.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, st.Uncommitted)

	res := mustApply(t, p, insert("a.txt", 7, "local"))
	assert.Equal(t, "remote local", read(t, p, res.Snapshot.ID, "a.txt"))
	assert.Empty(t, p.DivergedSince(res.Snapshot.ID))
}

func TestReceive_RejectsLocalOperations(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Receive([]oplog.Operation{insert("a.txt", 0, "x")})
	assert.Error(t, err)
}

func TestReceive_BuffersUntilAncestorsArrive(t *testing.T) {
	p := newTestPipeline(t)
	first := oplog.Operation{PeerID: "remote", Lamport: 1, Seq: 1, Path: "a.txt", Kind: oplog.KindInsert, Content: "ab"}
	second := oplog.Operation{PeerID: "remote", Lamport: 2, Seq: 2, Path: "a.txt", Kind: oplog.KindInsert, Position: 2, Content: "cd",
		Context: map[string]uint64{"remote": 1}}

	n, err := p.Receive([]oplog.Operation{second})
	require.NoError(t, err)
	assert.Zero(t, n, "buffered operations are not integrated yet")
	assert.Len(t, p.Log().Pending("a.txt"), 1)
	assert.Equal(t, "", text(t, p, "a.txt"))

	n, err = p.Receive([]oplog.Operation{first, first})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the ancestor and the operation it unblocked")
	assert.Empty(t, p.Log().Pending("a.txt"))
	assert.Equal(t, "abcd", text(t, p, "a.txt"))
}

func TestMerge_IntoCurrentRestartsEpoch(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	mustApply(t, p, insert("a.txt", 0, "base\n"))

	_, err := p.CreateBranch(ctx, "feature", "")
	require.NoError(t, err)
	_, err = p.Checkout(ctx, "feature")
	require.NoError(t, err)
	mustApply(t, p, insert("b.txt", 0, "feature\n"))

	_, err = p.Checkout(ctx, "main")
	require.NoError(t, err)
	mustApply(t, p, insert("a.txt", 5, "main\n"))

	res, err := p.Merge(ctx, "feature", "", "")
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Len(t, res.Snapshot.Parents, 2)

	st, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot.ID, st.Head)
	assert.Equal(t, res.Snapshot.ID, st.Epoch)
	assert.Equal(t, "base\nmain\n", text(t, p, "a.txt"))
	assert.Equal(t, "feature\n", text(t, p, "b.txt"))

	diffs, err := p.Diff(ctx, "feature", "main")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "a.txt", diffs[0].Path)
}

func TestMerge_IntoOtherBranchKeepsEpoch(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	_, err := p.CreateBranch(ctx, "release", "")
	require.NoError(t, err)
	mustApply(t, p, insert("a.txt", 0, "x"))
	before, err := p.Status(ctx)
	require.NoError(t, err)

	res, err := p.Merge(ctx, "main", "release", "")
	require.NoError(t, err)
	assert.Equal(t, "merge main into release", res.Snapshot.Message)

	after, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Epoch, after.Epoch)
	assert.Equal(t, before.Head, after.Head)
}

// ─── Recovery ───────────────────────────────────────────────────────────────

func TestRecover_RestoresUncommittedOperations(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store := newStore(t, dir)
	jcfg := journal.DefaultConfig(filepath.Join(dir, "journal"))

	j1, err := journal.Open(jcfg)
	require.NoError(t, err)
	p1, err := pipeline.New(ctx, store, classifier.New(zerolog.Nop()), j1, pipeline.Config{}, zerolog.Nop())
	require.NoError(t, err)

	mustApply(t, p1, insert("a.txt", 0, "committed\n"))
	_, err = p1.Receive([]oplog.Operation{{PeerID: "remote", Lamport: 9, Seq: 1, Path: "b.txt", Kind: oplog.KindInsert, Content: "remote"}})
	require.NoError(t, err)
	rejected, err := p1.Force(ctx, pipeline.Proposal{Ops: []oplog.Operation{
		insert("c.txt", 0, "x"),
		{Path: "c.txt", Kind: oplog.KindDelete, Position: 9, Length: 1},
	}})
	require.Error(t, err)
	assert.Nil(t, rejected)
	peer := p1.Log().Peer()
	require.NoError(t, j1.Close())

	j2, err := journal.Open(jcfg)
	require.NoError(t, err)
	t.Cleanup(func() { j2.Close() })
	p2, err := pipeline.New(ctx, store, classifier.New(zerolog.Nop()), j2, pipeline.Config{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, peer, p2.Log().Peer(), "peer id is stored in the journal")
	st, err := p2.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, st.Uncommitted)
	assert.Equal(t, "remote", text(t, p2, "b.txt"))
	assert.Equal(t, "committed\n", text(t, p2, "a.txt"))
	assert.Equal(t, "", text(t, p2, "c.txt"))

	res := mustApply(t, p2, insert("a.txt", 10, "more\n"))
	assert.Equal(t, "committed\nmore\n", read(t, p2, res.Snapshot.ID, "a.txt"))
	assert.Greater(t, res.Applied[0].Seq, uint64(1), "sequence resumes after restored operations")
}

func TestRecover_UnknownEpochStartsOver(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(journal.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	require.NoError(t, j.StartEpoch("gone"))

	p, err := pipeline.New(ctx, newStore(t, t.TempDir()), classifier.New(zerolog.Nop()), j, pipeline.Config{PeerID: "p"}, zerolog.Nop())
	require.NoError(t, err)

	st, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Head, st.Epoch)
}
