package snapshot

import (
	"context"
	"fmt"

	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/textdiff"
)

// MergeResult is the outcome of merging one branch into another.
type MergeResult struct {
	Snapshot      *Snapshot  `json:"snapshot,omitempty"`
	Ancestor      string     `json:"ancestor,omitempty"`
	Conflicts     []Conflict `json:"conflicts,omitempty"`
	Replayed      []string   `json:"replayed,omitempty"` // paths merged from recorded operations
	AlreadyMerged bool       `json:"already_merged,omitempty"`
}

// history caches snapshots loaded during one merge.
type history struct {
	s     *Store
	ctx   context.Context
	snaps map[string]*Snapshot
}

func (h *history) get(id string) (*Snapshot, error) {
	if snap, ok := h.snaps[id]; ok {
		return snap, nil
	}
	snap, err := h.s.get(h.ctx, h.s.db, id)
	if err != nil {
		return nil, err
	}
	h.snaps[id] = snap
	return snap, nil
}

// ancestors returns every snapshot reachable from id, id included, in
// breadth-first order.
func (h *history) ancestors(id string) ([]string, map[string]bool, error) {
	seen := map[string]bool{id: true}
	order := []string{id}
	for i := 0; i < len(order); i++ {
		snap, err := h.get(order[i])
		if err != nil {
			return nil, nil, err
		}
		for _, p := range snap.Parents {
			if !seen[p] {
				seen[p] = true
				order = append(order, p)
			}
		}
	}
	return order, seen, nil
}

// Merge merges source (a branch or snapshot id) into the target branch.
//
// Files changed on one side only take that side. Files changed on both
// sides are merged by replaying the operations recorded since the nearest
// common ancestor when every such batch was authored against that ancestor,
// and by a line-based three-way merge otherwise. Overlapping or adjacent
// edits are conflicts: the file keeps the target's content and the conflict
// is reported. A two-parent snapshot is committed on target unless source
// is already contained in it.
func (s *Store) Merge(ctx context.Context, source, target, message string) (*MergeResult, error) {
	srcHead, err := s.resolve(ctx, s.db, source)
	if err != nil {
		return nil, err
	}
	tgtHead, err := head(ctx, s.db, target)
	if err != nil {
		return nil, err
	}

	h := &history{s: s, ctx: ctx, snaps: map[string]*Snapshot{}}
	_, tgtAnc, err := h.ancestors(tgtHead)
	if err != nil {
		return nil, err
	}
	if tgtAnc[srcHead] {
		snap, err := h.get(tgtHead)
		if err != nil {
			return nil, err
		}
		return &MergeResult{Snapshot: snap, Ancestor: srcHead, AlreadyMerged: true}, nil
	}

	srcOrder, _, err := h.ancestors(srcHead)
	if err != nil {
		return nil, err
	}
	var lca string
	for _, id := range srcOrder {
		if tgtAnc[id] {
			lca = id
			break
		}
	}
	if lca == "" {
		return nil, fmt.Errorf("snapshot: merge %s into %s: no common ancestor", source, target)
	}

	base, err := h.get(lca)
	if err != nil {
		return nil, err
	}
	src, err := h.get(srcHead)
	if err != nil {
		return nil, err
	}
	tgt, err := h.get(tgtHead)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{Ancestor: lca}
	files := map[string]string{}
	paths := map[string]bool{}
	for _, t := range []map[string]string{base.Tree, src.Tree, tgt.Tree} {
		for p := range t {
			paths[p] = true
		}
	}
	for _, p := range sortedKeys(paths) {
		b, sh, th := base.Tree[p], src.Tree[p], tgt.Tree[p]
		switch {
		case sh == th, sh == b:
			continue
		case th == b:
			content, err := s.contentOf(ctx, sh)
			if err != nil {
				return nil, err
			}
			files[p] = content
			continue
		}

		merged, conflicts, replayed, err := s.mergeFile(ctx, h, p, lca, srcHead, tgtHead, b, sh, th)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			res.Conflicts = append(res.Conflicts, conflicts...)
			continue
		}
		if replayed {
			res.Replayed = append(res.Replayed, p)
		}
		files[p] = merged
	}

	if message == "" {
		message = fmt.Sprintf("merge %s into %s", source, target)
	}
	snap, err := s.Commit(ctx, CommitRequest{
		Branch:      target,
		Parent:      tgtHead,
		Files:       files,
		Message:     message,
		MergeParent: srcHead,
	})
	if err != nil {
		return nil, err
	}
	res.Snapshot = snap
	return res, nil
}

// mergeFile merges one path changed on both sides.
func (s *Store) mergeFile(ctx context.Context, h *history, path, lca, srcHead, tgtHead, b, sh, th string) (string, []Conflict, bool, error) {
	baseText, err := s.contentOf(ctx, b)
	if err != nil {
		return "", nil, false, err
	}
	srcText, err := s.contentOf(ctx, sh)
	if err != nil {
		return "", nil, false, err
	}
	tgtText, err := s.contentOf(ctx, th)
	if err != nil {
		return "", nil, false, err
	}

	srcOps, okS, err := s.opsSince(ctx, h, srcHead, lca, path)
	if err != nil {
		return "", nil, false, err
	}
	tgtOps, okT, err := s.opsSince(ctx, h, tgtHead, lca, path)
	if err != nil {
		return "", nil, false, err
	}
	// Recorded operations must reproduce each side exactly before they are
	// trusted for the merge.
	if okS && okT &&
		oplog.Replay(baseText, tgtOps, nil).Text == tgtText &&
		oplog.Replay(baseText, srcOps, nil).Text == srcText {
		out := oplog.Replay(baseText, tgtOps, srcOps)
		if len(out.Conflicts) > 0 {
			conflicts := make([]Conflict, len(out.Conflicts))
			for i, c := range out.Conflicts {
				conflicts[i] = Conflict{Path: path, Line: c.Line, Reason: c.Reason}
			}
			return "", conflicts, true, nil
		}
		return out.Text, nil, true, nil
	}

	merged, mc := textdiff.Merge3(baseText, tgtText, srcText)
	if len(mc) > 0 {
		conflicts := make([]Conflict, len(mc))
		for i, c := range mc {
			conflicts[i] = Conflict{Path: path, Line: c.Line, Reason: c.Reason}
		}
		return "", conflicts, false, nil
	}
	return merged, nil, false, nil
}

// opsSince collects the operations for path recorded by snapshots between
// lca (exclusive) and head. ok is false when a snapshot changed path
// without operations authored against lca.
func (s *Store) opsSince(ctx context.Context, h *history, headID, lca, path string) ([]oplog.Operation, bool, error) {
	_, lcaAnc, err := h.ancestors(lca)
	if err != nil {
		return nil, false, err
	}
	order, _, err := h.ancestors(headID)
	if err != nil {
		return nil, false, err
	}

	var ops []oplog.Operation
	for _, id := range order {
		if lcaAnc[id] {
			continue
		}
		snap, err := h.get(id)
		if err != nil {
			return nil, false, err
		}
		prev := ""
		if len(snap.Parents) > 0 {
			parent, err := h.get(snap.Parents[0])
			if err != nil {
				return nil, false, err
			}
			prev = parent.Tree[path]
		}
		if snap.Tree[path] == prev {
			continue
		}
		rec, err := s.recordedOps(ctx, id, path)
		if err != nil {
			return nil, false, err
		}
		if rec == nil || rec.base != lca {
			return nil, false, nil
		}
		ops = append(ops, rec.ops...)
	}
	return ops, true, nil
}
