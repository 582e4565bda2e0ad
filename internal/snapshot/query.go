package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/textdiff"
)

// Get loads a snapshot by id.
func (s *Store) Get(ctx context.Context, id string) (*Snapshot, error) {
	return s.get(ctx, s.db, id)
}

// ReadFile returns the content of path in snapshot id. ok is false when
// the file is not in the snapshot.
func (s *Store) ReadFile(ctx context.Context, id, path string) (content string, ok bool, err error) {
	var hash string
	err = s.db.QueryRowContext(ctx,
		`SELECT blob_hash FROM snapshot_files WHERE snapshot_id = ? AND path = ?`, id, path,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("snapshot: read %s at %s: %w", path, short(id), err)
	}
	content, err = blob(ctx, s.db, hash)
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// BlobCount returns the number of distinct contents stored.
func (s *Store) BlobCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("snapshot: count blobs: %w", err)
	}
	return n, nil
}

// History walks first parents from the branch head, newest first. A limit
// of zero or less returns the whole chain.
func (s *Store) History(ctx context.Context, branch string, limit int) ([]Snapshot, error) {
	id, err := s.resolve(ctx, s.db, branch)
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for id != "" && (limit <= 0 || len(out) < limit) {
		snap, err := s.get(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
		id = ""
		if len(snap.Parents) > 0 {
			id = snap.Parents[0]
		}
	}
	return out, nil
}

// Diff returns line-level differences for every path whose content differs
// between two snapshots or branches, sorted by path.
func (s *Store) Diff(ctx context.Context, from, to string) ([]textdiff.FileDiff, error) {
	fromID, err := s.resolve(ctx, s.db, from)
	if err != nil {
		return nil, err
	}
	toID, err := s.resolve(ctx, s.db, to)
	if err != nil {
		return nil, err
	}
	a, err := s.get(ctx, s.db, fromID)
	if err != nil {
		return nil, err
	}
	b, err := s.get(ctx, s.db, toID)
	if err != nil {
		return nil, err
	}
	return s.diffTrees(ctx, a.Tree, b.Tree)
}

func (s *Store) diffTrees(ctx context.Context, a, b map[string]string) ([]textdiff.FileDiff, error) {
	paths := map[string]bool{}
	for p := range a {
		paths[p] = true
	}
	for p := range b {
		paths[p] = true
	}

	var out []textdiff.FileDiff
	for _, p := range sortedKeys(paths) {
		if a[p] == b[p] {
			continue
		}
		oldText, err := s.contentOf(ctx, a[p])
		if err != nil {
			return nil, err
		}
		newText, err := s.contentOf(ctx, b[p])
		if err != nil {
			return nil, err
		}
		d := textdiff.Compute(p, oldText, newText)
		d.OldHash, d.NewHash = a[p], b[p]
		out = append(out, d)
	}
	return out, nil
}

// contentOf returns a blob's content; the empty hash means no file.
func (s *Store) contentOf(ctx context.Context, hash string) (string, error) {
	if hash == "" {
		return "", nil
	}
	return blob(ctx, s.db, hash)
}

// opsRecord is one snapshot's recorded operations for a path.
type opsRecord struct {
	base string
	ops  []oplog.Operation
}

func (s *Store) recordedOps(ctx context.Context, id, path string) (*opsRecord, error) {
	var base, data string
	err := s.db.QueryRowContext(ctx,
		`SELECT base, ops FROM snapshot_ops WHERE snapshot_id = ? AND path = ?`, id, path,
	).Scan(&base, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read ops for %s at %s: %w", path, short(id), err)
	}
	rec := &opsRecord{base: base}
	if err := json.Unmarshal([]byte(data), &rec.ops); err != nil {
		return nil, fmt.Errorf("snapshot: decode ops for %s at %s: %w", path, short(id), err)
	}
	return rec, nil
}

// Ops returns the operations recorded with a snapshot for path and the
// snapshot they were authored against.
func (s *Store) Ops(ctx context.Context, id, path string) ([]oplog.Operation, string, error) {
	rec, err := s.recordedOps(ctx, id, path)
	if err != nil || rec == nil {
		return nil, "", err
	}
	return rec.ops, rec.base, nil
}
