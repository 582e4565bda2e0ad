package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/HendryAvila/forge/internal/oplog"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CommitRequest describes a new snapshot on a branch.
type CommitRequest struct {
	Branch string
	// Parent is the head the caller computed its change against. The
	// commit fails with *HeadMismatchError if the branch moved since.
	Parent string
	// Files maps changed paths to their full new contents. Paths not
	// listed keep the parent's content.
	Files map[string]string
	// Ops records, per path, the operations the new contents include,
	// authored against the Base snapshot. Used by later merges.
	Ops     map[string][]oplog.Operation
	Base    string
	Message string
	// MergeParent, when set, becomes the second parent.
	MergeParent string
}

// HashContent returns the hex sha256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Commit stores a snapshot and advances the branch head in one transaction.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (*Snapshot, error) {
	if req.Branch == "" {
		return nil, fmt.Errorf("snapshot: commit: branch is required")
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	parent, err := s.get(ctx, tx, req.Parent)
	if err != nil {
		return nil, fmt.Errorf("snapshot: commit on %s: %w", req.Branch, err)
	}

	tree := make(map[string]string, len(parent.Tree)+len(req.Files))
	for p, h := range parent.Tree {
		tree[p] = h
	}
	for _, p := range sortedKeys(req.Files) {
		hash, err := putBlob(ctx, tx, req.Files[p])
		if err != nil {
			return nil, err
		}
		tree[p] = hash
	}

	parents := []string{req.Parent}
	if req.MergeParent != "" {
		parents = append(parents, req.MergeParent)
	}
	snap, err := s.writeSnapshot(ctx, tx, tree, parents, req.Message, timeNow())
	if err != nil {
		return nil, err
	}

	for _, p := range sortedKeys(req.Ops) {
		ops := req.Ops[p]
		if len(ops) == 0 {
			continue
		}
		data, err := json.Marshal(ops)
		if err != nil {
			return nil, fmt.Errorf("snapshot: encode ops for %s: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO snapshot_ops (snapshot_id, path, base, ops) VALUES (?, ?, ?, ?)`,
			snap.ID, p, req.Base, string(data),
		); err != nil {
			return nil, fmt.Errorf("snapshot: store ops for %s: %w", p, err)
		}
	}

	if err := advance(ctx, tx, req.Branch, req.Parent, snap.ID); err != nil {
		return nil, err
	}
	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("snapshot: commit tx: %w", err)
	}
	return snap, nil
}

// advance moves branch from expected to next, or reports who won the race.
func advance(ctx context.Context, q querier, branch, expected, next string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE branches SET head = ? WHERE name = ? AND head = ?`,
		next, branch, expected,
	)
	if err != nil {
		return fmt.Errorf("snapshot: advance %s: %w", branch, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("snapshot: advance %s: %w", branch, err)
	}
	if n == 1 {
		return nil
	}

	actual, err := head(ctx, q, branch)
	if err != nil {
		return err
	}
	return &HeadMismatchError{Branch: branch, Expected: expected, Actual: actual}
}

func putBlob(ctx context.Context, q querier, content string) (string, error) {
	hash := HashContent(content)
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO blobs (hash, content, size) VALUES (?, ?, ?)`,
		hash, content, len(content),
	); err != nil {
		return "", fmt.Errorf("snapshot: store blob: %w", err)
	}
	return hash, nil
}

// writeSnapshot stores the tree and snapshot rows and returns the snapshot.
// Identical inputs yield the identical id, so rewriting is harmless.
func (s *Store) writeSnapshot(ctx context.Context, q querier, tree map[string]string, parents []string, message string, ts time.Time) (*Snapshot, error) {
	if parents == nil {
		parents = []string{}
	}
	manifest, err := json.Marshal(tree) // map keys are emitted sorted
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode tree: %w", err)
	}
	treeHash := HashContent(string(manifest))

	ts = ts.UTC()
	canonical, err := json.Marshal(struct {
		TreeHash  string   `json:"tree_hash"`
		Parents   []string `json:"parent_ids"`
		Message   string   `json:"message"`
		Timestamp string   `json:"timestamp"`
	}{treeHash, parents, message, formatTime(ts)})
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode snapshot: %w", err)
	}
	id := HashContent(string(canonical))

	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO trees (hash, manifest) VALUES (?, ?)`, treeHash, string(manifest),
	); err != nil {
		return nil, fmt.Errorf("snapshot: store tree: %w", err)
	}
	parentsJSON, _ := json.Marshal(parents)
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (id, tree_hash, parents, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, treeHash, string(parentsJSON), message, formatTime(ts),
	); err != nil {
		return nil, fmt.Errorf("snapshot: store snapshot: %w", err)
	}
	for _, p := range sortedKeys(tree) {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO snapshot_files (snapshot_id, path, blob_hash) VALUES (?, ?, ?)`,
			id, p, tree[p],
		); err != nil {
			return nil, fmt.Errorf("snapshot: store file %s: %w", p, err)
		}
	}

	return &Snapshot{
		ID:        id,
		Parents:   parents,
		Tree:      tree,
		TreeHash:  treeHash,
		Message:   message,
		Timestamp: ts,
	}, nil
}

// get loads a snapshot with its tree.
func (s *Store) get(ctx context.Context, q querier, id string) (*Snapshot, error) {
	var (
		snap    Snapshot
		parents string
		created string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, tree_hash, parents, message, created_at FROM snapshots WHERE id = ?`, id,
	).Scan(&snap.ID, &snap.TreeHash, &parents, &snap.Message, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, short(id))
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: load %s: %w", short(id), err)
	}
	if err := json.Unmarshal([]byte(parents), &snap.Parents); err != nil {
		return nil, fmt.Errorf("snapshot: decode parents of %s: %w", short(id), err)
	}
	snap.Timestamp = parseTime(created)

	rows, err := q.QueryContext(ctx, `SELECT path, blob_hash FROM snapshot_files WHERE snapshot_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load tree of %s: %w", short(id), err)
	}
	defer rows.Close()
	snap.Tree = make(map[string]string)
	for rows.Next() {
		var p, h string
		if err := rows.Scan(&p, &h); err != nil {
			return nil, err
		}
		snap.Tree[p] = h
	}
	return &snap, rows.Err()
}

func blob(ctx context.Context, q querier, hash string) (string, error) {
	var content string
	err := q.QueryRowContext(ctx, `SELECT content FROM blobs WHERE hash = ?`, hash).Scan(&content)
	if err != nil {
		return "", fmt.Errorf("snapshot: load blob %s: %w", short(hash), err)
	}
	return content, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
