package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func head(ctx context.Context, q querier, branch string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT head FROM branches WHERE name = ?`, branch).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}
	if err != nil {
		return "", fmt.Errorf("snapshot: read head of %s: %w", branch, err)
	}
	return id, nil
}

// Head returns the snapshot id a branch points to.
func (s *Store) Head(ctx context.Context, branch string) (string, error) {
	return head(ctx, s.db, branch)
}

// Current returns the checked-out branch.
func (s *Store) Current(ctx context.Context) (string, error) {
	var name string
	if err := s.db.QueryRowContext(ctx, `SELECT branch FROM workspace WHERE id = 1`).Scan(&name); err != nil {
		return "", fmt.Errorf("snapshot: read current branch: %w", err)
	}
	return name, nil
}

// CreateBranch creates name pointing at from, which may be a branch name
// or a snapshot id. An empty from means the current branch.
func (s *Store) CreateBranch(ctx context.Context, name, from string) (*Branch, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("snapshot: branch name is required")
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches WHERE name = ?`, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("snapshot: check branch %s: %w", name, err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateBranch, name)
	}

	target, err := s.resolve(ctx, tx, from)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO branches (name, head, created_at) VALUES (?, ?, ?)`,
		name, target, formatTime(timeNow()),
	); err != nil {
		return nil, fmt.Errorf("snapshot: create branch %s: %w", name, err)
	}
	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("snapshot: commit tx: %w", err)
	}
	return &Branch{Name: name, Head: target}, nil
}

// resolve turns a branch name or snapshot id into a snapshot id.
func (s *Store) resolve(ctx context.Context, q querier, ref string) (string, error) {
	if ref == "" {
		var cur string
		if err := q.QueryRowContext(ctx, `SELECT branch FROM workspace WHERE id = 1`).Scan(&cur); err != nil {
			return "", fmt.Errorf("snapshot: read current branch: %w", err)
		}
		ref = cur
	}
	id, err := head(ctx, q, ref)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrBranchNotFound) {
		return "", err
	}
	var found string
	err = q.QueryRowContext(ctx, `SELECT id FROM snapshots WHERE id = ?`, ref).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("snapshot: %q is neither a branch nor a snapshot: %w", ref, ErrSnapshotNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("snapshot: resolve %s: %w", ref, err)
	}
	return found, nil
}

// Resolve turns a branch name or snapshot id into a snapshot id.
func (s *Store) Resolve(ctx context.Context, ref string) (string, error) {
	return s.resolve(ctx, s.db, ref)
}

// DeleteBranch removes a branch. Snapshots stay reachable by id.
func (s *Store) DeleteBranch(ctx context.Context, name string) error {
	cur, err := s.Current(ctx)
	if err != nil {
		return err
	}
	if cur == name {
		return fmt.Errorf("%w: %s", ErrCurrentBranch, name)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM branches WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("snapshot: delete branch %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return nil
}

// Branches lists all branches sorted by name, marking the current one.
func (s *Store) Branches(ctx context.Context) ([]Branch, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, head FROM branches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list branches: %w", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.Name, &b.Head); err != nil {
			return nil, err
		}
		b.Current = b.Name == cur
		out = append(out, b)
	}
	return out, rows.Err()
}

// Checkout makes name the current branch and returns its head. It does
// not touch any in-memory file state; callers re-materialize.
func (s *Store) Checkout(ctx context.Context, name string) (string, error) {
	id, err := head(ctx, s.db, name)
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE workspace SET branch = ? WHERE id = 1`, name); err != nil {
		return "", fmt.Errorf("snapshot: checkout %s: %w", name, err)
	}
	return id, nil
}
