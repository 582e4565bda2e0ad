// Package snapshot implements the content-addressed snapshot store.
//
// File contents are stored once per sha256 hash, trees are canonical JSON
// manifests of path to content hash, and snapshots link trees into a
// history with up to two parents. Branches are named heads advanced by
// compare-and-swap. Everything lives in one SQLite database.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is replaceable in tests for deterministic snapshot ids.
var timeNow = time.Now

// DefaultBranch is created with the root snapshot on first open.
const DefaultBranch = "main"

var (
	// ErrDuplicateBranch is returned when creating a branch that exists.
	ErrDuplicateBranch = errors.New("snapshot: branch already exists")

	// ErrBranchNotFound is returned for unknown branch names.
	ErrBranchNotFound = errors.New("snapshot: branch not found")

	// ErrSnapshotNotFound is returned for unknown snapshot ids.
	ErrSnapshotNotFound = errors.New("snapshot: snapshot not found")

	// ErrCurrentBranch is returned when deleting the checked-out branch.
	ErrCurrentBranch = errors.New("snapshot: cannot delete the current branch")
)

// HeadMismatchError reports a lost compare-and-swap on a branch head. The
// caller should recompute its change against Actual and retry.
type HeadMismatchError struct {
	Branch   string
	Expected string
	Actual   string
}

func (e *HeadMismatchError) Error() string {
	return fmt.Sprintf("snapshot: head of %s moved: expected %s, found %s", e.Branch, short(e.Expected), short(e.Actual))
}

// ─── Types ───────────────────────────────────────────────────────────────────

// Snapshot is an immutable commit of a tree.
type Snapshot struct {
	ID        string            `json:"id"`
	Parents   []string          `json:"parent_ids"`
	Tree      map[string]string `json:"tree"` // path -> content hash
	TreeHash  string            `json:"tree_hash"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
}

// Branch is a named, movable pointer to a snapshot.
type Branch struct {
	Name    string `json:"name"`
	Head    string `json:"head"`
	Current bool   `json:"current,omitempty"`
}

// Conflict is a file-level problem that blocked a change or merge.
type Conflict struct {
	Path   string `json:"file_path"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds snapshot store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig stores the database under .forge in the working directory.
func DefaultConfig() Config {
	return Config{DataDir: ".forge"}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the snapshot store backed by SQLite.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

type storeHooks struct {
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New opens (or creates) the store under cfg.DataDir, runs migrations and
// makes sure the default branch and its root snapshot exist.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("snapshot: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "forge.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open database: %w", err)
	}
	// One writer at a time; transactions read then write, and SQLite
	// refuses to upgrade a read lock held by a second connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: migration: %w", err)
	}
	if err := s.ensureRoot(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS blobs (
			hash    TEXT PRIMARY KEY,
			content TEXT    NOT NULL,
			size    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trees (
			hash     TEXT PRIMARY KEY,
			manifest TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			id         TEXT PRIMARY KEY,
			tree_hash  TEXT NOT NULL REFERENCES trees(hash),
			parents    TEXT NOT NULL,
			message    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshot_files (
			snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
			path        TEXT NOT NULL,
			blob_hash   TEXT NOT NULL REFERENCES blobs(hash),
			PRIMARY KEY (snapshot_id, path)
		);

		CREATE TABLE IF NOT EXISTS snapshot_ops (
			snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
			path        TEXT NOT NULL,
			base        TEXT NOT NULL,
			ops         TEXT NOT NULL,
			PRIMARY KEY (snapshot_id, path)
		);

		CREATE TABLE IF NOT EXISTS branches (
			name       TEXT PRIMARY KEY,
			head       TEXT NOT NULL REFERENCES snapshots(id),
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS workspace (
			id     INTEGER PRIMARY KEY CHECK (id = 1),
			branch TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshot_files_blob ON snapshot_files(blob_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// rootTimestamp keeps the root snapshot id identical across stores.
var rootTimestamp = time.Unix(0, 0).UTC()

func (s *Store) ensureRoot(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches`).Scan(&n); err != nil {
		return fmt.Errorf("snapshot: count branches: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	root, err := s.writeSnapshot(ctx, tx, map[string]string{}, nil, "root", rootTimestamp)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO branches (name, head, created_at) VALUES (?, ?, ?)`,
		DefaultBranch, root.ID, formatTime(timeNow()),
	); err != nil {
		return fmt.Errorf("snapshot: create %s: %w", DefaultBranch, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO workspace (id, branch) VALUES (1, ?)`, DefaultBranch,
	); err != nil {
		return fmt.Errorf("snapshot: set workspace: %w", err)
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("snapshot: commit root: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
