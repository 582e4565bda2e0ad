package snapshot

import (
	"database/sql"
	"time"
)

// DB exposes the internal *sql.DB for test helpers in snapshot_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetClock replaces timeNow and returns a restore func.
func SetClock(fn func() time.Time) func() {
	prev := timeNow
	timeNow = fn
	return func() { timeNow = prev }
}

// FailCommits makes every transaction commit fail with err.
func (s *Store) FailCommits(err error) {
	s.hooks.commit = func(tx *sql.Tx) error {
		_ = tx.Rollback()
		return err
	}
}
