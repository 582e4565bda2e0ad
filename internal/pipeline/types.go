// Package pipeline applies proposed text operations end to end.
//
// A batch is integrated into the operation log, the affected files are
// materialized and diffed against the current branch head, the diffs are
// classified, and a green (or approved yellow) result is committed as a new
// snapshot. Rejected batches are revoked from the log and reported as
// conflicts. The journal keeps uncommitted operations across restarts.
package pipeline

import (
	"errors"
	"time"

	"github.com/HendryAvila/forge/internal/classifier"
	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/snapshot"
)

// ErrUncommitted is returned when an epoch change would drop operations
// that no snapshot holds yet.
var ErrUncommitted = errors.New("pipeline: uncommitted operations")

// ErrEmptyProposal is returned for a proposal without operations.
var ErrEmptyProposal = errors.New("pipeline: proposal has no operations")

// Config tunes a Pipeline.
type Config struct {
	// PeerID identifies this workspace in operations. Empty means the
	// journal's stored id, or a fresh uuid without a journal.
	PeerID string
	// ClassifyTimeout bounds one classification round.
	ClassifyTimeout time.Duration
	// MaxCommitRetries bounds commit attempts after losing a head race.
	MaxCommitRetries int
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{ClassifyTimeout: 5 * time.Second, MaxCommitRetries: 3}
}

// Proposal is one batch of operations.
type Proposal struct {
	// Ops with a zero Lamport clock are authored locally and positioned
	// against the current text. Others are remote and integrated as is.
	Ops     []oplog.Operation `json:"ops"`
	Message string            `json:"message,omitempty"`
	// Approve lets a yellow verdict commit.
	Approve bool `json:"approve,omitempty"`
}

// Result reports what happened to a batch. Duplicates counts operations
// the log already held; they are neither classified nor revoked by the batch.
type Result struct {
	Committed  bool                     `json:"committed"`
	Snapshot   *snapshot.Snapshot       `json:"snapshot,omitempty"`
	Verdict    classifier.Verdict       `json:"verdict,omitempty"`
	Files      []classifier.FileVerdict `json:"files,omitempty"`
	Conflicts  []snapshot.Conflict      `json:"conflicts,omitempty"`
	Applied    []oplog.Operation        `json:"applied,omitempty"`
	Skipped    int                      `json:"skipped,omitempty"` // no-op operations
	Duplicates int                      `json:"duplicates,omitempty"`
	Attempts   int                      `json:"attempts,omitempty"`
}

// Status summarizes the workspace.
type Status struct {
	Peer        string                    `json:"peer_id"`
	Branch      string                    `json:"branch"`
	Head        string                    `json:"head"`
	Epoch       string                    `json:"epoch"`
	Clock       uint64                    `json:"lamport_clock"`
	Uncommitted []string                  `json:"uncommitted,omitempty"`
	Pending     int                       `json:"pending,omitempty"`
	Voters      []string                  `json:"voters"`
	Vetoes      map[string]classifier.Veto `json:"vetoes,omitempty"`
}
