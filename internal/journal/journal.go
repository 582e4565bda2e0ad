// Package journal persists the operation log between runs.
//
// Every integrated batch, revocation and snapshot capture is appended as a
// record under a monotonically increasing key. Starting a new epoch (after a
// checkout or merge) drops all records, so the journal only ever holds what
// is needed to rebuild the current log on top of its epoch snapshot.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/HendryAvila/forge/internal/oplog"
)

// Record kinds.
const (
	KindOps     = "ops"
	KindRevoke  = "revoke"
	KindCapture = "capture"
)

var (
	recordPrefix = []byte("rec/")
	epochKey     = []byte("meta/epoch")
	seqKey       = []byte("meta/seq")
	peerKey      = []byte("meta/peer")
)

// Config configures the journal database.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     zerolog.Logger
}

// DefaultConfig returns a persistent, synced configuration at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true, Logger: zerolog.Nop()}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, Logger: zerolog.Nop()}
}

// Record is one journal entry.
type Record struct {
	Kind     string            `json:"kind"`
	Ops      []oplog.Operation `json:"ops"`
	Snapshot string            `json:"snapshot,omitempty"`
	Parent   string            `json:"parent,omitempty"`
}

// State is everything recorded since the current epoch started.
type State struct {
	Epoch   string
	Records []Record
}

// Journal is the badger-backed operation journal.
type Journal struct {
	db  *badger.DB
	seq *badger.Sequence
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

// Open opens or creates the journal.
func Open(cfg Config) (*Journal, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("journal: path is required for a persistent journal")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("journal: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: cfg.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open badger: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 256)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: open sequence: %w", err)
	}
	return &Journal{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (j *Journal) Close() error {
	if err := j.seq.Release(); err != nil {
		j.db.Close()
		return fmt.Errorf("journal: release sequence: %w", err)
	}
	return j.db.Close()
}

// StartEpoch drops every record and records the new epoch snapshot.
func (j *Journal) StartEpoch(epoch string) error {
	if err := j.db.DropPrefix(recordPrefix); err != nil {
		return fmt.Errorf("journal: drop records: %w", err)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(epochKey, []byte(epoch))
	})
}

// Peer returns the workspace peer id, storing generate() on first use.
func (j *Journal) Peer(generate func() string) (string, error) {
	var peer string
	err := j.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(peerKey)
		if err == nil {
			v, err := item.ValueCopy(nil)
			peer = string(v)
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		peer = generate()
		return txn.Set(peerKey, []byte(peer))
	})
	if err != nil {
		return "", fmt.Errorf("journal: peer id: %w", err)
	}
	return peer, nil
}

// AppendOps records integrated operations.
func (j *Journal) AppendOps(ops []oplog.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return j.append(Record{Kind: KindOps, Ops: ops})
}

// AppendRevoke records revoked operations.
func (j *Journal) AppendRevoke(ops []oplog.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return j.append(Record{Kind: KindRevoke, Ops: ops})
}

// AppendCapture records that snapshot (child of parent) captured ops.
func (j *Journal) AppendCapture(snapshot, parent string, ops []oplog.Operation) error {
	return j.append(Record{Kind: KindCapture, Ops: ops, Snapshot: snapshot, Parent: parent})
}

func (j *Journal) append(rec Record) error {
	n, err := j.seq.Next()
	if err != nil {
		return fmt.Errorf("journal: next sequence: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: encode %s record: %w", rec.Kind, err)
	}
	key := fmt.Appendf(append([]byte(nil), recordPrefix...), "%020d", n)
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("journal: write %s record: %w", rec.Kind, err)
	}
	return nil
}

// Load returns the epoch and all records in append order.
func (j *Journal) Load() (*State, error) {
	st := &State{}
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(epochKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			st.Epoch = string(v)
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			st.Records = append(st.Records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: load: %w", err)
	}
	return st, nil
}

// Restore rebuilds l from the journal on top of the epoch baseline.
// Operations that no longer integrate are skipped and counted.
func (st *State) Restore(l *oplog.Log, baseline oplog.BaselineFunc) (skipped int) {
	l.Reset(st.Epoch, baseline)
	for _, rec := range st.Records {
		switch rec.Kind {
		case KindOps:
			for _, op := range rec.Ops {
				if _, err := l.Integrate(op); err != nil && !oplog.IsDuplicate(err) {
					skipped++
				}
			}
		case KindRevoke:
			l.Revoke(rec.Ops)
		case KindCapture:
			l.MarkCaptured(rec.Snapshot, rec.Parent, rec.Ops)
		}
	}
	return skipped
}
