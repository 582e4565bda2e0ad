// Package oplog stores causally ordered text operations per file and
// materializes the text they produce.
//
// Operations are totally ordered by (lamport, peer, seq). Each operation
// carries a context vector naming, per peer, the latest operation on the
// same file its author had integrated. Replay resolves every operation's
// position against that context, so materialization is a pure function of
// the integrated set: two peers holding the same operations produce the same
// text no matter in which order the operations arrived.
//
// Concurrent inserts at the same gap land in total order. Deletes only remove
// characters their author saw; concurrently inserted characters survive.
package oplog

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrOutOfRange is returned when an operation's position or length does
	// not fit the text its author saw. The operation is not integrated.
	ErrOutOfRange = errors.New("oplog: position out of range")

	// ErrNoOp is returned for operations that cannot change the text, such
	// as a delete on an empty file. They are logged and ignored.
	ErrNoOp = errors.New("oplog: operation is a no-op")

	// ErrCausality is returned when an operation's context names an ancestor
	// that does not sort strictly before it.
	ErrCausality = errors.New("oplog: operation sorts before one of its ancestors")

	// ErrDuplicate is returned for an operation whose key is already live or
	// buffered. The log is unchanged.
	ErrDuplicate = errors.New("oplog: operation already integrated")
)

// Kind is the type of a text operation.
type Kind string

const (
	KindInsert  Kind = "insert"
	KindDelete  Kind = "delete"
	KindReplace Kind = "replace"
)

// validKinds is the set of allowed operation kinds.
var validKinds = map[Kind]bool{
	KindInsert:  true,
	KindDelete:  true,
	KindReplace: true,
}

// Operation is an immutable text edit on one file. Its JSON form is the
// peer sync message.
type Operation struct {
	PeerID   string            `json:"peer_id"`
	Lamport  uint64            `json:"lamport_clock"`
	Seq      uint64            `json:"local_sequence"`
	Path     string            `json:"file_path"`
	Kind     Kind              `json:"kind"`
	Position int               `json:"position"`
	Length   int               `json:"length,omitempty"`
	Content  string            `json:"content,omitempty"`
	Context  map[string]uint64 `json:"context,omitempty"`
}

// Key identifies an operation. The zero Key stands for the file baseline.
type Key struct {
	Peer string `json:"peer_id"`
	Seq  uint64 `json:"local_sequence"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Peer, k.Seq)
}

// Key returns the operation's identity.
func (o Operation) Key() Key {
	return Key{Peer: o.PeerID, Seq: o.Seq}
}

// Less reports whether o sorts before p in the total order.
func (o Operation) Less(p Operation) bool {
	if o.Lamport != p.Lamport {
		return o.Lamport < p.Lamport
	}
	if o.PeerID != p.PeerID {
		return o.PeerID < p.PeerID
	}
	return o.Seq < p.Seq
}

// Sees reports whether the operation identified by k is a causal ancestor
// of o. The baseline is seen by every operation.
func (o Operation) Sees(k Key) bool {
	if k.Peer == "" {
		return true
	}
	return o.Context[k.Peer] >= k.Seq
}

// Concurrent reports whether neither operation is an ancestor of the other.
func (o Operation) Concurrent(p Operation) bool {
	return !o.Sees(p.Key()) && !p.Sees(o.Key())
}

// removeLen returns how many characters the operation removes.
func (o Operation) removeLen() int {
	switch o.Kind {
	case KindDelete:
		if o.Length == 0 {
			return utf8.RuneCountInString(o.Content)
		}
		return o.Length
	case KindReplace:
		return o.Length
	default:
		return 0
	}
}

// insertText returns the text the operation inserts.
func (o Operation) insertText() string {
	if o.Kind == KindDelete {
		return ""
	}
	return o.Content
}

// Validate checks the fields that do not depend on file contents.
func (o Operation) Validate() error {
	if o.Path == "" {
		return fmt.Errorf("oplog: operation has no file path")
	}
	if !validKinds[o.Kind] {
		return fmt.Errorf("oplog: invalid operation kind %q: must be one of: insert, delete, replace", o.Kind)
	}
	if o.Position < 0 || o.Length < 0 {
		return fmt.Errorf("%w: negative position or length (%d, %d)", ErrOutOfRange, o.Position, o.Length)
	}
	return nil
}

// isNoOp reports operations that cannot change any text.
func (o Operation) isNoOp() bool {
	return o.removeLen() == 0 && o.insertText() == ""
}

// clone returns a copy that does not share the context map.
func (o Operation) clone() Operation {
	if o.Context != nil {
		ctx := make(map[string]uint64, len(o.Context))
		for k, v := range o.Context {
			ctx[k] = v
		}
		o.Context = ctx
	}
	return o
}

// EncodeMessage serializes an operation into the peer sync wire format.
func EncodeMessage(op Operation) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("oplog: encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a peer sync message and validates it.
func DecodeMessage(data []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("oplog: decode message: %w", err)
	}
	if op.PeerID == "" || op.Lamport == 0 || op.Seq == 0 {
		return Operation{}, fmt.Errorf("oplog: decode message: missing peer_id, lamport_clock or local_sequence")
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}
