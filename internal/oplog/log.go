package oplog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// BaselineFunc loads the text a file had in the epoch snapshot. Files that
// did not exist return "".
type BaselineFunc func(path string) (string, error)

// Log is the per-peer operation log. Files are independent: each has its
// own lock, so integrations on different files proceed in parallel.
type Log struct {
	peer   string
	clock  atomic.Uint64
	seq    atomic.Uint64
	logger zerolog.Logger

	mu       sync.RWMutex // guards files, epoch, baseline and parents
	files    map[string]*fileLog
	epoch    string
	baseline BaselineFunc
	parents  map[string]string // snapshot id -> parent, for capture ancestry
}

// fileLog holds the integrated and pending operations of one file.
type fileLog struct {
	mu       sync.Mutex
	path     string
	baseline string
	ops      []Operation // integrated, in total order
	byKey    map[Key]Operation
	vector   map[string]uint64
	revoked  map[Key]bool
	captured map[Key]string // op -> snapshot that first contained it
	pending  []Operation
	doc      *document // cached replay of ops, nil when stale
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for dropped and ignored operations.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithBaseline sets the loader for file texts at the epoch snapshot.
func WithBaseline(epoch string, fn BaselineFunc) Option {
	return func(l *Log) {
		l.epoch = epoch
		l.baseline = fn
	}
}

// New creates an empty log for the given peer.
func New(peer string, opts ...Option) *Log {
	l := &Log{
		peer:     peer,
		logger:   zerolog.Nop(),
		files:    make(map[string]*fileLog),
		baseline: func(string) (string, error) { return "", nil },
		parents:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Peer returns the local peer id.
func (l *Log) Peer() string { return l.peer }

// Clock returns the current Lamport clock.
func (l *Log) Clock() uint64 { return l.clock.Load() }

// Epoch returns the snapshot the file baselines come from.
func (l *Log) Epoch() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epoch
}

// observe advances the clock to at least c.
func (l *Log) observe(c uint64) {
	for {
		cur := l.clock.Load()
		if c <= cur || l.clock.CompareAndSwap(cur, c) {
			return
		}
	}
}

// tick returns max(clock, floor)+1 and stores it.
func (l *Log) tick(floor uint64) uint64 {
	for {
		cur := l.clock.Load()
		next := max(cur, floor) + 1
		if l.clock.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// file returns the log for path, creating it from the baseline on first use.
func (l *Log) file(path string) (*fileLog, error) {
	l.mu.RLock()
	f, ok := l.files[path]
	load := l.baseline
	l.mu.RUnlock()
	if ok {
		return f, nil
	}

	base, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("oplog: load baseline for %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.files[path]; ok {
		return f, nil
	}
	f = &fileLog{
		path:     path,
		baseline: base,
		byKey:    make(map[Key]Operation),
		vector:   make(map[string]uint64),
		revoked:  make(map[Key]bool),
		captured: make(map[Key]string),
	}
	l.files[path] = f
	return f, nil
}

// lookup returns the log for path without creating it.
func (l *Log) lookup(path string) *fileLog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.files[path]
}

// Propose stamps a locally authored operation and integrates it. The
// returned operation carries the assigned clock, sequence and context.
// Any Lamport value on op is used as a floor for the new clock.
func (l *Log) Propose(op Operation) (Operation, error) {
	op.PeerID = l.peer
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	if op.isNoOp() {
		return Operation{}, ErrNoOp
	}
	f, err := l.file(op.Path)
	if err != nil {
		return Operation{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	op.Lamport = l.tick(op.Lamport)
	op.Seq = l.seq.Add(1)
	op.Context = make(map[string]uint64, len(f.vector))
	for p, s := range f.vector {
		op.Context[p] = s
	}
	if err := f.insert(op); err != nil {
		return Operation{}, err
	}
	return op.clone(), nil
}

// Integrate merges a remote operation and returns the operations that
// became live: op itself followed by any buffered operations it unblocked.
// Operations whose ancestors are not yet integrated are buffered and nothing
// is returned. A revoked operation sent again is revived. Integrating an
// operation that is already live or buffered returns ErrDuplicate.
func (l *Log) Integrate(op Operation) ([]Operation, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if op.PeerID == "" || op.Seq == 0 {
		return nil, fmt.Errorf("oplog: remote operation needs peer_id and local_sequence")
	}
	if op.isNoOp() {
		return nil, ErrNoOp
	}
	op = op.clone()
	l.observe(op.Lamport)
	if op.PeerID == l.peer {
		// Own operations coming back from a peer keep the sequence counter ahead.
		for {
			cur := l.seq.Load()
			if op.Seq <= cur || l.seq.CompareAndSwap(cur, op.Seq) {
				break
			}
		}
	}

	f, err := l.file(op.Path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	k := op.Key()
	if known, ok := f.byKey[k]; ok {
		if !f.revoked[k] {
			return nil, ErrDuplicate
		}
		delete(f.revoked, k)
		f.doc = nil
		l.logger.Debug().Str("file", op.Path).Stringer("op", k).Msg("revived revoked operation")
		return []Operation{known.clone()}, nil
	}
	if !f.deliverable(op) {
		for _, p := range f.pending {
			if p.Key() == k {
				return nil, ErrDuplicate
			}
		}
		f.pending = append(f.pending, op)
		l.logger.Debug().Str("file", op.Path).Stringer("op", k).Msg("buffered operation until ancestors arrive")
		return nil, nil
	}
	if err := f.insert(op); err != nil {
		return nil, err
	}
	live := []Operation{op.clone()}
	for _, d := range f.drain(l.logger) {
		live = append(live, d.clone())
	}
	return live, nil
}

// deliverable reports whether every ancestor named by op is integrated.
func (f *fileLog) deliverable(op Operation) bool {
	for p, s := range op.Context {
		if f.vector[p] < s {
			return false
		}
	}
	return true
}

// drain integrates pending operations that became deliverable and returns
// them in integration order.
func (f *fileLog) drain(logger zerolog.Logger) (drained []Operation) {
	for progress := true; progress; {
		progress = false
		rest := f.pending[:0]
		for _, op := range f.pending {
			if _, ok := f.byKey[op.Key()]; ok {
				progress = true
				continue
			}
			if !f.deliverable(op) {
				rest = append(rest, op)
				continue
			}
			progress = true
			if err := f.insert(op); err != nil {
				logger.Warn().Err(err).Str("file", op.Path).Stringer("op", op.Key()).Msg("dropped buffered operation")
				continue
			}
			drained = append(drained, op)
		}
		f.pending = rest
	}
	return drained
}

// insert places op in the total order and replays what is needed.
func (f *fileLog) insert(op Operation) error {
	for p, s := range op.Context {
		if anc, ok := f.byKey[Key{Peer: p, Seq: s}]; ok && !anc.Less(op) {
			return fmt.Errorf("%w: %s after %s", ErrCausality, anc.Key(), op.Key())
		}
	}

	i := sort.Search(len(f.ops), func(i int) bool { return op.Less(f.ops[i]) })
	if i == len(f.ops) && f.doc != nil {
		if err := f.doc.apply(op); err != nil {
			return err
		}
	} else {
		ops := make([]Operation, 0, len(f.ops)+1)
		ops = append(ops, f.ops[:i]...)
		ops = append(ops, op)
		ops = append(ops, f.ops[i:]...)
		doc, err := replay(f.baseline, ops, f.revoked, op.Key())
		if err != nil {
			return err
		}
		f.ops = ops
		f.doc = doc
		f.record(op)
		return nil
	}
	f.ops = append(f.ops, op)
	f.record(op)
	return nil
}

func (f *fileLog) record(op Operation) {
	f.byKey[op.Key()] = op
	if op.Seq > f.vector[op.PeerID] {
		f.vector[op.PeerID] = op.Seq
	}
}

// replay rebuilds a document from scratch. An error for strict is returned;
// other operations that no longer fit are skipped.
func replay(baseline string, ops []Operation, revoked map[Key]bool, strict Key) (*document, error) {
	doc := newDocument(baseline)
	for _, op := range ops {
		if revoked[op.Key()] {
			continue
		}
		if err := doc.apply(op); err != nil {
			if op.Key() == strict {
				return nil, err
			}
		}
	}
	return doc, nil
}

func (f *fileLog) text() string {
	if f.doc == nil {
		f.doc, _ = replay(f.baseline, f.ops, f.revoked, Key{})
	}
	return f.doc.Text()
}

// Materialize returns the current text of path.
func (l *Log) Materialize(path string) (string, error) {
	f, err := l.file(path)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text(), nil
}

// FileState is the text of a file together with the live operations no
// snapshot holds yet, read under one lock.
type FileState struct {
	Path       string
	Text       string
	Uncaptured []Operation
}

// State returns the current FileState of path.
func (l *Log) State(path string) (FileState, error) {
	f, err := l.file(path)
	if err != nil {
		return FileState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return FileState{Path: path, Text: f.text(), Uncaptured: f.uncaptured()}, nil
}

// Files returns the paths that have at least one live operation, sorted.
func (l *Log) Files() []string {
	l.mu.RLock()
	files := make([]*fileLog, 0, len(l.files))
	for _, f := range l.files {
		files = append(files, f)
	}
	l.mu.RUnlock()

	var out []string
	for _, f := range files {
		f.mu.Lock()
		if f.liveCount() > 0 {
			out = append(out, f.path)
		}
		f.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

func (f *fileLog) liveCount() int {
	n := 0
	for _, op := range f.ops {
		if !f.revoked[op.Key()] {
			n++
		}
	}
	return n
}

// Ops returns the integrated operations of path in total order, including
// revoked ones.
func (l *Log) Ops(path string) []Operation {
	f := l.lookup(path)
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Operation, len(f.ops))
	for i, op := range f.ops {
		out[i] = op.clone()
	}
	return out
}

// Pending returns the buffered operations of path.
func (l *Log) Pending(path string) []Operation {
	f := l.lookup(path)
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Operation, len(f.pending))
	for i, op := range f.pending {
		out[i] = op.clone()
	}
	return out
}

// Revoke excludes operations from materialization. They stay in the log so
// their keys keep satisfying causal contexts; Integrate revives them.
func (l *Log) Revoke(ops []Operation) {
	byFile := make(map[string][]Key)
	for _, op := range ops {
		byFile[op.Path] = append(byFile[op.Path], op.Key())
	}
	for path, keys := range byFile {
		f := l.lookup(path)
		if f == nil {
			continue
		}
		f.mu.Lock()
		for _, k := range keys {
			if _, ok := f.byKey[k]; ok {
				f.revoked[k] = true
			}
		}
		f.doc = nil
		f.mu.Unlock()
	}
}

// Uncaptured returns the live operations of path that no snapshot holds yet.
func (l *Log) Uncaptured(path string) []Operation {
	f := l.lookup(path)
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uncaptured()
}

func (f *fileLog) uncaptured() []Operation {
	var out []Operation
	for _, op := range f.ops {
		k := op.Key()
		if f.revoked[k] {
			continue
		}
		if _, ok := f.captured[k]; ok {
			continue
		}
		out = append(out, op.clone())
	}
	return out
}

// MarkCaptured records that snapshot id (child of parent) contains ops.
func (l *Log) MarkCaptured(id, parent string, ops []Operation) {
	if parent != "" {
		l.mu.Lock()
		l.parents[id] = parent
		l.mu.Unlock()
	}

	for _, op := range ops {
		f := l.lookup(op.Path)
		if f == nil {
			continue
		}
		f.mu.Lock()
		if _, ok := f.captured[op.Key()]; !ok {
			f.captured[op.Key()] = id
		}
		f.mu.Unlock()
	}
}

// DivergedSince returns, sorted, the files with live operations that the
// given snapshot and its recorded ancestors do not contain. An id the log
// never captured into reports every file with live operations.
func (l *Log) DivergedSince(id string) []string {
	l.mu.RLock()
	covered := map[string]bool{}
	for cur := id; cur != ""; {
		if covered[cur] {
			break
		}
		covered[cur] = true
		cur = l.parents[cur]
	}
	files := make([]*fileLog, 0, len(l.files))
	for _, f := range l.files {
		files = append(files, f)
	}
	l.mu.RUnlock()

	var out []string
	for _, f := range files {
		f.mu.Lock()
		for _, op := range f.ops {
			k := op.Key()
			if f.revoked[k] {
				continue
			}
			if snap, ok := f.captured[k]; !ok || !covered[snap] {
				out = append(out, f.path)
				break
			}
		}
		f.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// Reset drops every file log and starts a new epoch whose baselines come
// from fn. Clocks and sequence counters keep running.
func (l *Log) Reset(epoch string, fn BaselineFunc) {
	if fn == nil {
		fn = func(string) (string, error) { return "", nil }
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files = make(map[string]*fileLog)
	l.parents = make(map[string]string)
	l.epoch = epoch
	l.baseline = fn
}

// IsOutOfRange reports whether err is an ErrOutOfRange.
func IsOutOfRange(err error) bool { return errors.Is(err, ErrOutOfRange) }

// IsNoOp reports whether err is an ErrNoOp.
func IsNoOp(err error) bool { return errors.Is(err, ErrNoOp) }

// IsDuplicate reports whether err is an ErrDuplicate.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
