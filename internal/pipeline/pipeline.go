package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HendryAvila/forge/internal/classifier"
	"github.com/HendryAvila/forge/internal/journal"
	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/snapshot"
	"github.com/HendryAvila/forge/internal/textdiff"
)

// Pipeline owns the operation log of one workspace and moves batches from
// the log through the classifier into the snapshot store.
type Pipeline struct {
	log        *oplog.Log
	store      *snapshot.Store
	classifier *classifier.Classifier
	journal    *journal.Journal // nil keeps uncommitted operations in memory only
	cfg        Config
	logger     zerolog.Logger
	tracer     trace.Tracer

	// applyMu serializes batches so a commit never captures operations of
	// a batch that is still being classified.
	applyMu sync.Mutex
	// epochMu guards epoch changes against concurrent integration.
	epochMu sync.RWMutex

	hooks hooks
}

// hooks allow tests to inject races.
type hooks struct {
	beforeCommit func(ctx context.Context, branch, parent string)
}

// New builds a pipeline and restores uncommitted operations from j.
func New(ctx context.Context, store *snapshot.Store, cls *classifier.Classifier, j *journal.Journal, cfg Config, logger zerolog.Logger) (*Pipeline, error) {
	def := DefaultConfig()
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = def.ClassifyTimeout
	}
	if cfg.MaxCommitRetries < 1 {
		cfg.MaxCommitRetries = def.MaxCommitRetries
	}

	peer := cfg.PeerID
	if peer == "" {
		if j != nil {
			var err error
			if peer, err = j.Peer(uuid.NewString); err != nil {
				return nil, err
			}
		} else {
			peer = uuid.NewString()
		}
	}
	cfg.PeerID = peer
	logger = logger.With().Str("peer", peer).Logger()

	p := &Pipeline{
		log:        oplog.New(peer, oplog.WithLogger(logger)),
		store:      store,
		classifier: cls,
		journal:    j,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}
	if _, err := p.Recover(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Log exposes the operation log for inspection.
func (p *Pipeline) Log() *oplog.Log { return p.log }

// Classifier exposes the classifier for voter registration and vetoes.
func (p *Pipeline) Classifier() *classifier.Classifier { return p.classifier }

// Store exposes the snapshot store for read-only queries.
func (p *Pipeline) Store() *snapshot.Store { return p.store }

// Recover rebuilds the log from the journal and returns how many journaled
// operations no longer integrated. Without a journal, or when the journal
// has no usable epoch, the log restarts at the current head.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	p.epochMu.Lock()
	defer p.epochMu.Unlock()

	_, head, err := p.currentHead(ctx)
	if err != nil {
		return 0, err
	}
	if p.journal == nil {
		return 0, p.startEpoch(head)
	}

	st, err := p.journal.Load()
	if err != nil {
		return 0, err
	}
	if st.Epoch != "" {
		_, err := p.store.Get(ctx, st.Epoch)
		switch {
		case err == nil:
			skipped := st.Restore(p.log, p.baseline(st.Epoch))
			p.logger.Info().
				Str("epoch", st.Epoch).
				Int("records", len(st.Records)).
				Int("skipped", skipped).
				Msg("restored operation log from journal")
			return skipped, nil
		case errors.Is(err, snapshot.ErrSnapshotNotFound):
			p.logger.Warn().Str("epoch", st.Epoch).Msg("journal epoch is not in the store, starting over")
		default:
			return 0, err
		}
	}
	return 0, p.startEpoch(head)
}

// startEpoch re-materializes every file from snapshot id. Callers hold
// epochMu for writing.
func (p *Pipeline) startEpoch(id string) error {
	p.log.Reset(id, p.baseline(id))
	if p.journal != nil {
		if err := p.journal.StartEpoch(id); err != nil {
			return fmt.Errorf("pipeline: start epoch: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) baseline(id string) oplog.BaselineFunc {
	return func(path string) (string, error) {
		content, _, err := p.store.ReadFile(context.Background(), id, path)
		return content, err
	}
}

func (p *Pipeline) currentHead(ctx context.Context) (branch, head string, err error) {
	branch, err = p.store.Current(ctx)
	if err != nil {
		return "", "", err
	}
	head, err = p.store.Head(ctx, branch)
	if err != nil {
		return "", "", err
	}
	return branch, head, nil
}

// ─── Apply ──────────────────────────────────────────────────────────────────

// Apply integrates, classifies and commits a batch onto the current branch.
// A red verdict, a yellow verdict without approval, or a file changed by a
// concurrent commit revokes the batch and returns the conflicts with
// Committed false. Errors also revoke the batch; the head never moves
// unless the commit succeeded.
func (p *Pipeline) Apply(ctx context.Context, prop Proposal) (*Result, error) {
	return p.apply(ctx, prop, true)
}

// Force applies a batch without classification.
func (p *Pipeline) Force(ctx context.Context, prop Proposal) (*Result, error) {
	return p.apply(ctx, prop, false)
}

func (p *Pipeline) apply(ctx context.Context, prop Proposal, classify bool) (res *Result, err error) {
	if len(prop.Ops) == 0 {
		return nil, ErrEmptyProposal
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.apply", trace.WithAttributes(
		attribute.Int("ops", len(prop.Ops)),
		attribute.Bool("force", !classify),
	))
	start := timeNow()
	outcome := outcomeError
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		recordApply(ctx, outcome, timeNow().Sub(start))
	}()

	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	p.epochMu.RLock()
	defer p.epochMu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	applied, skipped, dups, err := p.integrate(prop.Ops)
	if err != nil {
		p.revoke(ctx, applied, "invalid")
		return nil, err
	}
	res = &Result{Applied: applied, Skipped: skipped, Duplicates: dups}
	if len(applied) == 0 {
		outcome = outcomeUnchanged
		res.Verdict = classifier.Green
		return res, nil
	}
	if p.journal != nil {
		if err := p.journal.AppendOps(applied); err != nil {
			p.revoke(ctx, applied, "journal")
			return nil, err
		}
	}

	paths := pathsOf(applied)
	branch, _, err := p.currentHead(ctx)
	if err != nil {
		p.revoke(ctx, applied, "error")
		return nil, err
	}
	span.SetAttributes(attribute.String("branch", branch))

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		parent, err := p.store.Head(ctx, branch)
		if err != nil {
			p.revoke(ctx, applied, "error")
			return nil, err
		}
		ch, err := p.changes(ctx, parent, paths)
		if err != nil {
			p.revoke(ctx, applied, "error")
			return nil, err
		}

		if len(ch.diffs) == 0 {
			// The batch cancelled itself out; the head already holds its effect.
			p.capture(parent, "", ch.uncaptured)
			if res.Snapshot, err = p.store.Get(ctx, parent); err != nil {
				return nil, err
			}
			res.Verdict = classifier.Green
			outcome = outcomeUnchanged
			return res, nil
		}

		if classify {
			cctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
			verdict, err := p.classifier.Classify(cctx, ch.diffs)
			cancel()
			if err != nil {
				p.revoke(ctx, applied, "cancelled")
				return nil, err
			}
			res.Verdict, res.Files = verdict.Verdict, verdict.Files
			if conflicts := rejected(verdict, prop.Approve); len(conflicts) > 0 {
				p.revoke(ctx, applied, string(verdict.Verdict))
				res.Conflicts = conflicts
				outcome = outcomeRejected
				p.logger.Info().
					Str("branch", branch).
					Str("verdict", string(verdict.Verdict)).
					Int("conflicts", len(conflicts)).
					Msg("batch rejected by classifier")
				return res, nil
			}
		}

		if err := ctx.Err(); err != nil {
			p.revoke(ctx, applied, "cancelled")
			return nil, err
		}
		if p.hooks.beforeCommit != nil {
			p.hooks.beforeCommit(ctx, branch, parent)
		}

		ops := make(map[string][]oplog.Operation, len(ch.files))
		for path := range ch.files {
			ops[path] = ch.uncaptured[path]
		}
		message := prop.Message
		if message == "" {
			message = "apply " + strings.Join(sortedPaths(ch.files), ", ")
		}
		snap, err := p.store.Commit(ctx, snapshot.CommitRequest{
			Branch:  branch,
			Parent:  parent,
			Files:   ch.files,
			Ops:     ops,
			Base:    p.log.Epoch(),
			Message: message,
		})

		var mismatch *snapshot.HeadMismatchError
		if errors.As(err, &mismatch) {
			recordRetry(ctx, branch)
			p.logger.Warn().
				Str("branch", branch).
				Str("expected", mismatch.Expected).
				Str("actual", mismatch.Actual).
				Int("attempt", attempt).
				Msg("lost head race")

			raced, derr := p.raced(ctx, parent, mismatch.Actual, paths)
			if derr != nil {
				p.revoke(ctx, applied, "error")
				return nil, derr
			}
			if len(raced) > 0 {
				p.revoke(ctx, applied, "raced")
				p.resync(mismatch.Actual)
				res.Conflicts = raced
				outcome = outcomeRaced
				return res, nil
			}
			if attempt >= p.cfg.MaxCommitRetries {
				p.revoke(ctx, applied, "raced")
				return nil, fmt.Errorf("pipeline: commit on %s after %d attempts: %w", branch, attempt, err)
			}
			continue
		}
		if err != nil {
			p.revoke(ctx, applied, "error")
			return nil, err
		}

		p.capture(snap.ID, parent, ch.uncaptured)
		res.Committed = true
		res.Snapshot = snap
		outcome = outcomeCommitted
		p.logger.Info().
			Str("branch", branch).
			Str("snapshot", snap.ID).
			Int("files", len(ch.files)).
			Int("attempts", attempt).
			Msg("committed batch")
		return res, nil
	}
}

// integrate adds ops to the log and returns the operations that became live
// because of this batch. Only those are revoked if the batch fails, so
// operations the log already held survive a rejection. No-ops are skipped,
// duplicates are counted, and any other failure stops the batch and returns
// what was integrated so far.
func (p *Pipeline) integrate(ops []oplog.Operation) (applied []oplog.Operation, skipped, dups int, err error) {
	for _, op := range ops {
		if op.Lamport == 0 {
			stamped, err := p.log.Propose(op)
			if oplog.IsNoOp(err) {
				p.logger.Info().Str("file", op.Path).Str("kind", string(op.Kind)).Msg("ignored no-op operation")
				skipped++
				continue
			}
			if err != nil {
				return applied, skipped, dups, err
			}
			applied = append(applied, stamped)
			continue
		}

		live, err := p.log.Integrate(op)
		switch {
		case oplog.IsNoOp(err):
			p.logger.Info().Str("file", op.Path).Stringer("op", op.Key()).Msg("ignored no-op operation")
			skipped++
			continue
		case oplog.IsDuplicate(err):
			p.logger.Debug().Str("file", op.Path).Stringer("op", op.Key()).Msg("operation already integrated")
			dups++
			continue
		case err != nil:
			return applied, skipped, dups, err
		}
		applied = append(applied, live...)
	}
	return applied, skipped, dups, nil
}

// changeSet is the materialized state of a batch's files against a head.
type changeSet struct {
	diffs      []textdiff.FileDiff
	files      map[string]string // changed path -> new content
	uncaptured map[string][]oplog.Operation
}

// changes diffs the materialized text of paths against snapshot parent.
func (p *Pipeline) changes(ctx context.Context, parent string, paths []string) (*changeSet, error) {
	ch := &changeSet{
		files:      make(map[string]string),
		uncaptured: make(map[string][]oplog.Operation),
	}
	for _, path := range paths {
		st, err := p.log.State(path)
		if err != nil {
			return nil, err
		}
		ch.uncaptured[path] = st.Uncaptured
		d, err := p.diffAgainst(ctx, parent, path, st.Text)
		if err != nil {
			return nil, err
		}
		if !d.Changed() {
			continue
		}
		ch.diffs = append(ch.diffs, d)
		ch.files[path] = st.Text
	}
	return ch, nil
}

func (p *Pipeline) diffAgainst(ctx context.Context, id, path, text string) (textdiff.FileDiff, error) {
	old, ok, err := p.store.ReadFile(ctx, id, path)
	if err != nil {
		return textdiff.FileDiff{}, err
	}
	d := textdiff.Compute(path, old, text)
	if ok {
		d.OldHash = snapshot.HashContent(old)
	}
	d.NewHash = snapshot.HashContent(text)
	return d, nil
}

// capture marks ops as held by snapshot id.
func (p *Pipeline) capture(id, parent string, byPath map[string][]oplog.Operation) {
	var ops []oplog.Operation
	for _, path := range sortedKeys(byPath) {
		ops = append(ops, byPath[path]...)
	}
	if len(ops) == 0 {
		return
	}
	p.log.MarkCaptured(id, parent, ops)
	if p.journal != nil {
		if err := p.journal.AppendCapture(id, parent, ops); err != nil {
			// The snapshot is durable; without the record the operations are
			// captured again by the next commit after a restart.
			p.logger.Error().Err(err).Str("snapshot", id).Msg("failed to journal capture")
		}
	}
}

// revoke removes a rejected batch from materialization.
func (p *Pipeline) revoke(ctx context.Context, ops []oplog.Operation, reason string) {
	if len(ops) == 0 {
		return
	}
	p.log.Revoke(ops)
	recordRevoked(ctx, len(ops), reason)
	if p.journal != nil {
		if err := p.journal.AppendRevoke(ops); err != nil {
			p.logger.Error().Err(err).Int("ops", len(ops)).Msg("failed to journal revocation")
		}
	}
	p.logger.Debug().Int("ops", len(ops)).Str("reason", reason).Msg("revoked batch")
}

// raced returns a conflict for every path the racing commit changed.
func (p *Pipeline) raced(ctx context.Context, parent, actual string, paths []string) ([]snapshot.Conflict, error) {
	diffs, err := p.store.Diff(ctx, parent, actual)
	if err != nil {
		return nil, err
	}
	ours := make(map[string]bool, len(paths))
	for _, path := range paths {
		ours[path] = true
	}
	var out []snapshot.Conflict
	for _, d := range diffs {
		if !ours[d.Path] {
			continue
		}
		out = append(out, snapshot.Conflict{
			Path:   d.Path,
			Line:   d.FirstChangedLine(),
			Reason: "changed by concurrent commit " + shortID(actual),
		})
	}
	return out, nil
}

// resync moves the log onto head after a foreign commit changed files it
// tracks, so later batches diff against that commit instead of undoing it.
// It waits while other operations are still uncommitted.
func (p *Pipeline) resync(head string) {
	if len(p.uncommitted()) > 0 {
		return
	}
	p.log.Reset(head, p.baseline(head))
	if p.journal != nil {
		if err := p.journal.StartEpoch(head); err != nil {
			p.logger.Error().Err(err).Str("epoch", head).Msg("failed to journal epoch")
		}
	}
}

// uncommitted returns the files with live operations no snapshot holds.
func (p *Pipeline) uncommitted() []string {
	var out []string
	for _, path := range p.log.Files() {
		if len(p.log.Uncaptured(path)) > 0 {
			out = append(out, path)
		}
	}
	return out
}

// rejected turns a blocking verdict into conflicts.
func rejected(res classifier.Result, approved bool) []snapshot.Conflict {
	var block classifier.Verdict
	switch {
	case res.Verdict == classifier.Red:
		block = classifier.Red
	case res.Verdict == classifier.Yellow && !approved:
		block = classifier.Yellow
	default:
		return nil
	}
	var out []snapshot.Conflict
	for _, fv := range res.Files {
		if fv.Verdict != block {
			continue
		}
		reason := strings.Join(fv.Reasons, "; ")
		if block == classifier.Yellow {
			reason = "approval required: " + reason
		}
		out = append(out, snapshot.Conflict{Path: fv.Path, Line: fv.Line, Reason: reason})
	}
	return out
}

func pathsOf(ops []oplog.Operation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range ops {
		if !seen[op.Path] {
			seen[op.Path] = true
			out = append(out, op.Path)
		}
	}
	sort.Strings(out)
	return out
}

func sortedPaths(files map[string]string) []string { return sortedKeys(files) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
