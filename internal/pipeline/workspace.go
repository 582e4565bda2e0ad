package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/forge/internal/classifier"
	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/snapshot"
	"github.com/HendryAvila/forge/internal/textdiff"
)

// Receive integrates operations from a remote peer without committing
// them. They are committed by the next batch that touches their files. It
// returns how many operations became live; buffered and already integrated
// ones are not counted.
func (p *Pipeline) Receive(ops []oplog.Operation) (int, error) {
	p.epochMu.RLock()
	defer p.epochMu.RUnlock()

	var integrated []oplog.Operation
	for _, op := range ops {
		if op.Lamport == 0 {
			return len(integrated), fmt.Errorf("pipeline: received operation %s has no lamport clock", op.Key())
		}
		live, err := p.log.Integrate(op)
		if oplog.IsNoOp(err) || oplog.IsDuplicate(err) {
			continue
		}
		if err != nil {
			return len(integrated), p.journalReceived(integrated, err)
		}
		integrated = append(integrated, live...)
	}
	return len(integrated), p.journalReceived(integrated, nil)
}

func (p *Pipeline) journalReceived(ops []oplog.Operation, cause error) error {
	if p.journal != nil {
		if err := p.journal.AppendOps(ops); err != nil && cause == nil {
			return err
		}
	}
	return cause
}

// Preview predicts the verdict of ops without integrating them. Every
// operation is positioned against the current text as if authored locally.
func (p *Pipeline) Preview(ctx context.Context, ops []oplog.Operation) (classifier.Result, error) {
	p.epochMu.RLock()
	defer p.epochMu.RUnlock()

	_, head, err := p.currentHead(ctx)
	if err != nil {
		return classifier.Result{}, err
	}
	scratch := oplog.New(p.log.Peer(), oplog.WithBaseline(head, p.log.Materialize))
	for _, op := range ops {
		op.Lamport, op.Context = 0, nil
		if _, err := scratch.Propose(op); err != nil && !oplog.IsNoOp(err) {
			return classifier.Result{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
	defer cancel()
	res := classifier.Result{Verdict: classifier.Green}
	for _, path := range scratch.Files() {
		text, err := scratch.Materialize(path)
		if err != nil {
			return classifier.Result{}, err
		}
		d, err := p.diffAgainst(ctx, head, path, text)
		if err != nil {
			return classifier.Result{}, err
		}
		if !d.Changed() {
			continue
		}
		fv, err := p.classifier.Predict(ctx, d)
		if err != nil {
			return classifier.Result{}, err
		}
		res.Files = append(res.Files, fv)
		res.Verdict = classifier.Worse(res.Verdict, fv.Verdict)
	}
	return res, nil
}

// Predict classifies replacing path with content on the current head
// without touching the log.
func (p *Pipeline) Predict(ctx context.Context, path, content string) (classifier.FileVerdict, error) {
	d, err := p.headDiff(ctx, path, content)
	if err != nil {
		return classifier.FileVerdict{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
	defer cancel()
	return p.classifier.Predict(ctx, d)
}

// IsGuaranteedSafe reports whether Predict would be green.
func (p *Pipeline) IsGuaranteedSafe(ctx context.Context, path, content string) (bool, error) {
	d, err := p.headDiff(ctx, path, content)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
	defer cancel()
	return p.classifier.IsGuaranteedSafe(ctx, d), nil
}

func (p *Pipeline) headDiff(ctx context.Context, path, content string) (textdiff.FileDiff, error) {
	_, head, err := p.currentHead(ctx)
	if err != nil {
		return textdiff.FileDiff{}, err
	}
	return p.diffAgainst(ctx, head, path, content)
}

// ─── Branches ───────────────────────────────────────────────────────────────

// Checkout switches the current branch and restarts the log on its head.
// It fails with ErrUncommitted while operations await a commit.
func (p *Pipeline) Checkout(ctx context.Context, branch string) (string, error) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	p.epochMu.Lock()
	defer p.epochMu.Unlock()

	if err := p.checkCommitted(); err != nil {
		return "", err
	}
	head, err := p.store.Checkout(ctx, branch)
	if err != nil {
		return "", err
	}
	if err := p.startEpoch(head); err != nil {
		return "", err
	}
	p.logger.Info().Str("branch", branch).Str("head", head).Msg("checked out branch")
	return head, nil
}

// Merge merges source into target (the current branch when empty). When
// target is current the log restarts on the merge snapshot, which requires
// every operation to be committed first.
func (p *Pipeline) Merge(ctx context.Context, source, target, message string) (*snapshot.MergeResult, error) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	p.epochMu.Lock()
	defer p.epochMu.Unlock()

	current, err := p.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = current
	}
	onCurrent := target == current
	if onCurrent {
		if err := p.checkCommitted(); err != nil {
			return nil, err
		}
	}

	res, err := p.store.Merge(ctx, source, target, message)
	if err != nil {
		return nil, err
	}
	if onCurrent && !res.AlreadyMerged {
		if err := p.startEpoch(res.Snapshot.ID); err != nil {
			return nil, err
		}
	}
	p.logger.Info().
		Str("source", source).
		Str("target", target).
		Str("snapshot", res.Snapshot.ID).
		Int("conflicts", len(res.Conflicts)).
		Bool("already_merged", res.AlreadyMerged).
		Msg("merged branches")
	return res, nil
}

func (p *Pipeline) checkCommitted() error {
	if files := p.uncommitted(); len(files) > 0 {
		return fmt.Errorf("%w: %s", ErrUncommitted, strings.Join(files, ", "))
	}
	return nil
}

// CreateBranch creates a branch at from (a branch or snapshot id; empty
// means the current branch).
func (p *Pipeline) CreateBranch(ctx context.Context, name, from string) (*snapshot.Branch, error) {
	return p.store.CreateBranch(ctx, name, from)
}

// DeleteBranch removes a branch pointer.
func (p *Pipeline) DeleteBranch(ctx context.Context, name string) error {
	return p.store.DeleteBranch(ctx, name)
}

// Branches lists every branch.
func (p *Pipeline) Branches(ctx context.Context) ([]snapshot.Branch, error) {
	return p.store.Branches(ctx)
}

// History walks first parents of branch (the current one when empty).
func (p *Pipeline) History(ctx context.Context, branch string, limit int) ([]snapshot.Snapshot, error) {
	return p.store.History(ctx, branch, limit)
}

// Diff compares two branches or snapshots.
func (p *Pipeline) Diff(ctx context.Context, from, to string) ([]textdiff.FileDiff, error) {
	return p.store.Diff(ctx, from, to)
}

// DivergedSince lists files with operations snapshot id does not hold.
func (p *Pipeline) DivergedSince(id string) []string {
	return p.log.DivergedSince(id)
}

// Status summarizes the workspace.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	p.epochMu.RLock()
	defer p.epochMu.RUnlock()

	branch, head, err := p.currentHead(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Peer:        p.log.Peer(),
		Branch:      branch,
		Head:        head,
		Epoch:       p.log.Epoch(),
		Clock:       p.log.Clock(),
		Uncommitted: p.uncommitted(),
		Voters:      p.classifier.Voters(),
		Vetoes:      p.classifier.Vetoes(),
	}
	for _, path := range p.log.Files() {
		st.Pending += len(p.log.Pending(path))
	}
	return st, nil
}
