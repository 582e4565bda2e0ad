// Package classifier decides whether materialized file changes are safe to
// commit. Registered voters evaluate every changed file concurrently and
// their votes are folded into a green, yellow or red verdict per file.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/forge/internal/textdiff"
)

// ErrDuplicateVoter is returned when a voter id is registered twice.
var ErrDuplicateVoter = errors.New("classifier: voter already registered")

// FailureReason prefixes votes synthesized for voters that errored, panicked
// or missed the deadline.
const FailureReason = "voter failure"

// FileVerdict is the aggregated verdict for one file.
type FileVerdict struct {
	Path    string   `json:"file_path"`
	Verdict Verdict  `json:"verdict"`
	Reasons []string `json:"reasons,omitempty"`
	Line    int      `json:"line,omitempty"` // first changed line
	Votes   []Vote   `json:"votes,omitempty"`
	Vetoed  bool     `json:"vetoed,omitempty"`

	failed bool
}

// Result is the outcome of classifying a set of changes.
type Result struct {
	Verdict Verdict       `json:"verdict"`
	Files   []FileVerdict `json:"files"`
}

// Classifier holds the voter registry, vetoes and cached predictions. It is
// an explicit object owned by the caller; there is no package-level state.
type Classifier struct {
	mu     sync.RWMutex
	voters map[string]Voter
	vetoes map[string]Veto
	cache  map[string]FileVerdict
	logger zerolog.Logger
}

// New creates a classifier with no voters.
func New(logger zerolog.Logger) *Classifier {
	return &Classifier{
		voters: make(map[string]Voter),
		vetoes: make(map[string]Veto),
		cache:  make(map[string]FileVerdict),
		logger: logger,
	}
}

// Register adds a voter.
func (c *Classifier) Register(v Voter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.voters[v.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVoter, v.ID())
	}
	c.voters[v.ID()] = v
	clear(c.cache)
	return nil
}

// Voters returns the registered voter ids, sorted.
func (c *Classifier) Voters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.voters))
	for id := range c.voters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Veto forces path to red until ClearVeto or Reset.
func (c *Classifier) Veto(path, voterID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vetoes[path] = Veto{VoterID: voterID, Reason: reason}
	clear(c.cache)
}

// ClearVeto removes the veto on path, if any.
func (c *Classifier) ClearVeto(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vetoes, path)
	clear(c.cache)
}

// Vetoes returns a copy of the active vetoes by path.
func (c *Classifier) Vetoes() map[string]Veto {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Veto, len(c.vetoes))
	for p, v := range c.vetoes {
		out[p] = v
	}
	return out
}

// Reset drops cached predictions and vetoes. Registered voters stay.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.vetoes)
	clear(c.cache)
}

// snapshot returns the voters in id order and the veto for each path.
func (c *Classifier) snapshot(paths []string) ([]Voter, map[string]*Veto) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	voters := make([]Voter, 0, len(c.voters))
	for _, v := range c.voters {
		voters = append(voters, v)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i].ID() < voters[j].ID() })

	vetoes := make(map[string]*Veto)
	for _, p := range paths {
		if v, ok := c.vetoes[p]; ok {
			vetoes[p] = &v
		}
	}
	return voters, vetoes
}

// Classify evaluates every diff with every voter. Files and voters run
// concurrently; ctx bounds the whole classification and voters still
// running when it expires vote red. The overall verdict is the most severe
// file verdict. An error is returned only when ctx was canceled.
func (c *Classifier) Classify(ctx context.Context, diffs []textdiff.FileDiff) (Result, error) {
	paths := make([]string, len(diffs))
	for i, d := range diffs {
		paths[i] = d.Path
	}
	voters, vetoes := c.snapshot(paths)

	files := make([]FileVerdict, len(diffs))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range diffs {
		g.Go(func() error {
			files[i] = c.classifyFile(gctx, voters, vetoes[d.Path], d)
			return nil
		})
	}
	_ = g.Wait() // file evaluation never fails; failures become red votes

	if errors.Is(ctx.Err(), context.Canceled) {
		return Result{}, fmt.Errorf("classifier: classify: %w", ctx.Err())
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	res := Result{Verdict: Green, Files: files}
	for _, f := range files {
		res.Verdict = Worse(res.Verdict, f.Verdict)
	}
	return res, nil
}

// Predict classifies a single diff. Results without voter failures are
// cached until the voter set or vetoes change.
func (c *Classifier) Predict(ctx context.Context, d textdiff.FileDiff) (FileVerdict, error) {
	key := cacheKey(d)
	c.mu.RLock()
	fv, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return fv, nil
	}

	res, err := c.Classify(ctx, []textdiff.FileDiff{d})
	if err != nil {
		return FileVerdict{}, err
	}
	fv = res.Files[0]
	if !fv.failed {
		c.mu.Lock()
		c.cache[key] = fv
		c.mu.Unlock()
	}
	return fv, nil
}

// IsGuaranteedSafe reports whether d is predicted green.
func (c *Classifier) IsGuaranteedSafe(ctx context.Context, d textdiff.FileDiff) bool {
	fv, err := c.Predict(ctx, d)
	return err == nil && fv.Verdict == Green
}

func (c *Classifier) classifyFile(ctx context.Context, voters []Voter, veto *Veto, d textdiff.FileDiff) FileVerdict {
	votes := make([]Vote, len(voters))
	var wg sync.WaitGroup
	for i, v := range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			votes[i] = c.evaluate(ctx, v, d)
		}()
	}
	wg.Wait()

	verdict, reasons := Aggregate(votes, veto)
	fv := FileVerdict{
		Path:    d.Path,
		Verdict: verdict,
		Reasons: reasons,
		Line:    d.FirstChangedLine(),
		Votes:   votes,
		Vetoed:  veto != nil,
	}
	for _, v := range votes {
		if v.Verdict == Red && strings.HasPrefix(v.Reason, FailureReason) {
			fv.failed = true
		}
	}
	return fv
}

// evaluate runs one voter, turning errors, panics and deadline misses into a
// red vote.
func (c *Classifier) evaluate(ctx context.Context, v Voter, d textdiff.FileDiff) Vote {
	type outcome struct {
		vote Vote
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		vote, err := v.Evaluate(ctx, d.Path, d)
		ch <- outcome{vote: vote, err: err}
	}()

	var err error
	select {
	case out := <-ch:
		if out.err == nil && !out.vote.Verdict.Valid() {
			out.err = fmt.Errorf("invalid verdict %q", out.vote.Verdict)
		}
		if out.err == nil {
			out.vote.VoterID = v.ID()
			out.vote.Path = d.Path
			return out.vote
		}
		err = out.err
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.logger.Warn().Err(err).Str("voter", v.ID()).Str("file", d.Path).Msg("voter failed, voting red")
	return Vote{
		VoterID: v.ID(),
		Path:    d.Path,
		Verdict: Red,
		Reason:  fmt.Sprintf("%s: %v", FailureReason, err),
	}
}

func cacheKey(d textdiff.FileDiff) string {
	h := sha256.New()
	h.Write([]byte(d.Path))
	h.Write([]byte{0})
	h.Write([]byte(d.Old))
	h.Write([]byte{0})
	h.Write([]byte(d.New))
	return hex.EncodeToString(h.Sum(nil))
}
