package classifier

import (
	"context"
	"fmt"
	"sort"

	"github.com/HendryAvila/forge/internal/textdiff"
)

// Verdict is a voter's or the classifier's opinion about a change.
type Verdict string

const (
	Green   Verdict = "green"
	Yellow  Verdict = "yellow"
	Red     Verdict = "red"
	Abstain Verdict = "abstain"
)

// severity orders verdicts; Abstain carries no weight.
func (v Verdict) severity() int {
	switch v {
	case Yellow:
		return 1
	case Red:
		return 2
	default:
		return 0
	}
}

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	switch v {
	case Green, Yellow, Red, Abstain:
		return true
	}
	return false
}

// Worse returns the more severe of two verdicts.
func Worse(a, b Verdict) Verdict {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Vote is one voter's opinion on one file.
type Vote struct {
	VoterID    string  `json:"voter_id"`
	Path       string  `json:"file_path"`
	Verdict    Verdict `json:"verdict"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Voter evaluates a file diff. Implementations must be safe for concurrent
// use and should honor ctx.
type Voter interface {
	ID() string
	Evaluate(ctx context.Context, path string, d textdiff.FileDiff) (Vote, error)
}

// Veto forces a file to red until cleared.
type Veto struct {
	VoterID string `json:"voter_id"`
	Reason  string `json:"reason"`
}

// Aggregate folds the votes for one file into a verdict. A veto wins, then
// any red, then any yellow; abstentions are ignored and everything else is
// green. Reasons name the voters that caused a red or yellow verdict and are
// sorted, so the result depends only on the multiset of votes.
func Aggregate(votes []Vote, veto *Veto) (Verdict, []string) {
	if veto != nil {
		reasons := []string{fmt.Sprintf("veto by %s: %s", veto.VoterID, veto.Reason)}
		return Red, append(reasons, reasonsFor(votes, Red)...)
	}

	verdict := Green
	for _, v := range votes {
		verdict = Worse(verdict, v.Verdict)
	}
	if verdict == Green {
		return Green, nil
	}
	return verdict, reasonsFor(votes, verdict)
}

func reasonsFor(votes []Vote, verdict Verdict) []string {
	var out []string
	for _, v := range votes {
		if v.Verdict != verdict {
			continue
		}
		if v.Reason == "" {
			out = append(out, v.VoterID)
			continue
		}
		out = append(out, v.VoterID+": "+v.Reason)
	}
	sort.Strings(out)
	return out
}
