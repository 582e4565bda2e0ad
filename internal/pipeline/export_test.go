package pipeline

import "context"

// SetBeforeCommit installs fn to run right before every commit attempt.
func (p *Pipeline) SetBeforeCommit(fn func(ctx context.Context, branch, parent string)) {
	p.hooks.beforeCommit = fn
}
