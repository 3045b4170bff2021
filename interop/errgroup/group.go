// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup
// semantics (Go/SetLimit, first error cancels siblings) on top of the
// structured-concurrency runtime's Nursery. It enables incremental
// migration off errgroup without giving up the runtime's guarantee that
// nothing it starts can ever be orphaned.
//
// Unlike errgroup.WithContext, a Group cannot outlive the call that
// created it: nothing in this runtime can run a task without an
// enclosing nursery, so Run blocks until every task started through the
// Group has finished, the same way an explicit Wait() would, but
// structurally guaranteed rather than caller-enforced.
package errgroup

import (
	"context"

	"github.com/katunaran/scoperun/runtime"
)

// Group starts child tasks under a shared Nursery and aggregates their
// errors with fail-fast cancellation.
type Group struct {
	ctx     context.Context
	n       *runtime.Nursery
	limiter *runtime.CapacityLimiter
}

// Run opens a nursery and hands fn a Group bound to it. Run returns once
// every task started through the Group has finished. Unlike
// golang.org/x/sync/errgroup.Wait, which returns only the first error, Run
// returns every error: a single one unwrapped, several combined into a
// *runtime.MultiError. Cancellations caused by the fail-fast cancel are
// absorbed by the Group's own scope and not reported.
func Run(ctx context.Context, fn func(ctx context.Context, g *Group) error) error {
	return runtime.OpenNursery(ctx, func(ctx context.Context, n *runtime.Nursery) error {
		g := &Group{ctx: ctx, n: n}
		return fn(ctx, g)
	})
}

// SetLimit bounds how many of the Group's tasks may run concurrently. A
// non-positive n removes the limit. Must be called before the first Go.
func (g *Group) SetLimit(n int) {
	if n <= 0 {
		g.limiter = nil
		return
	}
	g.limiter = runtime.NewCapacityLimiter(n)
}

// Go starts fn as a new task of the group.
func (g *Group) Go(fn func(ctx context.Context) error) {
	body := fn
	if g.limiter != nil {
		limiter := g.limiter
		body = func(ctx context.Context) error {
			if err := limiter.Acquire(ctx); err != nil {
				return err
			}
			defer limiter.Release()
			return fn(ctx)
		}
	}
	g.n.StartSoon(g.ctx, body, "")
}
