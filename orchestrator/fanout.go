package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// fanOut runs op on every node concurrently under ctx and waits for all of
// them, returning the first failure.  Siblings are never cancelled: a
// launch that already forked its server must get to record the pid.
func fanOut(ctx context.Context, nodes []*Node, op func(*Node, context.Context) error) error {
	var g errgroup.Group
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			return op(node, ctx)
		})
	}
	return g.Wait()
}

// fanOutCancel is fanOut for steps that leave no process behind.  The
// first failure cancels the context the others run with.
func fanOutCancel(ctx context.Context, nodes []*Node, op func(*Node, context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			return op(node, gctx)
		})
	}
	return g.Wait()
}
