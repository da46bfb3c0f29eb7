package workers

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/Shugur-Network/publisher/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Group runs one job per relay with a bound on how many run at once and
// waits for all of them. Jobs never fail the group: a relay's failure is
// its own business, so a panic is logged and swallowed.
type Group struct {
	ctx context.Context
	eg  *errgroup.Group
}

// NewGroup creates a group for a single fan-out call. A limit <= 0 means
// unbounded.
func NewGroup(ctx context.Context, limit int) *Group {
	eg := &errgroup.Group{}
	if limit > 0 {
		eg.SetLimit(limit)
	}
	return &Group{ctx: ctx, eg: eg}
}

// Go schedules job. It blocks while the group is at its limit.
func (g *Group) Go(name string, job func(ctx context.Context)) {
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Fan-out worker panicked",
					zap.String("job", name),
					zap.String("panic", fmt.Sprint(r)),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		job(g.ctx)
		return nil
	})
}

// Wait blocks until every scheduled job has returned.
func (g *Group) Wait() {
	_ = g.eg.Wait()
}
