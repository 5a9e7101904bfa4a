// Package task runs the long-lived goroutines of a process (servers,
// synchronizers, watches) as a Group which stops together.
package task

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group is a set of tasks which run concurrently until any one fails, or
// the Group is cancelled. Each task must monitor the Group Context and
// return once it's done. A Group is not itself safe for concurrent use.
type Group struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	eg       *errgroup.Group
	tasks    []task
	started  bool
}

type task struct {
	desc string
	fn   func() error
}

// NewGroup returns an empty Group which is cancelled with |ctx|.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, cancelFn: cancel, eg: eg}
}

// Context of the Group. It's done upon Cancel, the first failed task, or
// cancellation of the parent Context.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group.
func (g *Group) Cancel() { g.cancelFn() }

// Queue |fn| described by |desc| for execution by GoRun. A task returning
// the Group Context's own error is treated as a clean exit.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.tasks = append(g.tasks, task{desc: desc, fn: fn})
}

// GoRun starts all queued tasks. It may be called only once.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for i := range g.tasks {
		var t = g.tasks[i]

		g.eg.Go(func() error {
			var err = t.fn()

			if err != nil && g.ctx.Err() != nil && errors.Is(err, g.ctx.Err()) {
				err = nil
			}
			log.WithFields(log.Fields{"task": t.desc, "err": err}).Debug("task exited")
			return errors.WithMessage(err, t.desc)
		})
	}
}

// Wait for all started tasks to exit, returning the first error.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	return g.eg.Wait()
}
