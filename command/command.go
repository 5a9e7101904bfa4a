// Package command runs asynchronous units of work under a selected
// concurrency Strategy.
//
// A Command is created once per logical operation ("place order", "load
// cart") and then executed many times. Each Execute is one invocation, with
// its own async.Result. The Strategy decides how invocations of the same
// Command relate to one another:
//
//   - Parallel invocations run independently.
//   - CancelPrevious invocations supersede any invocation still in flight,
//     which completes as cancelled. The last caller wins.
//   - ErrorPrevious invocations supersede like CancelPrevious, but the
//     superseded invocation fails with ErrSuperseded.
//   - Queue invocations run one at a time in call order.
//
// Cancellation is cooperative: the factory of a superseded invocation has its
// Context cancelled, and whatever it returns afterwards is discarded. An
// invocation failure is isolated to its own Result, and never affects the
// Command's handling of later invocations.
package command

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/async"
	"go.storefront.dev/core/metrics"
)

// Factory performs a single unit of work for |payload|. It must return
// promptly once |ctx| is cancelled.
type Factory[P, R any] func(ctx context.Context, payload P) (R, error)

// ErrSuperseded is the error of an invocation superseded under ErrorPrevious.
var ErrSuperseded = errors.New("command invocation superseded by a later invocation")

// Command is a named, reusable asynchronous operation having a Strategy.
// Commands are safe for concurrent use.
type Command[P, R any] struct {
	name     string
	strategy Strategy
	factory  Factory[P, R]
	invoker  invoker[P, R]
}

// New returns a Command which runs |factory| under |strategy|.
// New has no side effects: nothing runs until Execute is called.
func New[P, R any](name string, factory Factory[P, R], strategy Strategy) *Command[P, R] {
	if factory == nil {
		panic("command factory is nil")
	}
	return &Command[P, R]{
		name:     name,
		strategy: strategy,
		factory:  factory,
		invoker:  newInvoker[P, R](strategy),
	}
}

// Name of the Command.
func (c *Command[P, R]) Name() string { return c.name }

// Strategy of the Command.
func (c *Command[P, R]) Strategy() Strategy { return c.strategy }

// Execute starts one invocation of the Command with |payload|, and returns
// its Result. Cancelling |ctx| cancels this invocation only.
func (c *Command[P, R]) Execute(ctx context.Context, payload P) *async.Result[R] {
	var inv = &invocation[R]{
		id:      uuid.New().String(),
		started: time.Now(),
		result:  async.NewResult[R](),
		exited:  async.NewPromise(),
	}
	inv.ctx, inv.cancel = context.WithCancel(ctx)

	log.WithFields(log.Fields{
		"command":    c.name,
		"strategy":   c.strategy,
		"invocation": inv.id,
	}).Debug("executing command")

	go c.observe(inv)
	c.invoker.invoke(c, inv, payload)

	return inv.result
}

// run the factory of invocation |inv|, and resolve its Result.
// run must be called at most once per invocation.
func (c *Command[P, R]) run(inv *invocation[R], payload P) {
	defer inv.exited.Resolve()

	if inv.ctx.Err() != nil {
		inv.result.Cancel() // Cancelled before the factory could begin.
		return
	}

	var gauge = metrics.CommandsInFlight.WithLabelValues(c.name)
	gauge.Inc()
	defer gauge.Dec()

	var value, err = c.call(inv.ctx, payload)

	if inv.ctx.Err() != nil {
		// The invocation was superseded or its caller cancelled. Whatever the
		// factory produced is discarded. If the Result was already resolved by
		// a superseding invocation, this is a no-op.
		inv.result.Cancel()
	} else {
		inv.result.Resolve(value, err)
	}
}

// call the factory, mapping a panic into an error of this invocation.
func (c *Command[P, R]) call(ctx context.Context, payload P) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("command %s panicked: %v", c.name, r)
		}
	}()
	return c.factory(ctx, payload)
}

// observe the resolution of |inv|, releasing its Context and recording
// metrics and logs of its outcome.
func (c *Command[P, R]) observe(inv *invocation[R]) {
	select {
	case <-inv.result.Done():
	case <-inv.ctx.Done():
		// The caller's Context was cancelled, or the invocation was superseded.
		// Either way the caller hears of it now, and not when (or if) the
		// factory eventually returns.
		inv.result.Cancel()
	}
	inv.cancel()

	var outcome = inv.result.Outcome()
	metrics.CommandInvocationsTotal.WithLabelValues(c.name, c.strategy.String(), outcome.String()).Inc()
	metrics.CommandInvocationSeconds.WithLabelValues(c.name, c.strategy.String()).
		Observe(time.Since(inv.started).Seconds())

	var fields = log.Fields{
		"command":    c.name,
		"invocation": inv.id,
		"outcome":    outcome,
	}
	if err := inv.result.Err(); err != nil {
		fields["err"] = err
	}
	log.WithFields(fields).Debug("command invocation resolved")
}

// invocation is the record of a single Execute.
type invocation[R any] struct {
	id      string
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	result  *async.Result[R]
	// Resolved when the invocation's factory has returned, or when it was
	// determined the factory will never be called.
	exited async.Promise
}
