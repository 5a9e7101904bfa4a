package command

import (
	"fmt"
	"sync"
)

// Strategy of concurrent invocations of a Command.
type Strategy int

const (
	// Queue invocations so they execute strictly in call order, one at a time.
	// An invocation's factory doesn't begin until the factory of the preceding
	// invocation has returned.
	Queue Strategy = iota
	// Parallel invocations are independent of one another.
	Parallel
	// CancelPrevious invocations cancel an in-flight preceding invocation,
	// which completes without a value or an error.
	CancelPrevious
	// ErrorPrevious invocations cancel an in-flight preceding invocation,
	// which fails with ErrSuperseded.
	ErrorPrevious
)

func (s Strategy) String() string {
	switch s {
	case Queue:
		return "queue"
	case Parallel:
		return "parallel"
	case CancelPrevious:
		return "cancel-previous"
	case ErrorPrevious:
		return "error-previous"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// invoker is implemented by each Strategy. invoke arranges for the
// invocation to eventually be run by Command.run, and must not block.
type invoker[P, R any] interface {
	invoke(c *Command[P, R], inv *invocation[R], payload P)
}

func newInvoker[P, R any](s Strategy) invoker[P, R] {
	switch s {
	case Queue:
		return new(queue[P, R])
	case Parallel:
		return parallel[P, R]{}
	case CancelPrevious:
		return &latest[P, R]{}
	case ErrorPrevious:
		return &latest[P, R]{errorPrevious: true}
	default:
		panic(fmt.Sprintf("unknown command strategy %d", int(s)))
	}
}

// parallel runs every invocation immediately.
type parallel[P, R any] struct{}

func (parallel[P, R]) invoke(c *Command[P, R], inv *invocation[R], payload P) {
	go c.run(inv, payload)
}

// queue chains invocations such that each waits for its predecessor.
type queue[P, R any] struct {
	mu   sync.Mutex
	tail *invocation[R] // Most recently queued invocation.
}

func (q *queue[P, R]) invoke(c *Command[P, R], inv *invocation[R], payload P) {
	q.mu.Lock()
	var prev = q.tail
	q.tail = inv
	q.mu.Unlock()

	go func() {
		if prev != nil {
			// Even if this invocation is cancelled while waiting, it must not
			// signal |exited| (releasing its successor) until its predecessor
			// has itself exited. Command.run observes the cancellation.
			prev.exited.Wait()
		}
		c.run(inv, payload)
	}()
}

// latest supersedes the in-flight invocation with each new one.
type latest[P, R any] struct {
	errorPrevious bool

	mu      sync.Mutex
	current *invocation[R] // Most recent invocation.
}

func (l *latest[P, R]) invoke(c *Command[P, R], inv *invocation[R], payload P) {
	l.mu.Lock()
	var prev = l.current
	l.current = inv
	l.mu.Unlock()

	if prev != nil {
		// Terminate the superseded invocation before this invoke returns, so
		// its caller observes the supersession synchronously with Execute.
		// A no-op if |prev| already resolved.
		if l.errorPrevious {
			var zero R
			prev.result.Resolve(zero, ErrSuperseded)
		} else {
			prev.result.Cancel()
		}
		prev.cancel()
	}

	go func() {
		if prev != nil {
			// Don't begin until the superseded factory has returned, so that
			// two factories of the Command never run at once.
			prev.exited.Wait()
		}
		c.run(inv, payload)
	}()
}
