package async

import "sync"

// OpFuture represents an operation which is executing in the background. The
// operation has completed when Done selects. Err may be invoked to determine
// whether the operation succeeded or failed.
type OpFuture interface {
	// Done selects when operation background execution has finished.
	Done() <-chan struct{}
	// Err blocks until Done() and returns the final error of the OpFuture.
	Err() error
}

// Outcome is the terminal state of a Result.
type Outcome int

const (
	// Pending Results have not yet been resolved.
	Pending Outcome = iota
	// Succeeded Results carry a value.
	Succeeded
	// Failed Results carry a non-nil error.
	Failed
	// Cancelled Results carry neither value nor error.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Succeeded:
		return "ok"
	case Failed:
		return "fail"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the one-shot handle of a single asynchronous invocation. It
// resolves exactly once: with a value, with an error, or as cancelled. The
// first resolution wins, and later attempts are ignored. Cancellation is
// deliberately not an error: a cancelled Result has a nil Err and no Value.
type Result[T any] struct {
	doneCh  chan struct{} // Closed to signal the Result has resolved.
	mu      sync.Mutex    // Guards |outcome| against racing resolutions.
	outcome Outcome
	value   T
	err     error
}

var _ OpFuture = &Result[struct{}]{} // Result is-an OpFuture.

// NewResult returns a new, pending Result.
func NewResult[T any]() *Result[T] { return &Result[T]{doneCh: make(chan struct{})} }

// FinishedResult is a convenience that returns an already-resolved Result.
func FinishedResult[T any](value T, err error) *Result[T] {
	var r = NewResult[T]()
	r.Resolve(value, err)
	return r
}

// Done selects when the Result is resolved.
func (r *Result[T]) Done() <-chan struct{} { return r.doneCh }

// Err blocks until the Result resolves, then returns its error. Err is nil
// for both successful and cancelled Results.
func (r *Result[T]) Err() error {
	<-r.doneCh
	return r.err
}

// Value blocks until the Result resolves. It returns the value and true
// only if the Result Succeeded.
func (r *Result[T]) Value() (T, bool) {
	<-r.doneCh
	return r.value, r.outcome == Succeeded
}

// Cancelled blocks until the Result resolves, and is true if it was cancelled.
func (r *Result[T]) Cancelled() bool {
	<-r.doneCh
	return r.outcome == Cancelled
}

// Outcome returns the current Outcome without blocking.
func (r *Result[T]) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Resolve the Result with |value| or, if |err| is non-nil, with |err|.
// It returns false if the Result was already resolved.
func (r *Result[T]) Resolve(value T, err error) bool {
	if err != nil {
		return r.settle(Failed, value, err)
	}
	return r.settle(Succeeded, value, nil)
}

// Cancel resolves the Result as Cancelled. It returns false if the Result
// was already resolved.
func (r *Result[T]) Cancel() bool {
	var zero T
	return r.settle(Cancelled, zero, nil)
}

func (r *Result[T]) settle(outcome Outcome, value T, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outcome != Pending {
		return false
	}
	r.outcome, r.value, r.err = outcome, value, err
	close(r.doneCh)
	return true
}
