// Package async implements small primitives for asynchronous work: a Promise
// notification, a one-shot Result handle of an invocation, and Observable
// subscription factories.
package async

// Promise is a simple notification primitive for asynchronous events.
type Promise chan struct{}

// NewPromise returns an unresolved Promise.
func NewPromise() Promise { return make(Promise) }

// Resolve wakes any clients currently waiting on the Promise.
// Resolve must be called at most once.
func (s Promise) Resolve() {
	close(s)
}

// Wait synchronously blocks until the Promise is resolved.
func (s Promise) Wait() {
	<-s
}

// Resolved is true if the Promise has been resolved. It does not block.
func (s Promise) Resolved() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
