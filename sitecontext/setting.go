package sitecontext

import (
	"context"
	"sync"

	"go.storefront.dev/core/async"
)

// Source is a dimension of context, such as the active base site.
type Source interface {
	// Active returns an Observable of the dimension's active value. Each
	// subscriber receives the current value (if there is one) and then each
	// changed value.
	Active() async.Observable[string]
}

// SourceFunc adapts an Observable to a Source.
type SourceFunc func() async.Observable[string]

// Active implements Source.
func (fn SourceFunc) Active() async.Observable[string] { return fn() }

// Setting is a Source of a directly-set value. A Setting which has never
// been set has no value, and its subscribers receive nothing until it is.
type Setting struct {
	mu       sync.Mutex
	value    string
	set      bool
	updateCh async.Promise
}

// NewSetting returns a Setting which has no value.
func NewSetting() *Setting {
	return &Setting{updateCh: async.NewPromise()}
}

// Set the value of the Setting. Setting an unchanged value is a no-op.
func (s *Setting) Set(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set && s.value == value {
		return
	}
	s.value, s.set = value, true
	s.updateCh.Resolve()
	s.updateCh = async.NewPromise()
}

// Get returns the current value, and whether there is one.
func (s *Setting) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Active implements Source.
func (s *Setting) Active() async.Observable[string] {
	return func(ctx context.Context) <-chan string {
		var out = make(chan string)
		go func() {
			defer close(out)

			var last string
			var emitted bool

			for {
				s.mu.Lock()
				var value, set, updateCh = s.value, s.set, s.updateCh
				s.mu.Unlock()

				if set && (!emitted || value != last) {
					select {
					case out <- value:
						last, emitted = value, true
					case <-updateCh:
						continue
					case <-ctx.Done():
						return
					}
				}
				select {
				case <-updateCh:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}
