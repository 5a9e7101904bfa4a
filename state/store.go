// Package state is a process-scoped container of application state.
//
// State is a Tree of named slices. A slice is registered lazily, typically
// when the feature owning it is first used, together with a Reducer which
// computes the slice's next value from each dispatched Action. Registration
// and dispatch are both updates of the Store, and subscribers of a Store
// observe its Tree after every update. A subscriber can therefore tell a
// slice which is not yet registered apart from one holding an empty value.
package state

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/async"
)

// Action is dispatched to a Store to effect a state transition. Actions are
// typically structs, distinguished by type.
type Action interface{}

// Reducer returns the next value of a slice given its current value and an
// Action. Reducers must not mutate |state|, and should return it unchanged
// for Actions they don't handle.
type Reducer func(state interface{}, action Action) interface{}

// Tree is an immutable snapshot of all registered slices, keyed on name.
type Tree map[string]interface{}

// Store holds the current Tree, its Reducers, and its Observers.
type Store struct {
	// Observers are called with each dispatched Action, after the Tree has
	// been updated. Observers are called without holding Mu, and may
	// themselves dispatch.
	Observers []func(Action)
	// Mu guards the Tree, reducers, and Observers.
	Mu sync.RWMutex

	tree     Tree
	reducers map[string]Reducer
	updateCh async.Promise // Resolved and replaced upon each update.
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		tree:     Tree{},
		reducers: make(map[string]Reducer),
		updateCh: async.NewPromise(),
	}
}

// Register the slice |name| with |initial| value and |reducer|. Registering
// an already-registered slice panics.
func (s *Store) Register(name string, initial interface{}, reducer Reducer) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if _, ok := s.reducers[name]; ok {
		panic(fmt.Sprintf("state slice %q is already registered", name))
	}
	s.reducers[name] = reducer

	var next = s.tree.clone()
	next[name] = initial
	s.tree = next
	s.onUpdate()

	log.WithField("slice", name).Debug("registered state slice")
}

// RegisterSlice is a typed convenience for Register.
func RegisterSlice[S any](s *Store, name string, initial S, reduce func(S, Action) S) {
	s.Register(name, initial, func(state interface{}, action Action) interface{} {
		return reduce(state.(S), action)
	})
}

// Registered is true if the slice |name| is registered.
func (s *Store) Registered(name string) bool {
	s.Mu.RLock()
	defer s.Mu.RUnlock()

	var _, ok = s.reducers[name]
	return ok
}

// Dispatch |actions| in order. Each Action is applied to every registered
// slice, and Observers are notified. Actions of no registered slice are
// dropped without error.
func (s *Store) Dispatch(actions ...Action) {
	for _, action := range actions {
		s.Mu.Lock()
		var next = make(Tree, len(s.tree))
		for name, value := range s.tree {
			next[name] = s.reducers[name](value, action)
		}
		s.tree = next
		s.onUpdate()
		var observers = s.Observers
		s.Mu.Unlock()

		for _, obv := range observers {
			obv(action)
		}
	}
}

// Observe adds |fn| to the Store's Observers.
func (s *Store) Observe(fn func(Action)) {
	s.Mu.Lock()
	s.Observers = append(s.Observers[:len(s.Observers):len(s.Observers)], fn)
	s.Mu.Unlock()
}

// Tree returns the current Tree.
func (s *Store) Tree() Tree {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.tree
}

// Update returns a channel which will signal on the next Store update.
func (s *Store) Update() <-chan struct{} {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.updateCh
}

func (s *Store) onUpdate() {
	s.updateCh.Resolve()
	s.updateCh = async.NewPromise()
}

func (t Tree) clone() Tree {
	var out = make(Tree, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Select returns an Observable of |selector| applied to each Tree of the
// Store. A selector returning false is filtered: nothing is emitted for that
// Tree. Consecutive values which are equal under |equal| are emitted once.
// A nil |equal| uses reflect.DeepEqual.
//
// Each subscriber first receives the selection of the current Tree (if not
// filtered), and thereafter of each updated Tree. A subscriber which is slow
// to receive observes the most recent selection.
func Select[T any](s *Store, selector func(Tree) (T, bool), equal func(a, b T) bool) async.Observable[T] {
	if equal == nil {
		equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	return func(ctx context.Context) <-chan T {
		var out = make(chan T)
		go func() {
			defer close(out)

			var last T
			var emitted bool

			for {
				s.Mu.RLock()
				var tree, updateCh = s.tree, s.updateCh
				s.Mu.RUnlock()

				if v, ok := selector(tree); ok && (!emitted || !equal(last, v)) {
					select {
					case out <- v:
						last, emitted = v, true
					case <-updateCh:
						continue // Superseded before delivery. Select again.
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

// Slice is a selector helper which returns slice |name| of a Tree as a T,
// or false if the slice isn't registered.
func Slice[T any](name string) func(Tree) (T, bool) {
	return func(tree Tree) (T, bool) {
		var v, ok = tree[name]
		if !ok {
			var zero T
			return zero, false
		}
		return v.(T), true
	}
}
