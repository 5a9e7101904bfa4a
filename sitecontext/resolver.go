package sitecontext

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/async"
)

// Names of well-known context dimensions.
const (
	BaseSite = "baseSite"
	Language = "language"
	Currency = "currency"
	Cart     = "cart"
)

// Resolver composes named Sources into context tuples.
type Resolver struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{sources: make(map[string]Source)}
}

// Register |source| as dimension |name|, replacing any prior registration.
func (r *Resolver) Register(name string, source Source) {
	r.mu.Lock()
	r.sources[name] = source
	r.mu.Unlock()

	log.WithField("name", name).Debug("registered context source")
}

// Context returns an Observable of tuples of the active values of dimensions
// |names|, in order. A tuple is emitted only once every named dimension has
// a value, and thereafter upon a change of any one of them. Consecutive
// equal tuples are emitted once. Context of no names emits a single empty
// tuple. It's an error if a name isn't registered.
func (r *Resolver) Context(names ...string) (async.Observable[[]string], error) {
	var sources = make([]Source, len(names))

	r.mu.RLock()
	for i, name := range names {
		var src, ok = r.sources[name]
		if !ok {
			r.mu.RUnlock()
			return nil, errors.Errorf("context source %q is not registered", name)
		}
		sources[i] = src
	}
	r.mu.RUnlock()

	if len(sources) == 0 {
		return async.Of([]string{}), nil
	}
	return func(ctx context.Context) <-chan []string {
		var out = make(chan []string)
		go combine(ctx, sources, out)
		return out
	}, nil
}

type dimensionUpdate struct {
	index int
	value string
}

// combine the latest values of |sources| into tuples sent to |out|.
func combine(ctx context.Context, sources []Source, out chan<- []string) {
	defer close(out)

	var updateCh = make(chan dimensionUpdate)
	for i, src := range sources {
		go func(index int, ch <-chan string) {
			for v := range ch {
				select {
				case updateCh <- dimensionUpdate{index: index, value: v}:
				case <-ctx.Done():
					return
				}
			}
		}(i, src.Active().Subscribe(ctx))
	}

	var values = make([]string, len(sources))
	var have = make([]bool, len(sources))
	var remaining = len(sources)

	var last, pending []string
	var sendCh chan<- []string // Non-nil only while |pending| is set.

	for {
		select {
		case u := <-updateCh:
			if !have[u.index] {
				have[u.index] = true
				remaining--
			}
			values[u.index] = u.value

			if remaining != 0 {
				continue
			} else if last != nil && slices.Equal(last, values) {
				pending, sendCh = nil, nil // Reverted to what was last sent.
			} else {
				pending, sendCh = slices.Clone(values), out
			}

		case sendCh <- pending:
			last, pending, sendCh = pending, nil, nil

		case <-ctx.Done():
			return
		}
	}
}
