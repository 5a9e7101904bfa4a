// Package statesync keeps a slice of application state consistent with a
// storage.Backend, across changes of the context which partitions storage
// (for example, the active base site).
//
// For each distinct context, Sync reads the persisted value once and hands
// it to OnRead, and only then begins persisting emissions of State under that
// context's key. Reading strictly before writing means a Synchronizer never
// reads back a default value it wrote itself. Persistence is best-effort:
// decode and write failures are logged, and never surface to the caller.
package statesync

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/async"
	"go.storefront.dev/core/metrics"
	"go.storefront.dev/core/storage"
)

// Config of a Sync.
type Config[T any] struct {
	// Key is the base storage key, which is composed with the context tuple.
	Key string
	// State is the slice of state to persist. It's subscribed anew for each
	// context, after OnRead has been called. Nil snapshots are not written,
	// so that a "not yet loaded" value never overwrites a persisted one.
	State async.Observable[*T]
	// Context of the slice. Each emission which differs from the last, in
	// any dimension, selects a new storage key. If nil, a single empty
	// context is used.
	Context async.Observable[[]string]
	// Storage is the Backend to use. It's nil if there is none (eg, in
	// server-side rendering), in which case reads find nothing, writes are
	// no-ops, and OnRead and OnPersist are called as usual.
	Storage storage.Backend
	// OnRead is called once for each context, before writes of that context
	// begin, with the persisted value or nil if it's absent or undecodable.
	OnRead func(*T)
	// OnPersist is called after each successful write with the written value.
	OnPersist func(*T)
	// Events is an optional Observable of external Storage changes. An event
	// of the current key, which doesn't reflect this Sync's own last write,
	// re-reads the key and calls OnRead again.
	Events async.Observable[storage.Event]
}

// Sync runs the synchronization described by |cfg| until |ctx| is done,
// and then returns its error.
func Sync[T any](ctx context.Context, cfg Config[T]) error {
	var s = &synchronizer[T]{cfg: cfg}
	return s.serve(ctx)
}

type synchronizer[T any] struct {
	cfg Config[T]

	selected    bool     // Whether a context tuple has been selected.
	tuple       []string // Current context tuple.
	key         string   // Current composed storage key.
	lastWritten string   // Last value written (or read) under |key|.
}

func (s *synchronizer[T]) serve(ctx context.Context) error {
	var contextCh <-chan []string
	if s.cfg.Context != nil {
		contextCh = s.cfg.Context.Subscribe(ctx)
	} else {
		contextCh = async.Of([]string{}).Subscribe(ctx)
	}
	var eventCh <-chan storage.Event
	if s.cfg.Events != nil {
		eventCh = s.cfg.Events.Subscribe(ctx)
	}

	var stateCh <-chan *T
	var cancelState = func() {}
	defer func() { cancelState() }()

	for {
		select {
		case tuple, ok := <-contextCh:
			if !ok {
				contextCh = nil // Retain the current context.
				continue
			} else if s.selected && slices.Equal(tuple, s.tuple) {
				continue // Unchanged in every dimension.
			}
			// Unsubscribe the write-pipe of the prior key before reading the
			// new one, then subscribe a write-pipe of the new key.
			cancelState()

			s.selected, s.tuple = true, slices.Clone(tuple)
			s.key = storage.KeyWithContext(s.cfg.Key, s.tuple)
			metrics.StorageContextSwitchesTotal.WithLabelValues(s.cfg.Key).Inc()

			s.read()

			var stateCtx context.Context
			stateCtx, cancelState = context.WithCancel(ctx)
			stateCh = s.cfg.State.Subscribe(stateCtx)

		case snapshot, ok := <-stateCh:
			if !ok {
				stateCh = nil
				continue
			}
			s.write(snapshot)

		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
			} else if s.selected && ev.Key == s.key {
				s.onEvent()
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// read the current key, and pass its decoded value to OnRead.
func (s *synchronizer[T]) read() {
	var value *T

	if raw, ok := s.get(); ok {
		s.lastWritten = raw

		var v = new(T)
		if err := json.Unmarshal([]byte(raw), v); err != nil {
			log.WithFields(log.Fields{"key": s.key, "err": err}).
				Warn("failed to decode persisted state (ignoring)")
			metrics.StorageOpsTotal.WithLabelValues("decode", metrics.Fail).Inc()
		} else {
			value = v
		}
	} else {
		s.lastWritten = ""
	}

	if s.cfg.OnRead != nil {
		s.cfg.OnRead(value)
	}
}

// write |snapshot| under the current key, and pass it to OnPersist.
func (s *synchronizer[T]) write(snapshot *T) {
	if snapshot == nil {
		metrics.StorageOpsTotal.WithLabelValues("write", metrics.Skipped).Inc()
		return
	}
	var raw, err = json.Marshal(snapshot)
	if err != nil {
		log.WithFields(log.Fields{"key": s.key, "err": err}).
			Warn("failed to encode state (not persisted)")
		metrics.StorageOpsTotal.WithLabelValues("encode", metrics.Fail).Inc()
		return
	}

	if s.cfg.Storage != nil {
		if err = s.cfg.Storage.SetItem(s.key, string(raw)); err != nil {
			log.WithFields(log.Fields{"key": s.key, "err": err}).
				Warn("failed to persist state (application state is unaffected)")
			metrics.StorageOpsTotal.WithLabelValues("write", metrics.Fail).Inc()
			return
		}
		metrics.StorageOpsTotal.WithLabelValues("write", metrics.Ok).Inc()
		metrics.StorageWriteBytesTotal.Add(float64(len(raw)))

		log.WithFields(log.Fields{
			"key":  s.key,
			"size": humanize.Bytes(uint64(len(raw))),
		}).Trace("persisted state")
	}
	s.lastWritten = string(raw)

	if s.cfg.OnPersist != nil {
		s.cfg.OnPersist(snapshot)
	}
}

// onEvent handles an external change of the current key.
func (s *synchronizer[T]) onEvent() {
	if inv, ok := s.cfg.Storage.(interface{ Invalidate(string) }); ok {
		inv.Invalidate(s.key)
	}
	if raw, ok := s.get(); ok && raw == s.lastWritten {
		return // Our own write, or an identical one.
	} else if !ok && s.lastWritten == "" {
		return // Still absent.
	}

	log.WithField("key", s.key).Info("persisted state changed externally (re-reading)")
	s.read()
}

// get the raw value of the current key. Errors are treated as absence.
func (s *synchronizer[T]) get() (string, bool) {
	if s.cfg.Storage == nil {
		return "", false
	}
	var raw, ok, err = s.cfg.Storage.GetItem(s.key)
	if err != nil {
		log.WithFields(log.Fields{"key": s.key, "err": err}).
			Warn("failed to read persisted state (ignoring)")
		metrics.StorageOpsTotal.WithLabelValues("read", metrics.Fail).Inc()
		return "", false
	}
	metrics.StorageOpsTotal.WithLabelValues("read", metrics.Ok).Inc()
	return raw, ok
}
