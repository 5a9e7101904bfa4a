package statesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.storefront.dev/core/async"
	"go.storefront.dev/core/state"
	"go.storefront.dev/core/storage"
)

type record struct {
	Value string `json:"value"`
}

type setRecord struct{ r *record }

func newRecordStore(initial *record) (*state.Store, async.Observable[*record]) {
	var s = state.NewStore()
	state.RegisterSlice(s, "test", initial, func(cur *record, a state.Action) *record {
		if set, ok := a.(setRecord); ok {
			return set.r
		}
		return cur
	})
	return s, state.Select(s, state.Slice[*record]("test"), nil)
}

// feed is an Observable which relays values sent to |ch| to its (single)
// subscriber. Unlike a Select, it doesn't replay a current value.
func feed[T any](ch <-chan T) async.Observable[T] {
	return func(ctx context.Context) <-chan T {
		var out = make(chan T)
		go func() {
			defer close(out)
			for {
				select {
				case v := <-ch:
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}

// awaitValue receives from |ch| until a record of |value| is seen.
func awaitValue(t *testing.T, ch <-chan *record, value string) {
	t.Helper()
	var timeout = time.After(5 * time.Second)
	for {
		select {
		case r := <-ch:
			if r != nil && r.Value == value {
				return
			}
		case <-timeout:
			t.Fatalf("timeout awaiting %q", value)
		}
	}
}

func nextRead(t *testing.T, ch <-chan *record) *record {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout awaiting read")
		return nil
	}
}

func expectNoRead(t *testing.T, ch <-chan *record) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected read %v", r)
	case <-time.After(20 * time.Millisecond):
	}
}

func startSync(t *testing.T, cfg Config[record]) (cancel func()) {
	var ctx, cancelFn = context.WithCancel(context.Background())
	var doneCh = make(chan error, 1)
	go func() { doneCh <- Sync(ctx, cfg) }()

	return func() {
		cancelFn()
		assert.Equal(t, context.Canceled, <-doneCh)
	}
}

func TestRoundTripAcrossSyncs(t *testing.T) {
	var backend = storage.NewMemoryBackend()
	var reads, persists = make(chan *record, 16), make(chan *record, 16)

	var store, selected = newRecordStore(&record{Value: "first"})
	var stop = startSync(t, Config[record]{
		Key:       "key",
		State:     selected,
		Storage:   backend,
		OnRead:    func(r *record) { reads <- r },
		OnPersist: func(r *record) { persists <- r },
	})
	assert.Nil(t, nextRead(t, reads))
	awaitValue(t, persists, "first")

	store.Dispatch(setRecord{&record{Value: "second"}})
	awaitValue(t, persists, "second")
	stop()

	var raw, ok, _ = backend.GetItem("key")
	assert.True(t, ok)
	assert.JSONEq(t, `{"value":"second"}`, raw)

	// A new Sync of the same Backend reads the persisted value.
	_, selected = newRecordStore(nil)
	stop = startSync(t, Config[record]{
		Key:     "key",
		State:   selected,
		Storage: backend,
		OnRead:  func(r *record) { reads <- r },
	})
	assert.Equal(t, &record{Value: "second"}, nextRead(t, reads))
	stop()
}

func TestNilSnapshotIsNeverWritten(t *testing.T) {
	var backend = storage.NewMemoryBackend()
	require.NoError(t, backend.SetItem("key", `{"value":"persisted"}`))

	var persists = make(chan *record, 16)
	var reads = make(chan *record, 16)

	// State is "not yet loaded" when the Sync starts.
	var store, selected = newRecordStore(nil)
	var stop = startSync(t, Config[record]{
		Key:       "key",
		State:     selected,
		Storage:   backend,
		OnRead:    func(r *record) { reads <- r },
		OnPersist: func(r *record) { persists <- r },
	})
	assert.Equal(t, &record{Value: "persisted"}, nextRead(t, reads))

	store.Dispatch(setRecord{&record{Value: "loaded"}})
	awaitValue(t, persists, "loaded")

	store.Dispatch(setRecord{nil})
	store.Dispatch(setRecord{&record{Value: "reloaded"}})
	awaitValue(t, persists, "reloaded")
	stop()

	var raw, _, _ = backend.GetItem("key")
	assert.JSONEq(t, `{"value":"reloaded"}`, raw)
}

func TestContextSwitchIsolatesKeys(t *testing.T) {
	var backend = storage.NewMemoryBackend()
	require.NoError(t, backend.SetItem("key_siteA", `{"value":"a"}`))

	var contextCh = make(chan []string)
	var reads, persists = make(chan *record, 16), make(chan *record, 16)

	var store, selected = newRecordStore(&record{Value: "default"})
	var stop = startSync(t, Config[record]{
		Key:     "key",
		State:   selected,
		Context: feed(contextCh),
		Storage: backend,
		OnRead: func(r *record) {
			reads <- r
			store.Dispatch(setRecord{r})
		},
		OnPersist: func(r *record) { persists <- r },
	})

	// Nothing is read or written prior to the first context.
	select {
	case r := <-reads:
		t.Fatalf("unexpected read %v", r)
	case <-time.After(10 * time.Millisecond):
	}

	contextCh <- []string{"siteA"}
	assert.Equal(t, &record{Value: "a"}, nextRead(t, reads))
	awaitValue(t, persists, "a")

	store.Dispatch(setRecord{&record{Value: "a2"}})
	awaitValue(t, persists, "a2")

	// An equal context doesn't re-read.
	contextCh <- []string{"siteA"}
	expectNoRead(t, reads)

	contextCh <- []string{"siteB"}
	assert.Nil(t, nextRead(t, reads))

	store.Dispatch(setRecord{&record{Value: "b"}})
	awaitValue(t, persists, "b")

	contextCh <- []string{"siteA"}
	assert.Equal(t, &record{Value: "a2"}, nextRead(t, reads))
	stop()

	var raw, _, _ = backend.GetItem("key_siteA")
	assert.JSONEq(t, `{"value":"a2"}`, raw)
	raw, _, _ = backend.GetItem("key_siteB")
	assert.JSONEq(t, `{"value":"b"}`, raw)

	// The default value was never persisted.
	var keys, _ = backend.Keys("")
	assert.Equal(t, []string{"key_siteA", "key_siteB"}, keys)
}

func TestEqualContextAfterStateCompletes(t *testing.T) {
	var backend = storage.NewMemoryBackend()
	var contextCh = make(chan []string)
	var events = make(chan storage.Event)
	var reads, persists = make(chan *record, 16), make(chan *record, 16)

	var stop = startSync(t, Config[record]{
		Key:       "key",
		State:     async.Of(&record{Value: "only"}),
		Context:   feed(contextCh),
		Storage:   backend,
		OnRead:    func(r *record) { reads <- r },
		OnPersist: func(r *record) { persists <- r },
		Events:    feed(events),
	})

	contextCh <- []string{"siteA"}
	assert.Nil(t, nextRead(t, reads))
	awaitValue(t, persists, "only")

	// State has completed. An equal context still doesn't re-read.
	contextCh <- []string{"siteA"}
	expectNoRead(t, reads)

	// External changes of the current key are still observed.
	require.NoError(t, backend.SetItem("key_siteA", `{"value":"external"}`))
	events <- storage.Event{Key: "key_siteA"}
	assert.Equal(t, &record{Value: "external"}, nextRead(t, reads))
	stop()
}

func TestWithoutStorage(t *testing.T) {
	var reads, persists = make(chan *record, 16), make(chan *record, 16)

	var store, selected = newRecordStore(&record{Value: "one"})
	var stop = startSync(t, Config[record]{
		Key:       "key",
		State:     selected,
		OnRead:    func(r *record) { reads <- r },
		OnPersist: func(r *record) { persists <- r },
	})
	assert.Nil(t, nextRead(t, reads))
	awaitValue(t, persists, "one")

	store.Dispatch(setRecord{&record{Value: "two"}})
	awaitValue(t, persists, "two")
	stop()

	// OnRead was called exactly once.
	assert.Len(t, reads, 0)
}

func TestCorruptValueReadsAsNil(t *testing.T) {
	var backend = storage.NewMemoryBackend()
	require.NoError(t, backend.SetItem("key_x", `{"value":`))

	var reads = make(chan *record, 16)
	var _, selected = newRecordStore(nil)
	var stop = startSync(t, Config[record]{
		Key:     "key",
		State:   selected,
		Context: async.Of([]string{"x"}),
		Storage: backend,
		OnRead:  func(r *record) { reads <- r },
	})
	assert.Nil(t, nextRead(t, reads))
	stop()
}

type failingBackend struct{ storage.Backend }

func (failingBackend) SetItem(string, string) error { return assert.AnError }

func TestWriteFailuresAreNotFatal(t *testing.T) {
	var reads, persists = make(chan *record, 16), make(chan *record, 16)

	var store, selected = newRecordStore(&record{Value: "one"})
	var stop = startSync(t, Config[record]{
		Key:       "key",
		State:     selected,
		Storage:   failingBackend{storage.NewMemoryBackend()},
		OnRead:    func(r *record) { reads <- r },
		OnPersist: func(r *record) { persists <- r },
	})
	assert.Nil(t, nextRead(t, reads))

	store.Dispatch(setRecord{&record{Value: "two"}})
	// The Sync continues to run, but nothing is reported as persisted.
	select {
	case r := <-persists:
		t.Fatalf("unexpected persist %v", r)
	case <-time.After(20 * time.Millisecond):
	}
	stop()
}

func TestExternalChangesAreReRead(t *testing.T) {
	var backend = storage.NewMemoryBackend()
	var events = make(chan storage.Event)
	var reads, persists = make(chan *record, 16), make(chan *record, 16)

	var _, selected = newRecordStore(&record{Value: "mine"})
	var stop = startSync(t, Config[record]{
		Key:       "key",
		State:     selected,
		Storage:   backend,
		OnRead:    func(r *record) { reads <- r },
		OnPersist: func(r *record) { persists <- r },
		Events:    feed(events),
	})
	assert.Nil(t, nextRead(t, reads))
	awaitValue(t, persists, "mine")

	// Events of our own write, or of other keys, are ignored.
	events <- storage.Event{Key: "key"}
	events <- storage.Event{Key: "other"}

	require.NoError(t, backend.SetItem("key", `{"value":"theirs"}`))
	events <- storage.Event{Key: "key"}

	assert.Equal(t, &record{Value: "theirs"}, nextRead(t, reads))
	stop()
}

func TestSiteSwitchScenario(t *testing.T) {
	var backend = storage.NewMemoryBackend()
	var contextCh, stateCh = make(chan []string), make(chan *record)
	var reads, persists = make(chan *record, 16), make(chan *record, 16)

	var stop = startSync(t, Config[record]{
		Key:       "cart",
		State:     feed(stateCh),
		Context:   feed(contextCh),
		Storage:   backend,
		OnRead:    func(r *record) { reads <- r },
		OnPersist: func(r *record) { persists <- r },
	})

	contextCh <- []string{"siteA"}
	assert.Nil(t, nextRead(t, reads))

	stateCh <- &record{Value: "cart-1"}
	stateCh <- &record{Value: "cart-2"}
	awaitValue(t, persists, "cart-2")

	contextCh <- []string{"siteB"}
	assert.Nil(t, nextRead(t, reads))
	stop()

	var raw, ok, _ = backend.GetItem("cart_siteA")
	assert.True(t, ok)
	assert.JSONEq(t, `{"value":"cart-2"}`, raw)

	// No write has happened under siteB.
	_, ok, _ = backend.GetItem("cart_siteB")
	assert.False(t, ok)
}
