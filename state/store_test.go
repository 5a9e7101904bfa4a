package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type increment struct{ by int }
type reset struct{}

func counterReducer(state int, action Action) int {
	switch a := action.(type) {
	case increment:
		return state + a.by
	case reset:
		return 0
	}
	return state
}

func TestDispatchAppliesToRegisteredSlices(t *testing.T) {
	var s = NewStore()

	// Dispatch prior to registration is dropped.
	s.Dispatch(increment{by: 5})
	assert.False(t, s.Registered("counter"))
	assert.Equal(t, Tree{}, s.Tree())

	RegisterSlice(s, "counter", 0, counterReducer)
	RegisterSlice(s, "other", 100, counterReducer)
	assert.True(t, s.Registered("counter"))

	s.Dispatch(increment{by: 2}, increment{by: 3})
	assert.Equal(t, Tree{"counter": 5, "other": 105}, s.Tree())

	s.Dispatch(reset{}, "unknown action")
	assert.Equal(t, Tree{"counter": 0, "other": 0}, s.Tree())

	assert.Panics(t, func() { RegisterSlice(s, "counter", 0, counterReducer) })
}

func TestObserversSeeUpdatedTreeAndMayDispatch(t *testing.T) {
	var s = NewStore()
	RegisterSlice(s, "counter", 0, counterReducer)

	var seen []interface{}
	s.Observe(func(a Action) {
		seen = append(seen, s.Tree()["counter"])
		if inc, ok := a.(increment); ok && inc.by == 1 {
			s.Dispatch(increment{by: 10}) // Re-entrant dispatch.
		}
	})
	s.Dispatch(increment{by: 1})

	assert.Equal(t, []interface{}{1, 11}, seen)
	assert.Equal(t, 11, s.Tree()["counter"])
}

func TestUpdateSignalsOnRegistrationAndDispatch(t *testing.T) {
	var s = NewStore()

	var ch = s.Update()
	RegisterSlice(s, "counter", 0, counterReducer)
	<-ch // Signalled.

	ch = s.Update()
	select {
	case <-ch:
		t.Fatal("unexpected signal")
	default:
	}
	s.Dispatch(increment{by: 1})
	<-ch
}

func TestSelectFiltersMissingSliceAndDuplicates(t *testing.T) {
	var s = NewStore()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var values = Select(s, Slice[int]("counter"), nil).Subscribe(ctx)

	// Nothing is emitted while the slice is unregistered.
	select {
	case v := <-values:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(10 * time.Millisecond):
	}

	RegisterSlice(s, "counter", 0, counterReducer)
	assert.Equal(t, 0, <-values)

	s.Dispatch(increment{by: 0}) // Unchanged: not emitted.
	s.Dispatch(increment{by: 2})
	assert.Equal(t, 2, <-values)

	cancel()
	for range values {
		// Drain until closed.
	}
}

func TestSelectConflatesForSlowSubscribers(t *testing.T) {
	var s = NewStore()
	RegisterSlice(s, "counter", 0, counterReducer)

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var values = Select(s, Slice[int]("counter"), func(a, b int) bool { return a == b }).Subscribe(ctx)
	require.Equal(t, 0, <-values)

	for i := 0; i != 10; i++ {
		s.Dispatch(increment{by: 1})
	}
	// Intermediate values may be skipped, but the latest is eventually observed.
	var v int
	for v != 10 {
		v = <-values
	}
	assert.Equal(t, 10, v)
}
