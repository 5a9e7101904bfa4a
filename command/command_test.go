package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.storefront.dev/core/async"
)

// timer is a factory which delivers |payload| after |payload| milliseconds.
func timer(ctx context.Context, payload int) (int, error) {
	select {
	case <-time.After(time.Duration(payload) * time.Millisecond):
		return payload, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestCancelPreviousDeliversOnlyLatest(t *testing.T) {
	var cmd = New("timer", timer, CancelPrevious)

	var r1 = cmd.Execute(context.Background(), 100)
	var r2 = cmd.Execute(context.Background(), 10)

	// |r1| is terminated synchronously with the second Execute.
	select {
	case <-r1.Done():
	default:
		t.Fatal("expected superseded invocation to be resolved")
	}
	var v, ok = r1.Value()
	assert.False(t, ok)
	assert.Equal(t, 0, v)
	assert.True(t, r1.Cancelled())
	assert.NoError(t, r1.Err())

	v, ok = r2.Value()
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.NoError(t, r2.Err())
}

func TestCancelPreviousUnderRapidFire(t *testing.T) {
	var running, maxRunning int32
	var cmd = New("rapid", func(ctx context.Context, payload int) (int, error) {
		var n = atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			var m = atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		return timer(ctx, 5)
	}, CancelPrevious)

	var results []*async.Result[int]
	for i := 0; i != 20; i++ {
		results = append(results, cmd.Execute(context.Background(), i))
	}

	var delivered int
	for i, r := range results {
		if _, ok := r.Value(); ok {
			delivered++
			assert.Equal(t, len(results)-1, i, "only the most recent invocation delivers")
		} else {
			assert.True(t, r.Cancelled())
		}
	}
	assert.Equal(t, 1, delivered)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning), "factories never overlap")
}

func TestErrorPreviousFailsSupersededInvocation(t *testing.T) {
	var cmd = New("timer", timer, ErrorPrevious)

	var r1 = cmd.Execute(context.Background(), 100)
	var r2 = cmd.Execute(context.Background(), 5)

	assert.Equal(t, ErrSuperseded, r1.Err())
	assert.False(t, r1.Cancelled())

	var v, ok = r2.Value()
	assert.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestQueueRunsInCallOrderWithoutOverlap(t *testing.T) {
	var mu sync.Mutex
	var events []string
	var running int32

	var cmd = New("queue", func(ctx context.Context, payload string) (string, error) {
		if atomic.AddInt32(&running, 1) != 1 {
			t.Error("factories overlap")
		}
		defer atomic.AddInt32(&running, -1)

		mu.Lock()
		events = append(events, "start "+payload)
		mu.Unlock()

		// Earlier invocations take longer, so any overlap would reorder ends.
		var d = map[string]time.Duration{"a": 30, "b": 10, "c": 1}[payload]
		time.Sleep(d * time.Millisecond)

		mu.Lock()
		events = append(events, "end "+payload)
		mu.Unlock()

		if payload == "b" {
			return "", errors.New("b failed")
		}
		return payload, nil
	}, Queue)

	var ra = cmd.Execute(context.Background(), "a")
	var rb = cmd.Execute(context.Background(), "b")
	var rc = cmd.Execute(context.Background(), "c")

	var v, ok = rc.Value()
	assert.True(t, ok)
	assert.Equal(t, "c", v)
	assert.EqualError(t, rb.Err(), "b failed")
	v, ok = ra.Value()
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start a", "end a", "start b", "end b", "start c", "end c"}, events)
}

func TestQueueCancelledWaiterDoesNotReleaseSuccessor(t *testing.T) {
	var gate = make(chan struct{})
	var started = make(chan string, 3)

	var cmd = New("queue", func(ctx context.Context, payload string) (string, error) {
		started <- payload
		if payload == "a" {
			<-gate // Ignores |ctx|.
		}
		return payload, nil
	}, Queue)

	var ra = cmd.Execute(context.Background(), "a")
	require.Equal(t, "a", <-started)

	var ctx, cancel = context.WithCancel(context.Background())
	var rb = cmd.Execute(ctx, "b")
	var rc = cmd.Execute(context.Background(), "c")

	cancel()
	assert.True(t, rb.Cancelled()) // Resolves promptly, while "a" is still running.

	select {
	case p := <-started:
		t.Fatalf("unexpected start of %q while %q runs", p, "a")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	var v, _ = ra.Value()
	assert.Equal(t, "a", v)
	v, _ = rc.Value()
	assert.Equal(t, "c", v)
	assert.Equal(t, "c", <-started) // "b" never started.
}

func TestParallelCompletesByLatency(t *testing.T) {
	var mu sync.Mutex
	var completed []int

	var cmd = New("parallel", func(ctx context.Context, payload int) (int, error) {
		var v, err = timer(ctx, payload)
		mu.Lock()
		completed = append(completed, v)
		mu.Unlock()
		return v, err
	}, Parallel)

	var results = []*async.Result[int]{
		cmd.Execute(context.Background(), 60),
		cmd.Execute(context.Background(), 10),
		cmd.Execute(context.Background(), 35),
	}
	for i, expect := range []int{60, 10, 35} {
		var v, ok = results[i].Value()
		assert.True(t, ok)
		assert.Equal(t, expect, v)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{10, 35, 60}, completed)
}

func TestFailureAndPanicAreIsolated(t *testing.T) {
	for _, strategy := range []Strategy{Queue, Parallel, CancelPrevious, ErrorPrevious} {
		var cmd = New("flaky", func(ctx context.Context, payload string) (string, error) {
			switch payload {
			case "fail":
				return "", errors.New("business failure")
			case "panic":
				panic("boom")
			default:
				return payload, nil
			}
		}, strategy)

		var r = cmd.Execute(context.Background(), "fail")
		assert.EqualError(t, r.Err(), "business failure", strategy)

		r = cmd.Execute(context.Background(), "panic")
		assert.EqualError(t, r.Err(), "command flaky panicked: boom", strategy)

		r = cmd.Execute(context.Background(), "ok")
		var v, ok = r.Value()
		assert.True(t, ok, strategy)
		assert.Equal(t, "ok", v, strategy)
	}
}

func TestCallerCancellationCancelsInvocation(t *testing.T) {
	var cmd = New("timer", timer, Parallel)
	var ctx, cancel = context.WithCancel(context.Background())

	var r = cmd.Execute(ctx, 1000)
	cancel()

	assert.True(t, r.Cancelled())
	assert.NoError(t, r.Err())
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "queue", Queue.String())
	assert.Equal(t, "parallel", Parallel.String())
	assert.Equal(t, "cancel-previous", CancelPrevious.String())
	assert.Equal(t, "error-previous", ErrorPrevious.String())
	assert.Equal(t, "Strategy(9)", Strategy(9).String())

	assert.Panics(t, func() { New("bad", timer, Strategy(9)) })
}
