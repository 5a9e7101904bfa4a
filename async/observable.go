package async

import "context"

// Observable is a factory of subscriptions to a stream of values. Each call
// starts a new subscription which delivers values over the returned channel
// until |ctx| is cancelled, at which point the channel is closed. Cancelling
// |ctx| is the means of unsubscribing.
//
// Observables of this package conflate: a subscriber which is slow to receive
// observes the most recent value rather than every intermediate one.
type Observable[T any] func(ctx context.Context) <-chan T

// Subscribe to the Observable.
func (o Observable[T]) Subscribe(ctx context.Context) <-chan T { return o(ctx) }

// Of returns an Observable which delivers |values| in order to each
// subscriber, and then closes.
func Of[T any](values ...T) Observable[T] {
	return func(ctx context.Context) <-chan T {
		var out = make(chan T)
		go func() {
			defer close(out)
			for _, v := range values {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}

// Map returns an Observable of |fn| applied to each value of |o|.
func Map[T, U any](o Observable[T], fn func(T) U) Observable[U] {
	return func(ctx context.Context) <-chan U {
		var in = o(ctx)
		return Conflate(ctx, in, fn)
	}
}

// Conflate relays values of |in| through |fn| to the returned channel. While
// the receiver is not ready, only the most recent value is retained. The
// returned channel closes when |in| closes (after any retained value is
// delivered) or when |ctx| is done.
func Conflate[T, U any](ctx context.Context, in <-chan T, fn func(T) U) <-chan U {
	var out = make(chan U)

	go func() {
		defer close(out)

		var pending U
		var sendCh chan<- U // Non-nil only while |pending| is set.

		for in != nil || sendCh != nil {
			select {
			case v, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				pending, sendCh = fn(v), out
			case sendCh <- pending:
				sendCh = nil
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
