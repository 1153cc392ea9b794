package stmtcache

import "context"

// Future is a value produced asynchronously. Futures built by Then are lazy:
// their mapping runs once, on the first goroutine that awaits them after the
// parent has resolved.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error

	// derive is run by whichever awaiter holds turn; val and err are
	// published by closing done.
	derive func(ctx context.Context) (T, error, bool)
	turn   chan struct{}
}

// Go runs fn on a new goroutine.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn()
	}()
	return f
}

// Ready returns an already resolved future.
func Ready[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v, err: err}
	close(f.done)
	return f
}

// Then returns a future whose value is fn applied to f's outcome.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	return &Future[U]{
		done: make(chan struct{}),
		turn: make(chan struct{}, 1),
		derive: func(ctx context.Context) (U, error, bool) {
			v, err, ok := f.await(ctx)
			if !ok {
				var zero U
				return zero, nil, false
			}
			u, err := fn(v, err)
			return u, err, true
		},
	}
}

// Await blocks until the future resolves or ctx is done. A cancelled Await
// leaves the future unresolved; a later Await can still complete it.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	v, err, ok := f.await(ctx)
	if !ok {
		return v, ctx.Err()
	}
	return v, err
}

func (f *Future[T]) await(ctx context.Context) (T, error, bool) {
	var zero T
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
	}
	if f.derive == nil {
		select {
		case <-f.done:
			return f.val, f.err, true
		case <-ctx.Done():
			return zero, nil, false
		}
	}

	select {
	case <-f.done:
		return f.val, f.err, true
	case <-ctx.Done():
		return zero, nil, false
	case f.turn <- struct{}{}:
	}
	defer func() { <-f.turn }()

	select {
	case <-f.done:
		return f.val, f.err, true
	default:
	}
	v, err, ok := f.derive(ctx)
	if !ok {
		return zero, nil, false
	}
	f.val, f.err = v, err
	close(f.done)
	return v, err, true
}
