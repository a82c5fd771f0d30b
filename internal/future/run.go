package future

import (
	"context"
	"errors"
)

// Go runs fn on a new goroutine and returns a future for its result.
//
// The context handed to fn is cancelled when a discard is requested, which
// lets fn abandon work early. If fn then returns a cancellation error the
// future resolves as Discarded; any other return is delivered as Ready or
// Failed. The context is released once the future resolves.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	p := NewPromise[T]()
	runCtx, cancel := context.WithCancel(ctx)
	p.OnRelease(cancel)

	go func() {
		select {
		case <-p.DiscardRequested():
			cancel()
		case <-runCtx.Done():
		}
	}()

	go func() {
		v, err := fn(runCtx)
		switch {
		case err == nil:
			p.Set(v)
		case p.HasDiscard() && errors.Is(err, context.Canceled):
			p.Discard()
		default:
			p.Fail(err)
		}
	}()

	return p.Future()
}
