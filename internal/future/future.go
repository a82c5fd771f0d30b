package future

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by timed waits that expire before resolution.
	// The future is left untouched and may be waited on again.
	ErrTimeout = errors.New("failed to wait for future within timeout")
	// ErrDiscarded is returned by Get when the future resolved as discarded.
	ErrDiscarded = errors.New("future was discarded")
	// ErrUnknownFailure stands in for a nil error passed to Fail.
	ErrUnknownFailure = errors.New("future failed with an unknown error")
)

// State is the resolution state of a future.
type State int

const (
	Pending State = iota
	Ready
	Failed
	Discarded
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Outcome is the final (or, for timed waits, the current) result of a future.
type Outcome[T any] struct {
	State State
	Value T
	Err   error
}

// Result converts the outcome into the usual value/error pair.
func (o Outcome[T]) Result() (T, error) {
	var zero T
	switch o.State {
	case Ready:
		return o.Value, nil
	case Failed:
		return zero, o.Err
	case Discarded:
		return zero, ErrDiscarded
	default:
		return zero, ErrTimeout
	}
}

// shared holds the state common to a Promise and its Future.
type shared[T any] struct {
	mu        sync.Mutex
	outcome   Outcome[T]
	done      chan struct{}
	discard   chan struct{}
	requested bool
	callbacks []func(Outcome[T])
	releases  []func()
}

func newShared[T any]() *shared[T] {
	return &shared[T]{
		done:    make(chan struct{}),
		discard: make(chan struct{}),
	}
}

// resolve moves the future to a terminal state. Only the first call has an
// effect. Callbacks and release hooks run after the lock is dropped.
func (s *shared[T]) resolve(o Outcome[T]) bool {
	s.mu.Lock()
	if s.outcome.State != Pending {
		s.mu.Unlock()
		return false
	}
	s.outcome = o
	callbacks := s.callbacks
	releases := s.releases
	s.callbacks = nil
	s.releases = nil
	close(s.done)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(o)
	}
	for _, release := range releases {
		release()
	}
	return true
}

func (s *shared[T]) snapshot() Outcome[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Promise is the producer side of a future.
type Promise[T any] struct {
	s *shared[T]
}

// NewPromise creates a pending promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{s: newShared[T]()}
}

// Future returns the consumer side of the promise.
func (p *Promise[T]) Future() *Future[T] {
	return &Future[T]{s: p.s}
}

// Set resolves the future with a value. Returns false if already resolved.
func (p *Promise[T]) Set(v T) bool {
	return p.s.resolve(Outcome[T]{State: Ready, Value: v})
}

// Fail resolves the future with an error. Returns false if already resolved.
func (p *Promise[T]) Fail(err error) bool {
	if err == nil {
		err = ErrUnknownFailure
	}
	return p.s.resolve(Outcome[T]{State: Failed, Err: err})
}

// Discard resolves the future as discarded. Returns false if already resolved.
func (p *Promise[T]) Discard() bool {
	return p.s.resolve(Outcome[T]{State: Discarded})
}

// DiscardRequested is closed once a consumer has asked for a discard.
func (p *Promise[T]) DiscardRequested() <-chan struct{} {
	return p.s.discard
}

// HasDiscard reports whether a consumer has asked for a discard.
func (p *Promise[T]) HasDiscard() bool {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.requested
}

// OnRelease registers fn to run exactly once when the future reaches a
// terminal state. If it already has, fn runs immediately.
func (p *Promise[T]) OnRelease(fn func()) {
	p.s.mu.Lock()
	if p.s.outcome.State == Pending {
		p.s.releases = append(p.s.releases, fn)
		p.s.mu.Unlock()
		return
	}
	p.s.mu.Unlock()
	fn()
}

// Future is the consumer side of an asynchronous result.
type Future[T any] struct {
	s *shared[T]
}

// ReadyOf returns a future already resolved with v.
func ReadyOf[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.Set(v)
	return p.Future()
}

// FailedOf returns a future already resolved with err.
func FailedOf[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.Fail(err)
	return p.Future()
}

// Done is closed when the future reaches a terminal state. A discard request
// alone does not close it.
func (f *Future[T]) Done() <-chan struct{} {
	return f.s.done
}

// Await blocks until the future resolves.
func (f *Future[T]) Await() Outcome[T] {
	<-f.s.done
	return f.s.snapshot()
}

// AwaitContext blocks until the future resolves or ctx ends. When ctx ends
// first, the returned outcome is Pending and the future is unaffected.
func (f *Future[T]) AwaitContext(ctx context.Context) (Outcome[T], error) {
	select {
	case <-f.s.done:
		return f.s.snapshot(), nil
	default:
	}
	select {
	case <-f.s.done:
		return f.s.snapshot(), nil
	case <-ctx.Done():
		return Outcome[T]{State: Pending}, ctx.Err()
	}
}

// AwaitTimeout blocks for at most d. On expiry it returns ErrTimeout and
// leaves the future unchanged.
func (f *Future[T]) AwaitTimeout(d time.Duration) (Outcome[T], error) {
	select {
	case <-f.s.done:
		return f.s.snapshot(), nil
	default:
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.s.done:
		return f.s.snapshot(), nil
	case <-timer.C:
		return Outcome[T]{State: Pending}, ErrTimeout
	}
}

// Get blocks until resolution and returns the value, the failure, or
// ErrDiscarded.
func (f *Future[T]) Get() (T, error) {
	return f.Await().Result()
}

// GetTimeout is Get bounded by d.
func (f *Future[T]) GetTimeout(d time.Duration) (T, error) {
	o, err := f.AwaitTimeout(d)
	if err != nil {
		var zero T
		return zero, err
	}
	return o.Result()
}

// Poll returns the outcome without blocking. The boolean is false while the
// future is still pending.
func (f *Future[T]) Poll() (Outcome[T], bool) {
	o := f.s.snapshot()
	return o, o.State != Pending
}

// OnComplete registers cb to be invoked exactly once with the final outcome.
// If the future has already resolved, cb runs immediately on the caller's
// goroutine.
func (f *Future[T]) OnComplete(cb func(Outcome[T])) {
	f.s.mu.Lock()
	if f.s.outcome.State == Pending {
		f.s.callbacks = append(f.s.callbacks, cb)
		f.s.mu.Unlock()
		return
	}
	o := f.s.outcome
	f.s.mu.Unlock()
	cb(o)
}

// Discard asks the producer to abandon the operation. It never blocks and
// guarantees nothing: the future may still resolve to any state.
func (f *Future[T]) Discard() {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.requested || f.s.outcome.State != Pending {
		return
	}
	f.s.requested = true
	close(f.s.discard)
}

// HasDiscard reports whether a discard has been requested.
func (f *Future[T]) HasDiscard() bool {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.requested
}

// IsPending reports whether the future has not reached a terminal state.
func (f *Future[T]) IsPending() bool {
	return f.State() == Pending
}

// IsDone reports true once the future has resolved or a discard has been
// requested, whichever comes first. It says nothing about which outcome, if
// any, has been reached.
func (f *Future[T]) IsDone() bool {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.outcome.State != Pending || f.s.requested
}

// IsCancelled always reports false. A discard request is never acknowledged
// by the producer, so cancellation cannot be claimed.
func (f *Future[T]) IsCancelled() bool {
	return false
}

// State returns the current resolution state.
func (f *Future[T]) State() State {
	return f.s.snapshot().State
}
