package state

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"statestore/internal/future"
)

// DefaultMaxAttempts bounds Update unless overridden.
const DefaultMaxAttempts = 10

// ErrTooManyConflicts is returned by Update when every attempt lost a race.
var ErrTooManyConflicts = errors.New("state: too many conflicting writes")

var errConflict = errors.New("state: conflict")

type updateConfig struct {
	maxAttempts int
	backOff     backoff.BackOff
}

// UpdateOption configures Update.
type UpdateOption func(*updateConfig)

// WithMaxAttempts sets the number of fetch and store rounds.
func WithMaxAttempts(n int) UpdateOption {
	return func(c *updateConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackOff sets the delay policy between rounds.
func WithBackOff(b backoff.BackOff) UpdateOption {
	return func(c *updateConfig) { c.backOff = b }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// Update applies fn to the current value of name and stores the result,
// starting over whenever another writer wins the race. fn may be called
// several times and must not have side effects. Errors from fn and from
// storage end the loop immediately.
func Update(ctx context.Context, s *State, name string, fn func(current Variable) ([]byte, error), opts ...UpdateOption) (Variable, error) {
	cfg := updateConfig{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.backOff == nil {
		cfg.backOff = defaultBackOff()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(cfg.backOff, uint64(cfg.maxAttempts-1)), ctx)

	attempt := func() (Variable, error) {
		current, err := await(ctx, s.Fetch(ctx, name))
		if err != nil {
			return Variable{}, backoff.Permanent(err)
		}
		value, err := fn(current)
		if err != nil {
			return Variable{}, backoff.Permanent(err)
		}
		stored, err := await(ctx, s.Store(ctx, current.Mutate(value)))
		if err != nil {
			return Variable{}, backoff.Permanent(err)
		}
		if stored == nil {
			return Variable{}, errConflict
		}
		return *stored, nil
	}

	v, err := backoff.RetryWithData(attempt, b)
	if errors.Is(err, errConflict) {
		return Variable{}, ErrTooManyConflicts
	}
	return v, err
}

// await waits for f within ctx and asks f to stop if ctx ends first.
func await[T any](ctx context.Context, f *future.Future[T]) (T, error) {
	o, err := f.AwaitContext(ctx)
	if err != nil {
		f.Discard()
		var zero T
		return zero, err
	}
	return o.Result()
}
