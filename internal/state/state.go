package state

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"statestore/internal/future"
	"statestore/internal/storage"
)

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger. State logs under the "state" name.
func WithLogger(l hclog.Logger) Option {
	return func(s *State) { s.logger = l }
}

// WithMaxInFlight bounds the number of operations talking to storage at
// once. Operations over the limit wait their turn; discarding a waiting
// operation resolves it as discarded.
func WithMaxInFlight(n int64) Option {
	return func(s *State) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithMetrics reports operations to m.
func WithMetrics(m *Metrics) Option {
	return func(s *State) { s.metrics = m }
}

// WithTracer records a span per operation.
func WithTracer(t trace.Tracer) Option {
	return func(s *State) { s.tracer = t }
}

// State is a compare-and-swap key/value store. It is safe for concurrent use
// and holds no state besides its configuration.
type State struct {
	storage storage.Storage
	logger  hclog.Logger
	sem     *semaphore.Weighted
	metrics *Metrics
	tracer  trace.Tracer
}

// New creates a State backed by st.
func New(st storage.Storage, opts ...Option) *State {
	s := &State{
		storage: st,
		logger:  hclog.NewNullLogger(),
		metrics: NewMetrics(nil),
		tracer:  noop.NewTracerProvider().Tracer("statestore/state"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("state")
	return s
}

// Fetch reads the current value of name. A name holding no value yields an
// absent Variable with an empty value and a fresh version, which can be
// stored like any other.
func (s *State) Fetch(ctx context.Context, name string) *future.Future[Variable] {
	return run(s, ctx, "fetch", name, func(ctx context.Context) (Variable, string, error) {
		e, err := s.storage.Get(ctx, name)
		if err != nil {
			return Variable{}, "", err
		}
		if e == nil {
			return absentVariable(name), resultOK, nil
		}
		return Variable{name: name, value: e.Value, version: e.Version}, resultOK, nil
	})
}

// Store writes v if the name still holds the version v was read at, or holds
// nothing at all. It resolves to the stored Variable, or to nil if another
// write got there first.
func (s *State) Store(ctx context.Context, v Variable) *future.Future[*Variable] {
	return run(s, ctx, "store", v.name, func(ctx context.Context) (*Variable, string, error) {
		next, ok, err := s.storage.Put(ctx, v.name, v.version, v.value)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			s.logger.Debug("store conflict", "name", v.name, "expected", v.version)
			return nil, resultConflict, nil
		}
		return &Variable{name: v.name, value: clone(v.value), version: next}, resultOK, nil
	})
}

// Expunge deletes v's name if it still holds v's version. It resolves to
// false if the version moved on or the name holds nothing.
func (s *State) Expunge(ctx context.Context, v Variable) *future.Future[bool] {
	return run(s, ctx, "expunge", v.name, func(ctx context.Context) (bool, string, error) {
		ok, err := s.storage.Delete(ctx, v.name, v.version)
		if err != nil {
			return false, "", err
		}
		if !ok {
			s.logger.Debug("expunge conflict", "name", v.name, "expected", v.version)
			return false, resultConflict, nil
		}
		return true, resultOK, nil
	})
}

// Names lists the names currently holding a value. The listing is not a
// snapshot: writes racing with it may or may not be reflected.
func (s *State) Names(ctx context.Context) *future.Future[Set] {
	return run(s, ctx, "names", "", func(ctx context.Context) (Set, string, error) {
		names, err := s.storage.Names(ctx)
		if err != nil {
			return nil, "", err
		}
		return newSet(names), resultOK, nil
	})
}

// run executes op asynchronously with concurrency limiting, tracing and
// metrics. fn reports the metric result for successful calls.
func run[T any](s *State, ctx context.Context, op, name string, fn func(context.Context) (T, string, error)) *future.Future[T] {
	started := s.metrics.start()
	result := resultOK

	var span trace.Span
	ctx, span = s.tracer.Start(ctx, "state."+op, trace.WithAttributes(
		attribute.String("statestore.op", op),
		attribute.String("statestore.name", name),
	))

	f := future.Go(ctx, func(ctx context.Context) (T, error) {
		var zero T
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return zero, err
			}
			defer s.sem.Release(1)
		}

		v, res, err := fn(ctx)
		if err != nil {
			return zero, err
		}
		result = res
		return v, nil
	})

	f.OnComplete(func(o future.Outcome[T]) {
		switch o.State {
		case future.Failed:
			result = resultError
			span.RecordError(o.Err)
			span.SetStatus(codes.Error, o.Err.Error())
			s.logger.Warn("operation failed", "op", op, "name", name, "error", o.Err)
		case future.Discarded:
			result = resultDiscarded
			span.SetAttributes(attribute.Bool("statestore.discarded", true))
		}
		span.SetAttributes(attribute.String("statestore.result", result))
		span.End()
		s.metrics.finish(op, result, started)
	})
	return f
}
