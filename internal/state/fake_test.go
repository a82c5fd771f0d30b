package state

import (
	"context"
	"errors"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// gatedStore blocks every call until the gate is opened. If honourCtx is
// set, a blocked call returns early when its context ends.
type gatedStore struct {
	storage.Storage
	entered   chan struct{}
	gate      chan struct{}
	honourCtx bool
	err       error
}

func newGatedStore(honourCtx bool) *gatedStore {
	return &gatedStore{
		Storage:   storage.NewInMemoryStore(),
		entered:   make(chan struct{}, 16),
		gate:      make(chan struct{}),
		honourCtx: honourCtx,
	}
}

func (g *gatedStore) wait(ctx context.Context) error {
	g.entered <- struct{}{}
	if g.honourCtx {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		<-g.gate
	}
	return g.err
}

func (g *gatedStore) open() { close(g.gate) }

func (g *gatedStore) Get(ctx context.Context, name string) (*storage.Entry, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.Storage.Get(ctx, name)
}

func (g *gatedStore) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	if err := g.wait(ctx); err != nil {
		return version.Nil, false, err
	}
	return g.Storage.Put(ctx, name, expected, value)
}

// failingStore fails every call with err.
type failingStore struct {
	storage.Storage
	err error
}

func (f failingStore) Get(context.Context, string) (*storage.Entry, error) { return nil, f.err }
func (f failingStore) Put(context.Context, string, version.Token, []byte) (version.Token, bool, error) {
	return version.Nil, false, f.err
}
func (f failingStore) Delete(context.Context, string, version.Token) (bool, error) { return false, f.err }
func (f failingStore) Names(context.Context) ([]string, error)                     { return nil, f.err }

// conflictingStore loses every write to an invisible concurrent writer.
type conflictingStore struct {
	storage.Storage
	puts int
}

func (c *conflictingStore) Put(context.Context, string, version.Token, []byte) (version.Token, bool, error) {
	c.puts++
	return version.Nil, false, nil
}

var errBackend = errors.New("backend: connection reset")
