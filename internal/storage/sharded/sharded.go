// Package sharded spreads names over several Storages. Each name lives on
// exactly one shard, chosen by a consistent-hash ring, so the CAS guarantees
// of the shard carry over unchanged.
package sharded

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"statestore/internal/ring"
	"statestore/internal/storage"
	"statestore/internal/version"
)

// ErrNoShards is returned when no shard is configured.
var ErrNoShards = errors.New("sharded: no shards configured")

// Shard pairs a ring member with its Storage.
type Shard struct {
	ID      string
	Addr    string
	Storage storage.Storage
}

// Store routes every call to the shard owning the name.
type Store struct {
	ring   *ring.Ring
	shards map[string]storage.Storage
	logger hclog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ storage.Storage = (*Store)(nil)

// New builds a Store over shards. Shard IDs must be unique.
func New(shards []Shard, vnodes int, logger hclog.Logger) (*Store, error) {
	if len(shards) == 0 {
		return nil, ErrNoShards
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	members := make([]ring.Shard, 0, len(shards))
	byID := make(map[string]storage.Storage, len(shards))
	for _, s := range shards {
		if s.ID == "" || s.Storage == nil {
			return nil, fmt.Errorf("sharded: shard %q is incomplete", s.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("sharded: duplicate shard id %q", s.ID)
		}
		byID[s.ID] = s.Storage
		members = append(members, ring.Shard{ID: s.ID, Addr: s.Addr})
	}

	r := ring.New(vnodes)
	r.SetShards(members)
	logger.Debug("ring built", "shards", len(members))

	return &Store{ring: r, shards: byID, logger: logger}, nil
}

// ShardFor returns the ID of the shard owning name.
func (s *Store) ShardFor(name string) (string, bool) {
	shard, ok := s.ring.Locate(name)
	return shard.ID, ok
}

func (s *Store) route(name string) (storage.Storage, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	shard, ok := s.ring.Locate(name)
	if !ok {
		return nil, ErrNoShards
	}
	return s.shards[shard.ID], nil
}

func (s *Store) Get(ctx context.Context, name string) (*storage.Entry, error) {
	st, err := s.route(name)
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, name)
}

func (s *Store) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	st, err := s.route(name)
	if err != nil {
		return version.Nil, false, err
	}
	return st.Put(ctx, name, expected, value)
}

func (s *Store) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	st, err := s.route(name)
	if err != nil {
		return false, err
	}
	return st.Delete(ctx, name, expected)
}

// Names queries every shard concurrently and merges the results. Any shard
// failure fails the whole listing.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	seen := make(map[string]struct{})
	for id, st := range s.shards {
		id, st := id, st
		g.Go(func() error {
			names, err := st.Names(gctx)
			if err != nil {
				return fmt.Errorf("shard %s: %w", id, err)
			}
			mu.Lock()
			for _, n := range names {
				seen[n] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes every shard and reports all failures together.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var result *multierror.Error
		for _, shard := range s.ring.Shards() {
			if err := s.shards[shard.ID].Close(); err != nil {
				s.logger.Warn("closing shard failed", "shard", shard.ID, "error", err)
				result = multierror.Append(result, fmt.Errorf("shard %s: %w", shard.ID, err))
			}
		}
		s.closeErr = result.ErrorOrNil()
	})
	return s.closeErr
}
