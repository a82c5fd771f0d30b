package sharded

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statestore/internal/storage"
	"statestore/internal/storage/storagetest"
	"statestore/internal/version"
)

func memShards(n int) ([]Shard, []*storage.InMemoryStore) {
	shards := make([]Shard, n)
	stores := make([]*storage.InMemoryStore, n)
	for i := range shards {
		stores[i] = storage.NewInMemoryStore()
		shards[i] = Shard{ID: fmt.Sprintf("s%d", i+1), Storage: stores[i]}
	}
	return shards, stores
}

func TestStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		shards, _ := memShards(3)
		s, err := New(shards, 32, nil)
		require.NoError(t, err)
		return s
	})
}

func TestStore_EachNameOnExactlyOneShard(t *testing.T) {
	ctx := context.Background()
	shards, stores := memShards(3)
	s, err := New(shards, 64, nil)
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		_, ok, err := s.Put(ctx, fmt.Sprintf("job-%d", i), version.Nil, []byte("x"))
		require.NoError(t, err)
		require.True(t, ok)
	}

	total := 0
	for i, st := range stores {
		names, err := st.Names(ctx)
		require.NoError(t, err)
		for _, n := range names {
			owner, ok := s.ShardFor(n)
			require.True(t, ok)
			assert.Equal(t, shards[i].ID, owner)
		}
		total += len(names)
	}
	assert.Equal(t, 60, total)

	all, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 60)
}

type failingStore struct {
	storage.Storage
	namesErr error
	closeErr error
}

func (f *failingStore) Names(context.Context) ([]string, error) { return nil, f.namesErr }
func (f *failingStore) Close() error                            { return f.closeErr }

func TestStore_NamesFailsIfAnyShardFails(t *testing.T) {
	boom := errors.New("shard down")
	shards, _ := memShards(2)
	shards = append(shards, Shard{ID: "bad", Storage: &failingStore{Storage: storage.NewInMemoryStore(), namesErr: boom}})

	s, err := New(shards, 16, nil)
	require.NoError(t, err)

	_, err = s.Names(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestStore_CloseAggregatesErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	s, err := New([]Shard{
		{ID: "a", Storage: &failingStore{closeErr: errA}},
		{ID: "b", Storage: &failingStore{closeErr: errB}},
		{ID: "c", Storage: storage.NewInMemoryStore()},
	}, 16, nil)
	require.NoError(t, err)

	err = s.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	// Second close reports the same result.
	assert.Equal(t, err, s.Close())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, 16, nil)
	assert.ErrorIs(t, err, ErrNoShards)

	_, err = New([]Shard{{ID: "a", Storage: storage.NewInMemoryStore()}, {ID: "a", Storage: storage.NewInMemoryStore()}}, 16, nil)
	assert.Error(t, err)

	_, err = New([]Shard{{ID: "a"}}, 16, nil)
	assert.Error(t, err)
}
