// Package storagetest provides the contract suite every storage backend must
// pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// Factory returns a fresh, empty Storage for a single subtest. The suite
// closes it when the subtest ends.
type Factory func(t *testing.T) storage.Storage

// Run exercises the Storage contract against backends built by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"GetAbsent", testGetAbsent},
		{"CreateFromAbsent", testCreateFromAbsent},
		{"UpdateWithCurrentVersion", testUpdateWithCurrentVersion},
		{"StalePutConflicts", testStalePutConflicts},
		{"DeleteWithCurrentVersion", testDeleteWithCurrentVersion},
		{"StaleDeleteConflicts", testStaleDeleteConflicts},
		{"DeleteAbsentConflicts", testDeleteAbsentConflicts},
		{"NamesReflectsWrites", testNamesReflectsWrites},
		{"EmptyValue", testEmptyValue},
		{"BinaryValue", testBinaryValue},
		{"EmptyNameRejected", testEmptyNameRejected},
		{"ConcurrentPutSingleWinner", testConcurrentPutSingleWinner},
		{"ConcurrentCreateSingleWinner", testConcurrentCreateSingleWinner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStorage(t)
			t.Cleanup(func() {
				assert.NoError(t, s.Close())
			})
			tt.fn(t, s)
		})
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testGetAbsent(t *testing.T, s storage.Storage) {
	e, err := s.Get(testContext(t), "missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func testCreateFromAbsent(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	next, ok, err := s.Put(ctx, "job-1", version.New(), []byte("created"))
	require.NoError(t, err)
	require.True(t, ok, "creating an absent name must succeed")
	assert.False(t, next.IsNil())

	e, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "job-1", e.Name)
	assert.Equal(t, "created", string(e.Value))
	assert.Equal(t, next, e.Version)
}

func testUpdateWithCurrentVersion(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	v1, ok, err := s.Put(ctx, "job-2", version.New(), []byte("one"))
	require.NoError(t, err)
	require.True(t, ok)

	v2, ok, err := s.Put(ctx, "job-2", v1, []byte("two"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, v1, v2, "every write mints a new version")

	e, err := s.Get(ctx, "job-2")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "two", string(e.Value))
	assert.Equal(t, v2, e.Version)
}

func testStalePutConflicts(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	v1, ok, err := s.Put(ctx, "job-3", version.New(), []byte("one"))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.Put(ctx, "job-3", v1, []byte("two"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Put(ctx, "job-3", v1, []byte("stale"))
	require.NoError(t, err, "a conflict is not an error")
	assert.False(t, ok)

	e, err := s.Get(ctx, "job-3")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "two", string(e.Value))
}

func testDeleteWithCurrentVersion(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	v1, ok, err := s.Put(ctx, "job-4", version.New(), []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Delete(ctx, "job-4", v1)
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := s.Get(ctx, "job-4")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func testStaleDeleteConflicts(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	v1, ok, err := s.Put(ctx, "job-5", version.New(), []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.Put(ctx, "job-5", v1, []byte("y"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Delete(ctx, "job-5", v1)
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := s.Get(ctx, "job-5")
	require.NoError(t, err)
	assert.NotNil(t, e, "a stale delete must leave the value in place")
}

func testDeleteAbsentConflicts(t *testing.T, s storage.Storage) {
	ok, err := s.Delete(testContext(t), "never-written", version.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testNamesReflectsWrites(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	versions := make(map[string]version.Token)
	for _, name := range []string{"a", "b", "c"} {
		v, ok, err := s.Put(ctx, name, version.New(), []byte(name))
		require.NoError(t, err)
		require.True(t, ok)
		versions[name] = v
	}

	names, err = s.Names(ctx)
	require.NoError(t, err)
	assertSameNames(t, []string{"a", "b", "c"}, names)

	ok, err := s.Delete(ctx, "b", versions["b"])
	require.NoError(t, err)
	require.True(t, ok)

	names, err = s.Names(ctx)
	require.NoError(t, err)
	assertSameNames(t, []string{"a", "c"}, names)
}

func testEmptyValue(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	v, ok, err := s.Put(ctx, "empty", version.New(), nil)
	require.NoError(t, err)
	require.True(t, ok)

	e, err := s.Get(ctx, "empty")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Empty(t, e.Value)
	assert.Equal(t, v, e.Version)
}

func testBinaryValue(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	value := []byte{0x00, 0xff, 0x10, 0x00, 0x7f}
	_, ok, err := s.Put(ctx, "binary", version.New(), value)
	require.NoError(t, err)
	require.True(t, ok)

	e, err := s.Get(ctx, "binary")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, value, e.Value)
}

func testEmptyNameRejected(t *testing.T, s storage.Storage) {
	_, _, err := s.Put(testContext(t), "", version.New(), []byte("x"))
	assert.Error(t, err)
}

func testConcurrentPutSingleWinner(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	base, ok, err := s.Put(ctx, "contended", version.New(), []byte("base"))
	require.NoError(t, err)
	require.True(t, ok)

	winners := racePuts(t, ctx, s, "contended", base, 8)
	assert.Equal(t, 1, winners, "exactly one writer with the same expected version wins")
}

func testConcurrentCreateSingleWinner(t *testing.T, s storage.Storage) {
	ctx := testContext(t)

	// Every writer observed the name as absent, each with its own fresh token.
	winners := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := s.Put(ctx, "fresh", version.New(), []byte(fmt.Sprintf("w%d", i)))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "creation is atomic: one writer that saw the name absent wins")
	e, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, e)
}

func racePuts(t *testing.T, ctx context.Context, s storage.Storage, name string, expected version.Token, writers int) int {
	t.Helper()

	winners := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, ok, err := s.Put(ctx, name, expected, []byte(fmt.Sprintf("writer-%d", i)))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	close(start)
	wg.Wait()
	return winners
}

func assertSameNames(t *testing.T, want, got []string) {
	t.Helper()
	wantSet := make(map[string]bool, len(want))
	for _, n := range want {
		wantSet[n] = true
	}
	gotSet := make(map[string]bool, len(got))
	for _, n := range got {
		gotSet[n] = true
	}
	if diff := cmp.Diff(wantSet, gotSet); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}
