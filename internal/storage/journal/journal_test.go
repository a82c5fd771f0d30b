package journal

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statestore/internal/storage"
	"statestore/internal/storage/storagetest"
	"statestore/internal/version"
)

func newJournal(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	j, err := New(storage.NewInMemoryStore(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func values(revs []Revision) []string {
	out := make([]string, len(revs))
	for i, r := range revs {
		out[i] = string(r.Value)
	}
	return out
}

func TestJournal_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		j, err := New(storage.NewInMemoryStore())
		require.NoError(t, err)
		return j
	})
}

func TestJournal_HistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	ver := version.Nil
	for i := 1; i <= 4; i++ {
		next, ok, err := j.Put(ctx, "job-17", ver, []byte(fmt.Sprintf("config v%d", i)))
		require.NoError(t, err)
		require.True(t, ok)
		ver = next
	}

	revs, err := j.History("job-17")
	require.NoError(t, err)
	assert.Equal(t, []string{"config v3", "config v2", "config v1"}, values(revs))
	for _, r := range revs {
		assert.False(t, r.Deleted)
		assert.False(t, r.Version.IsNil())
	}
}

func TestJournal_VersionsMatchSupersededWrites(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	v1, _, err := j.Put(ctx, "a", version.Nil, []byte("one"))
	require.NoError(t, err)
	v2, _, err := j.Put(ctx, "a", v1, []byte("two"))
	require.NoError(t, err)
	_, _, err = j.Put(ctx, "a", v2, []byte("three"))
	require.NoError(t, err)

	revs, err := j.History("a")
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, v2, revs[0].Version)
	assert.Equal(t, v1, revs[1].Version)
}

func TestJournal_LargeValuesWithSmallEdits(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	base := strings.Repeat("replica=3 region=eu-west-1 tier=gold\n", 200)
	ver := version.Nil
	var written []string
	for i := 0; i < 5; i++ {
		value := base + fmt.Sprintf("generation=%d\n", i)
		written = append(written, value)
		next, ok, err := j.Put(ctx, "big", ver, []byte(value))
		require.NoError(t, err)
		require.True(t, ok)
		ver = next
	}

	revs, err := j.History("big")
	require.NoError(t, err)
	require.Len(t, revs, 4)
	for i, r := range revs {
		assert.Equal(t, written[3-i], string(r.Value))
	}
}

func TestJournal_DeleteRecordsFinalValue(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	v1, _, err := j.Put(ctx, "a", version.Nil, []byte("one"))
	require.NoError(t, err)
	v2, _, err := j.Put(ctx, "a", v1, []byte("two"))
	require.NoError(t, err)
	ok, err := j.Delete(ctx, "a", v2)
	require.NoError(t, err)
	require.True(t, ok)

	revs, err := j.History("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "one"}, values(revs))
	assert.True(t, revs[0].Deleted)
	assert.False(t, revs[1].Deleted)

	// Recreating keeps the older history behind the gap.
	_, ok, err = j.Put(ctx, "a", version.Nil, []byte("three"))
	require.NoError(t, err)
	require.True(t, ok)

	revs, err = j.History("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "one"}, values(revs))
}

func TestJournal_FailedWritesAreNotRecorded(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	v1, _, err := j.Put(ctx, "a", version.Nil, []byte("one"))
	require.NoError(t, err)

	_, ok, err := j.Put(ctx, "a", version.New(), []byte("stale"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = j.Delete(ctx, "a", version.New())
	require.NoError(t, err)
	assert.False(t, ok)

	revs, err := j.History("a")
	require.NoError(t, err)
	assert.Empty(t, revs)

	e, err := j.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, v1, e.Version)
}

func TestJournal_ForeignWriteRestartsHistory(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewInMemoryStore()
	j, err := New(inner)
	require.NoError(t, err)

	v1, _, err := j.Put(ctx, "a", version.Nil, []byte("one"))
	require.NoError(t, err)
	v2, _, err := j.Put(ctx, "a", v1, []byte("two"))
	require.NoError(t, err)

	// Written around the journal.
	v3, ok, err := inner.Put(ctx, "a", v2, []byte("three"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = j.Put(ctx, "a", v3, []byte("four"))
	require.NoError(t, err)
	require.True(t, ok)

	revs, err := j.History("a")
	require.NoError(t, err)
	assert.Empty(t, revs)
}

func TestJournal_DepthBound(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, WithDepth(2))

	ver := version.Nil
	for i := 1; i <= 5; i++ {
		next, _, err := j.Put(ctx, "a", ver, []byte(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
		ver = next
	}

	revs, err := j.History("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"v4", "v3"}, values(revs))
}

func TestJournal_NamesBound(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, WithNames(2))

	for _, name := range []string{"a", "b", "c"} {
		v1, _, err := j.Put(ctx, name, version.Nil, []byte("one"))
		require.NoError(t, err)
		_, _, err = j.Put(ctx, name, v1, []byte("two"))
		require.NoError(t, err)
	}

	revs, err := j.History("a")
	require.NoError(t, err)
	assert.Empty(t, revs, "oldest name should be evicted")

	revs, err = j.History("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, values(revs))
}

func TestJournal_EmptyValues(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	v1, _, err := j.Put(ctx, "a", version.Nil, nil)
	require.NoError(t, err)
	v2, _, err := j.Put(ctx, "a", v1, []byte("filled"))
	require.NoError(t, err)
	_, _, err = j.Put(ctx, "a", v2, nil)
	require.NoError(t, err)

	revs, err := j.History("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"filled", ""}, values(revs))
}

func TestJournal_Forget(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	v1, _, err := j.Put(ctx, "a", version.Nil, []byte("one"))
	require.NoError(t, err)
	_, _, err = j.Put(ctx, "a", v1, []byte("two"))
	require.NoError(t, err)

	j.Forget("a")
	revs, err := j.History("a")
	require.NoError(t, err)
	assert.Nil(t, revs)
}
