package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"statestore/internal/server"
	"statestore/internal/storage"
	"statestore/internal/storage/journal"
	"statestore/internal/storage/storagetest"
	"statestore/internal/version"
)

func serveBuf(t *testing.T, store storage.Storage) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	n := server.NewNode(server.NodeConfig{ID: "test"}, store, nil)
	go func() { _ = n.Serve(lis) }()
	t.Cleanup(n.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn)
}

func TestClient_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return serveBuf(t, storage.NewInMemoryStore())
	})
}

func TestClient_ConflictsAreNotErrors(t *testing.T) {
	ctx := context.Background()
	c := serveBuf(t, storage.NewInMemoryStore())

	v1, ok, err := c.Put(ctx, "job-17", version.Nil, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Put(ctx, "job-17", version.New(), []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Delete(ctx, "never-written", v1)
	require.NoError(t, err)
	assert.False(t, ok)
}

type blockingStore struct {
	storage.Storage
}

func (blockingStore) Get(ctx context.Context, _ string) (*storage.Entry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingStore struct {
	storage.Storage
}

func (failingStore) Names(context.Context) ([]string, error) {
	return nil, errors.New("backend unavailable")
}

func TestClient_CancellationSurfacesContextError(t *testing.T) {
	c := serveBuf(t, blockingStore{Storage: storage.NewInMemoryStore()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Get(ctx, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_BackendFailure(t *testing.T) {
	c := serveBuf(t, failingStore{Storage: storage.NewInMemoryStore()})

	_, err := c.Names(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestClient_RejectsEmptyNameLocally(t *testing.T) {
	c := NewClient(nil)
	_, err := c.Get(context.Background(), "")
	assert.ErrorIs(t, err, storage.ErrInvalidName)
	_, _, err = c.Put(context.Background(), "", version.Nil, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidName)
	_, err = c.Delete(context.Background(), "", version.Nil)
	assert.ErrorIs(t, err, storage.ErrInvalidName)
}

func TestClientManager_SharesConnections(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	n := server.NewNode(server.NodeConfig{ID: "tcp"}, storage.NewInMemoryStore(), nil)
	go func() { _ = n.Serve(lis) }()
	t.Cleanup(n.Stop)

	cm := NewClientManager(nil)
	addr := lis.Addr().String()

	a, err := cm.Client(addr)
	require.NoError(t, err)
	b, err := cm.Client(addr)
	require.NoError(t, err)
	assert.Len(t, cm.conns, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, ok, err := a.Put(ctx, "shared", version.Nil, []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)

	// Closing a managed client leaves the connection usable.
	require.NoError(t, a.Close())
	e, err := b.Get(ctx, "shared")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "x", string(e.Value))

	require.NoError(t, cm.Close())
	assert.Empty(t, cm.conns)
}

func TestDial(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	n := server.NewNode(server.NodeConfig{ID: "tcp"}, storage.NewInMemoryStore(), nil)
	go func() { _ = n.Serve(lis) }()
	t.Cleanup(n.Stop)

	c, err := Dial(lis.Addr().String(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	names, err := c.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	require.NoError(t, c.Close())
}

func TestClient_History(t *testing.T) {
	ctx := context.Background()

	j, err := journal.New(storage.NewInMemoryStore())
	require.NoError(t, err)
	c := serveBuf(t, j)

	v1, _, err := c.Put(ctx, "job-17", version.Nil, []byte("v1"))
	require.NoError(t, err)
	v2, _, err := c.Put(ctx, "job-17", v1, []byte("v2"))
	require.NoError(t, err)
	ok, err := c.Delete(ctx, "job-17", v2)
	require.NoError(t, err)
	require.True(t, ok)

	revs, err := c.History(ctx, "job-17")
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, "v2", string(revs[0].Value))
	assert.True(t, revs[0].Deleted)
	assert.Equal(t, v2, revs[0].Version)
	assert.Equal(t, "v1", string(revs[1].Value))

	plain := serveBuf(t, storage.NewInMemoryStore())
	_, err = plain.History(ctx, "job-17")
	assert.ErrorIs(t, err, ErrRemote)
}
