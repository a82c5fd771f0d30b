package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"statestore/internal/storage"
	"statestore/internal/storage/journal"
	"statestore/internal/version"
)

type brokenStore struct {
	storage.Storage
	err error
}

func (b *brokenStore) Get(context.Context, string) (*storage.Entry, error) { return nil, b.err }
func (b *brokenStore) Names(context.Context) ([]string, error)             { return nil, b.err }

func TestServer_Handlers(t *testing.T) {
	ctx := context.Background()
	s := NewServer(storage.NewInMemoryStore(), "n1", nil)

	get, err := s.Get(ctx, &GetRequest{Name: "job-17"})
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, get.Status)

	put, err := s.Put(ctx, &PutRequest{Name: "job-17", Expected: version.New().Bytes(), Value: []byte("v1")})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, put.Status)
	v1, err := version.FromBytes(put.Version)
	require.NoError(t, err)

	get, err = s.Get(ctx, &GetRequest{Name: "job-17"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, get.Status)
	assert.Equal(t, "v1", string(get.Entry.Value))
	assert.Equal(t, v1, get.Entry.Version)

	stale, err := s.Put(ctx, &PutRequest{Name: "job-17", Expected: version.New().Bytes(), Value: []byte("v2")})
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, stale.Status)

	del, err := s.Delete(ctx, &DeleteRequest{Name: "job-17", Expected: version.New().Bytes()})
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, del.Status)

	del, err = s.Delete(ctx, &DeleteRequest{Name: "job-17", Expected: v1.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, del.Status)

	names, err := s.Names(ctx, &NamesRequest{})
	require.NoError(t, err)
	assert.Empty(t, names.Names)
}

func TestServer_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	s := NewServer(storage.NewInMemoryStore(), "n1", nil)

	get, err := s.Get(ctx, &GetRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, get.Status)
	assert.NotEmpty(t, get.ErrorMessage)

	put, err := s.Put(ctx, &PutRequest{Name: "a", Expected: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, StatusError, put.Status)

	del, err := s.Delete(ctx, &DeleteRequest{Name: ""})
	require.NoError(t, err)
	assert.Equal(t, StatusError, del.Status)
}

func TestServer_BackendErrors(t *testing.T) {
	ctx := context.Background()
	s := NewServer(&brokenStore{err: errors.New("disk on fire")}, "n1", nil)

	_, err := s.Get(ctx, &GetRequest{Name: "a"})
	assert.Equal(t, codes.Internal, status.Code(err))

	_, err = s.Names(ctx, &NamesRequest{})
	assert.Equal(t, codes.Internal, status.Code(err))

	s = NewServer(&brokenStore{err: context.DeadlineExceeded}, "n1", nil)
	_, err = s.Get(ctx, &GetRequest{Name: "a"})
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestServer_History(t *testing.T) {
	ctx := context.Background()

	plain := NewServer(storage.NewInMemoryStore(), "n1", nil)
	resp, err := plain.History(ctx, &HistoryRequest{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)

	j, err := journal.New(storage.NewInMemoryStore())
	require.NoError(t, err)
	s := NewServer(j, "n1", nil)

	put, err := s.Put(ctx, &PutRequest{Name: "a", Expected: version.Nil.Bytes(), Value: []byte("one")})
	require.NoError(t, err)
	_, err = s.Put(ctx, &PutRequest{Name: "a", Expected: put.Version, Value: []byte("two")})
	require.NoError(t, err)

	resp, err = s.History(ctx, &HistoryRequest{Name: "a"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Revisions, 1)
	assert.Equal(t, "one", string(resp.Revisions[0].Value))

	resp, err = s.History(ctx, &HistoryRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
}

func startBufNode(t *testing.T, store storage.Storage) (*Node, StorageClient) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	n := NewNode(NodeConfig{ID: "n1"}, store, nil)
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

	return n, NewStorageClient(conn)
}

func TestNode_ServesStorage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, client := startBufNode(t, storage.NewInMemoryStore())

	put, err := client.Put(ctx, &PutRequest{Name: "job-17", Expected: version.Nil.Bytes(), Value: []byte("cfg")})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, put.Status)

	get, err := client.Get(ctx, &GetRequest{Name: "job-17"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, get.Status)
	assert.Equal(t, "cfg", string(get.Entry.Value))
	assert.Equal(t, put.Version, get.Entry.Version.Bytes())

	names, err := client.Names(ctx, &NamesRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"job-17"}, names.Names)

	assert.Equal(t, 1.0, testutil.ToFloat64(n.requests.WithLabelValues(FullMethodGet, codes.OK.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(n.requests.WithLabelValues(FullMethodPut, codes.OK.String())))
	assert.NotNil(t, n.Addr())
}

func TestNode_BackendErrorIsInternal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, client := startBufNode(t, &brokenStore{err: errors.New("disk on fire")})

	_, err := client.Get(ctx, &GetRequest{Name: "a"})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "disk on fire")
}
