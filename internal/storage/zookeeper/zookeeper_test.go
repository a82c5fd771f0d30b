package zookeeper

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statestore/internal/storage"
	"statestore/internal/storage/storagetest"
	"statestore/internal/version"
)

// fakeConn is an in-memory znode tree with ZooKeeper's version semantics.
type fakeConn struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode
	err   error
}

type fakeNode struct {
	data    []byte
	version int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{nodes: map[string]*fakeNode{"/": {}}}
}

func (c *fakeConn) Get(p string) ([]byte, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, nil, c.err
	}
	n, ok := c.nodes[p]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return append([]byte(nil), n.data...), &zk.Stat{Version: n.version}, nil
}

func (c *fakeConn) Set(p string, data []byte, version int32) (*zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[p]
	if !ok {
		return nil, zk.ErrNoNode
	}
	if version != -1 && version != n.version {
		return nil, zk.ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.version++
	return &zk.Stat{Version: n.version}, nil
}

func (c *fakeConn) Create(p string, data []byte, _ int32, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[p]; ok {
		return "", zk.ErrNodeExists
	}
	if _, ok := c.nodes[path.Dir(p)]; !ok {
		return "", zk.ErrNoNode
	}
	c.nodes[p] = &fakeNode{data: append([]byte(nil), data...)}
	return p, nil
}

func (c *fakeConn) Delete(p string, version int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[p]
	if !ok {
		return zk.ErrNoNode
	}
	if version != -1 && version != n.version {
		return zk.ErrBadVersion
	}
	delete(c.nodes, p)
	return nil
}

func (c *fakeConn) Children(p string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, nil, c.err
	}
	var children []string
	for k := range c.nodes {
		if k != p && path.Dir(k) == p {
			children = append(children, path.Base(k))
		}
	}
	return children, &zk.Stat{}, nil
}

func (c *fakeConn) Close() {}

func TestStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := New(newFakeConn(), "/apps/statestore", nil)
		require.NoError(t, err)
		return s
	})
}

func TestStore_ContractAgainstEnsemble(t *testing.T) {
	servers := os.Getenv("STATESTORE_TEST_ZOOKEEPER")
	if servers == "" {
		t.Skip("STATESTORE_TEST_ZOOKEEPER not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := Open(Config{
			Servers: strings.Split(servers, ","),
			Root:    "/statestore-test-" + uuid.NewString(),
		}, nil)
		require.NoError(t, err)
		return s
	})
}

func TestStore_NamesWithSlashes(t *testing.T) {
	ctx := context.Background()
	s, err := New(newFakeConn(), "", nil)
	require.NoError(t, err)

	for _, name := range []string{"jobs/17", ".", "..", "with space"} {
		_, ok, err := s.Put(ctx, name, version.New(), []byte(name))
		require.NoError(t, err)
		require.True(t, ok, name)
	}

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "jobs/17", "with space"}, names)

	e, err := s.Get(ctx, "jobs/17")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "jobs/17", string(e.Value))
}

func TestStore_BackendErrorSurfaces(t *testing.T) {
	conn := newFakeConn()
	s, err := New(conn, "", nil)
	require.NoError(t, err)

	conn.err = errors.New("zk: session expired")
	_, err = s.Get(context.Background(), "job")
	assert.ErrorContains(t, err, "session expired")
	_, err = s.Names(context.Background())
	assert.Error(t, err)
}

func TestNew_InvalidRoot(t *testing.T) {
	_, err := New(newFakeConn(), "relative/root", nil)
	assert.Error(t, err)
	_, err = New(newFakeConn(), "/trailing/", nil)
	assert.Error(t, err)
}
