// Package remote implements storage.Storage against a statestore node over
// gRPC.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"statestore/internal/server"
	"statestore/internal/storage"
	"statestore/internal/storage/journal"
	"statestore/internal/version"
)

// ErrRemote wraps failures reported by the remote node in a response.
var ErrRemote = errors.New("remote error")

// ClientManager keeps one connection per node address.
type ClientManager struct {
	mu       sync.RWMutex
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
	logger   hclog.Logger
}

// NewClientManager creates a new client manager. Extra dial options are
// appended to the insecure transport default.
func NewClientManager(logger hclog.Logger, opts ...grpc.DialOption) *ClientManager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ClientManager{
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
		logger:   logger.Named("remote"),
	}
}

// Client returns a Storage client for the node at addr, creating the
// connection if one doesn't exist. Connections are established lazily.
func (cm *ClientManager) Client(addr string) (*Client, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if !exists {
		cm.mu.Lock()
		// Double-check after acquiring write lock
		if conn, exists = cm.conns[addr]; !exists {
			var err error
			conn, err = grpc.NewClient(addr, cm.dialOpts...)
			if err != nil {
				cm.mu.Unlock()
				return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
			}
			cm.conns[addr] = conn
			cm.logger.Debug("connection created", "addr", addr)
		}
		cm.mu.Unlock()
	}

	// The manager owns the connection.
	return &Client{
		addr:   addr,
		rpc:    server.NewStorageClient(conn),
		closer: func() error { return nil },
	}, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	conns := cm.conns
	cm.conns = make(map[string]*grpc.ClientConn)
	cm.mu.Unlock()

	var result *multierror.Error
	for addr, conn := range conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", addr, err))
		}
	}
	return result.ErrorOrNil()
}

// Client is a Storage served by a remote node. Clients handed out by a
// ClientManager share its connections and their Close is a no-op.
type Client struct {
	addr   string
	rpc    server.StorageClient
	closer func() error
}

var _ storage.Storage = (*Client)(nil)

// Dial connects a standalone client to addr. Closing the client closes the
// connection.
func Dial(addr string, logger hclog.Logger, opts ...grpc.DialOption) (*Client, error) {
	cm := NewClientManager(logger, opts...)
	c, err := cm.Client(addr)
	if err != nil {
		return nil, err
	}
	c.closer = cm.Close
	return c, nil
}

// NewClient wraps an existing connection. Closing the client does not close
// cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{rpc: server.NewStorageClient(cc), closer: func() error { return nil }}
}

func (c *Client) Get(ctx context.Context, name string) (*storage.Entry, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	resp, err := c.rpc.Get(ctx, &server.GetRequest{Name: name})
	if err != nil {
		return nil, c.transportError(ctx, "get", err)
	}
	switch resp.Status {
	case server.StatusSuccess:
		if resp.Entry == nil {
			return nil, fmt.Errorf("%w: get %q: missing entry", ErrRemote, name)
		}
		return resp.Entry, nil
	case server.StatusNotFound:
		return nil, nil
	default:
		return nil, c.statusError("get", resp.Status, resp.ErrorMessage)
	}
}

func (c *Client) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return version.Nil, false, err
	}
	if value == nil {
		value = []byte{}
	}
	resp, err := c.rpc.Put(ctx, &server.PutRequest{Name: name, Expected: expected.Bytes(), Value: value})
	if err != nil {
		return version.Nil, false, c.transportError(ctx, "put", err)
	}
	switch resp.Status {
	case server.StatusSuccess:
		next, err := version.FromBytes(resp.Version)
		if err != nil {
			return version.Nil, false, fmt.Errorf("%w: put %q: %v", ErrRemote, name, err)
		}
		return next, true, nil
	case server.StatusConflict:
		return version.Nil, false, nil
	default:
		return version.Nil, false, c.statusError("put", resp.Status, resp.ErrorMessage)
	}
}

func (c *Client) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}
	resp, err := c.rpc.Delete(ctx, &server.DeleteRequest{Name: name, Expected: expected.Bytes()})
	if err != nil {
		return false, c.transportError(ctx, "delete", err)
	}
	switch resp.Status {
	case server.StatusSuccess:
		return true, nil
	case server.StatusConflict, server.StatusNotFound:
		return false, nil
	default:
		return false, c.statusError("delete", resp.Status, resp.ErrorMessage)
	}
}

func (c *Client) Names(ctx context.Context) ([]string, error) {
	resp, err := c.rpc.Names(ctx, &server.NamesRequest{})
	if err != nil {
		return nil, c.transportError(ctx, "names", err)
	}
	if resp.Status != server.StatusSuccess {
		return nil, c.statusError("names", resp.Status, resp.ErrorMessage)
	}
	return resp.Names, nil
}

// History returns the previous values the node recorded for name, newest
// first. It fails unless the node runs with a journal.
func (c *Client) History(ctx context.Context, name string) ([]journal.Revision, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	resp, err := c.rpc.History(ctx, &server.HistoryRequest{Name: name})
	if err != nil {
		return nil, c.transportError(ctx, "history", err)
	}
	if resp.Status != server.StatusSuccess {
		return nil, c.statusError("history", resp.Status, resp.ErrorMessage)
	}
	return resp.Revisions, nil
}

// Close releases the connection to the node if the client owns it.
func (c *Client) Close() error {
	return c.closer()
}

// transportError reports caller cancellation as the context error so that
// callers can tell it apart from a failing node.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("remote %s: %w", op, ctxErr)
	}
	if c.addr == "" {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	return fmt.Errorf("remote %s on %s: %w", op, c.addr, err)
}

func (c *Client) statusError(op string, status server.Status, msg string) error {
	return fmt.Errorf("%w: %s: %s: %s", ErrRemote, op, status, msg)
}
