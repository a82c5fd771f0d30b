// Package etcd implements storage on etcd v3. Compare-and-swap decisions are
// made on the stored version token and enforced atomically with a
// transaction guarded by the key's revision.
package etcd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// DefaultPrefix namespaces keys written by the store.
const DefaultPrefix = "/statestore/"

// Config configures an etcd store.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
	Prefix      string
}

// Store is a Storage backed by etcd.
type Store struct {
	client *clientv3.Client
	prefix string
	logger hclog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open connects to the etcd cluster.
func Open(cfg Config, logger hclog.Logger) (*Store, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd: at least one endpoint is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd: connect %v: %w", cfg.Endpoints, err)
	}
	return New(client, cfg.Prefix, logger), nil
}

// New wraps an existing client. Close closes the client.
func New(client *clientv3.Client, prefix string, logger hclog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

func (s *Store) Get(ctx context.Context, name string) (*storage.Entry, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	e, _, err := s.read(ctx, name)
	return e, err
}

func (s *Store) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return version.Nil, false, err
	}

	current, rev, err := s.read(ctx, name)
	if err != nil {
		return version.Nil, false, err
	}
	if current != nil && current.Version != expected {
		return version.Nil, false, nil
	}

	next := version.New()
	data, err := (&storage.Entry{Name: name, Value: value, Version: next}).MarshalBinary()
	if err != nil {
		return version.Nil, false, err
	}

	key := s.key(name)
	var guard clientv3.Cmp
	if current == nil {
		guard = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	} else {
		guard = clientv3.Compare(clientv3.ModRevision(key), "=", rev)
	}

	resp, err := s.client.Txn(ctx).If(guard).Then(clientv3.OpPut(key, string(data))).Commit()
	if err != nil {
		return version.Nil, false, fmt.Errorf("etcd: put %q: %w", name, err)
	}
	if !resp.Succeeded {
		return version.Nil, false, nil
	}
	return next, true, nil
}

func (s *Store) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}

	current, rev, err := s.read(ctx, name)
	if err != nil {
		return false, err
	}
	if current == nil || current.Version != expected {
		return false, nil
	}

	key := s.key(name)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return false, fmt.Errorf("etcd: delete %q: %w", name, err)
	}
	return resp.Succeeded, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("etcd: list names: %w", err)
	}
	names := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		names = append(names, strings.TrimPrefix(string(kv.Key), s.prefix))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// read returns the decoded entry for name and the key's mod revision.
func (s *Store) read(ctx context.Context, name string) (*storage.Entry, int64, error) {
	resp, err := s.client.Get(ctx, s.key(name))
	if err != nil {
		return nil, 0, fmt.Errorf("etcd: get %q: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, nil
	}
	kv := resp.Kvs[0]
	e, err := storage.DecodeEntry(kv.Value)
	if err != nil {
		return nil, 0, fmt.Errorf("etcd: corrupt entry %q: %w", name, err)
	}
	return e, kv.ModRevision, nil
}
