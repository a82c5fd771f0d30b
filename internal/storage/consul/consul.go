// Package consul implements storage on the Consul KV store using its
// check-and-set index.
package consul

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/hashicorp/go-hclog"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// DefaultPrefix namespaces keys written by the store.
const DefaultPrefix = "statestore/"

// Config configures a Consul store.
type Config struct {
	Address    string
	Scheme     string
	Token      string
	Datacenter string
	Prefix     string
}

// Store is a Storage backed by Consul KV.
type Store struct {
	kv     *api.KV
	prefix string
	logger hclog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open creates a Consul client for cfg.
func Open(cfg Config, logger hclog.Logger) (*Store, error) {
	conf := api.DefaultConfig()
	if cfg.Address != "" {
		conf.Address = cfg.Address
	}
	if cfg.Scheme != "" {
		conf.Scheme = cfg.Scheme
	}
	if cfg.Token != "" {
		conf.Token = cfg.Token
	}
	if cfg.Datacenter != "" {
		conf.Datacenter = cfg.Datacenter
	}

	client, err := api.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("consul: client for %s: %w", conf.Address, err)
	}
	return New(client, cfg.Prefix, logger), nil
}

// New wraps an existing client.
func New(client *api.Client, prefix string, logger hclog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{kv: client.KV(), prefix: prefix, logger: logger}
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

	current, index, err := s.read(ctx, name)
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

	// A zero ModifyIndex makes CAS succeed only if the key does not exist.
	pair := &api.KVPair{Key: s.key(name), Value: data, ModifyIndex: index}
	ok, _, err := s.kv.CAS(pair, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return version.Nil, false, fmt.Errorf("consul: put %q: %w", name, err)
	}
	if !ok {
		return version.Nil, false, nil
	}
	return next, true, nil
}

func (s *Store) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}

	current, index, err := s.read(ctx, name)
	if err != nil {
		return false, err
	}
	if current == nil || current.Version != expected {
		return false, nil
	}

	ok, _, err := s.kv.DeleteCAS(&api.KVPair{Key: s.key(name), ModifyIndex: index}, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("consul: delete %q: %w", name, err)
	}
	return ok, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	keys, _, err := s.kv.Keys(s.prefix, "", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul: list names: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, s.prefix) {
			names = append(names, strings.TrimPrefix(key, s.prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; the Consul client holds no persistent connection.
func (s *Store) Close() error {
	return nil
}

// read returns the decoded entry for name and its modify index.
func (s *Store) read(ctx context.Context, name string) (*storage.Entry, uint64, error) {
	pair, _, err := s.kv.Get(s.key(name), (&api.QueryOptions{RequireConsistent: true}).WithContext(ctx))
	if err != nil {
		return nil, 0, fmt.Errorf("consul: get %q: %w", name, err)
	}
	if pair == nil {
		return nil, 0, nil
	}
	e, err := storage.DecodeEntry(pair.Value)
	if err != nil {
		return nil, 0, fmt.Errorf("consul: corrupt entry %q: %w", name, err)
	}
	return e, pair.ModifyIndex, nil
}
