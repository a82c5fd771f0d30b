// Package redis implements storage on Redis. Each name maps to one string
// key holding an encoded entry; compare-and-swap uses optimistic WATCH/MULTI
// transactions.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	goredis "github.com/redis/go-redis/v9"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// DefaultPrefix namespaces keys written by the store.
const DefaultPrefix = "statestore:"

// Config configures a Redis store.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Store is a Storage backed by Redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
	logger hclog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open dials Redis and verifies connectivity.
func Open(ctx context.Context, cfg Config, logger hclog.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.Prefix, logger), nil
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(client goredis.UniversalClient, prefix string, logger hclog.Logger) *Store {
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
	return s.read(ctx, s.client, name)
}

func (s *Store) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return version.Nil, false, err
	}

	next := version.New()
	data, err := (&storage.Entry{Name: name, Value: value, Version: next}).MarshalBinary()
	if err != nil {
		return version.Nil, false, err
	}

	key := s.key(name)
	conflict := false
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := s.read(ctx, tx, name)
		if err != nil {
			return err
		}
		if current != nil && current.Version != expected {
			conflict = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, goredis.TxFailedErr):
		s.logger.Trace("watched key changed during put", "name", name)
		return version.Nil, false, nil
	case err != nil:
		return version.Nil, false, fmt.Errorf("redis: put %q: %w", name, err)
	case conflict:
		return version.Nil, false, nil
	}
	return next, true, nil
}

func (s *Store) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}

	key := s.key(name)
	conflict := false
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := s.read(ctx, tx, name)
		if err != nil {
			return err
		}
		if current == nil || current.Version != expected {
			conflict = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, goredis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis: delete %q: %w", name, err)
	}
	return !conflict, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, escapeGlob(s.prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: list names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// getter is satisfied by both the client and a watching transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// read loads and decodes the entry for name.
func (s *Store) read(ctx context.Context, cmd getter, name string) (*storage.Entry, error) {
	data, err := cmd.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %q: %w", name, err)
	}
	e, err := storage.DecodeEntry(data)
	if err != nil {
		return nil, fmt.Errorf("redis: corrupt entry %q: %w", name, err)
	}
	return e, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
