// Package zookeeper implements storage on ZooKeeper. Each name is a child
// znode of a root path; compare-and-swap is enforced with the znode data
// version.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/hashicorp/go-hclog"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// DefaultRoot is the parent znode of all entries.
const DefaultRoot = "/statestore"

// childPrefix keeps encoded names clear of the reserved "." and ".." paths.
const childPrefix = "n-"

// Config configures a ZooKeeper store.
type Config struct {
	Servers        []string
	SessionTimeout time.Duration
	Root           string
}

// Conn is the subset of *zk.Conn used by the store.
type Conn interface {
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Children(path string) ([]string, *zk.Stat, error)
	Close()
}

var _ Conn = (*zk.Conn)(nil)

// Store is a Storage backed by ZooKeeper.
type Store struct {
	conn   Conn
	root   string
	acl    []zk.ACL
	logger hclog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open connects to the ensemble and ensures the root path exists.
func Open(cfg Config, logger hclog.Logger) (*Store, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("zookeeper: at least one server is required")
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	conn, _, err := zk.Connect(cfg.Servers, cfg.SessionTimeout,
		zk.WithLogger(logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %v: %w", cfg.Servers, err)
	}
	s, err := New(conn, cfg.Root, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection and creates the root path if missing.
func New(conn Conn, root string, logger hclog.Logger) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if !strings.HasPrefix(root, "/") || (len(root) > 1 && strings.HasSuffix(root, "/")) {
		return nil, fmt.Errorf("zookeeper: invalid root %q", root)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Store{conn: conn, root: root, acl: zk.WorldACL(zk.PermAll), logger: logger}
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureRoot() error {
	path := ""
	for _, part := range strings.Split(strings.TrimPrefix(s.root, "/"), "/") {
		path += "/" + part
		_, err := s.conn.Create(path, nil, 0, s.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("zookeeper: create %s: %w", path, err)
		}
	}
	return nil
}

func (s *Store) path(name string) string {
	return s.root + "/" + childPrefix + url.PathEscape(name)
}

func (s *Store) Get(ctx context.Context, name string) (*storage.Entry, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, _, err := s.read(name)
	return e, err
}

func (s *Store) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return version.Nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return version.Nil, false, err
	}

	current, stat, err := s.read(name)
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

	path := s.path(name)
	if current == nil {
		_, err = s.conn.Create(path, data, 0, s.acl)
	} else {
		_, err = s.conn.Set(path, data, stat.Version)
	}
	switch {
	case errors.Is(err, zk.ErrNodeExists), errors.Is(err, zk.ErrBadVersion), errors.Is(err, zk.ErrNoNode):
		return version.Nil, false, nil
	case err != nil:
		return version.Nil, false, fmt.Errorf("zookeeper: put %q: %w", name, err)
	}
	return next, true, nil
}

func (s *Store) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	current, stat, err := s.read(name)
	if err != nil {
		return false, err
	}
	if current == nil || current.Version != expected {
		return false, nil
	}

	err = s.conn.Delete(s.path(name), stat.Version)
	switch {
	case errors.Is(err, zk.ErrBadVersion), errors.Is(err, zk.ErrNoNode):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("zookeeper: delete %q: %w", name, err)
	}
	return true, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	children, _, err := s.conn.Children(s.root)
	if err != nil {
		return nil, fmt.Errorf("zookeeper: list names: %w", err)
	}

	names := make([]string, 0, len(children))
	for _, child := range children {
		if !strings.HasPrefix(child, childPrefix) {
			continue
		}
		name, err := url.PathUnescape(strings.TrimPrefix(child, childPrefix))
		if err != nil {
			s.logger.Warn("skipping undecodable child", "child", child, "error", err)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// read returns the decoded entry for name and its znode stat.
func (s *Store) read(name string) (*storage.Entry, *zk.Stat, error) {
	data, stat, err := s.conn.Get(s.path(name))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("zookeeper: get %q: %w", name, err)
	}
	e, err := storage.DecodeEntry(data)
	if err != nil {
		return nil, nil, fmt.Errorf("zookeeper: corrupt entry %q: %w", name, err)
	}
	return e, stat, nil
}
