// Package boltdb implements storage on a single bbolt database file.
package boltdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	bolt "go.etcd.io/bbolt"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// DefaultBucket holds all entries unless configured otherwise.
const DefaultBucket = "entries"

// Config configures a bbolt store.
type Config struct {
	Path    string
	Bucket  string
	Timeout time.Duration // file lock acquisition timeout
}

// Store is a Storage backed by a bbolt file. Every compare-and-swap runs in
// one read-write transaction, which bbolt serializes.
type Store struct {
	db     *bolt.DB
	bucket []byte
	logger hclog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config, logger hclog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("boltdb: path is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("boltdb: open %s: %w", cfg.Path, err)
	}

	bucket := []byte(cfg.Bucket)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltdb: create bucket %q: %w", cfg.Bucket, err)
	}

	logger.Debug("opened database", "path", cfg.Path, "bucket", cfg.Bucket)
	return &Store{db: db, bucket: bucket, logger: logger}, nil
}

func (s *Store) Get(ctx context.Context, name string) (*storage.Entry, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *storage.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		e, err := s.read(tx, name)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return version.Nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return version.Nil, false, err
	}

	next := version.New()
	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := s.read(tx, name)
		if err != nil {
			return err
		}
		if current != nil && current.Version != expected {
			return nil
		}

		data, err := (&storage.Entry{Name: name, Value: value, Version: next}).MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(s.bucket).Put([]byte(name), data); err != nil {
			return fmt.Errorf("boltdb: put %q: %w", name, err)
		}
		ok = true
		return nil
	})
	if err != nil || !ok {
		return version.Nil, false, err
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

	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := s.read(tx, name)
		if err != nil {
			return err
		}
		if current == nil || current.Version != expected {
			return nil
		}
		if err := tx.Bucket(s.bucket).Delete([]byte(name)); err != nil {
			return fmt.Errorf("boltdb: delete %q: %w", name, err)
		}
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// read decodes the entry for name inside tx. Values returned by bbolt are
// only valid for the life of the transaction, so decoding copies them.
func (s *Store) read(tx *bolt.Tx, name string) (*storage.Entry, error) {
	data := tx.Bucket(s.bucket).Get([]byte(name))
	if data == nil {
		return nil, nil
	}
	e, err := storage.DecodeEntry(data)
	if err != nil {
		return nil, fmt.Errorf("boltdb: corrupt entry %q: %w", name, err)
	}
	return e, nil
}
