package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"statestore/internal/version"
)

// record is a stored entry with its optional expiry.
type record struct {
	entry     Entry
	expiresAt *time.Time // nil if no expiration
}

// isExpired checks if the record has expired.
func (r *record) isExpired() bool {
	if r.expiresAt == nil {
		return false
	}
	return time.Now().After(*r.expiresAt)
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithTTL makes every write expire ttl after it happened. Expired entries
// read as absent.
func WithTTL(ttl time.Duration) InMemoryOption {
	return func(s *InMemoryStore) {
		s.ttl = ttl
	}
}

// InMemoryStore is an in-memory implementation of Storage.
// It's thread-safe and supports TTL expiration.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*record
	ttl  time.Duration
}

var _ Storage = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		data: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves the entry for name.
func (s *InMemoryStore) Get(ctx context.Context, name string) (*Entry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[name]
	if !exists {
		return nil, nil
	}

	if rec.isExpired() {
		// Clean up expired entry (best effort, don't block readers)
		go s.deleteExpired(name)
		return nil, nil
	}

	// Return a copy to avoid external modifications
	return rec.entry.Clone(), nil
}

// Put stores value under name if the CAS rule holds.
func (s *InMemoryStore) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	if err := ValidateName(name); err != nil {
		return version.Nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return version.Nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, exists := s.data[name]; exists && !rec.isExpired() && rec.entry.Version != expected {
		return version.Nil, false, nil
	}

	next := version.New()
	s.data[name] = &record{
		entry: Entry{
			Name:    name,
			Value:   append([]byte(nil), value...),
			Version: next,
		},
		expiresAt: s.expiry(),
	}

	return next, true, nil
}

// Delete removes name if its version matches expected.
func (s *InMemoryStore) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[name]
	if !exists || rec.isExpired() || rec.entry.Version != expected {
		return false, nil
	}
	delete(s.data, name)
	return true, nil
}

// Names lists every live name in sorted order.
func (s *InMemoryStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.data))
	for name, rec := range s.data {
		if !rec.isExpired() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// expiry computes the expiration time for a write made now.
func (s *InMemoryStore) expiry() *time.Time {
	if s.ttl <= 0 {
		return nil
	}
	t := time.Now().Add(s.ttl)
	return &t
}

// deleteExpired removes an expired key (called asynchronously).
func (s *InMemoryStore) deleteExpired(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, exists := s.data[name]; exists && rec.isExpired() {
		delete(s.data, name)
	}
}
