// Package journal decorates a Storage with a bounded, in-process history of
// the values it has replaced. Superseded values are kept as deltas against
// their successor so that long-lived variables with small edits stay cheap.
//
// The history only covers writes made through the decorator. When a write
// arrives whose expected version does not match the last version the journal
// saw, the history for that name restarts.
package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"statestore/internal/delta"
	"statestore/internal/storage"
	"statestore/internal/version"
)

const (
	DefaultNames = 1024
	DefaultDepth = 16
)

// Revision is a value a name held before it was replaced or deleted.
type Revision struct {
	Version version.Token
	Value   []byte
	// Deleted marks the value that was removed by Delete.
	Deleted bool
}

// record is a superseded state stored as a delta against the next newer
// state. Absent states carry no delta and are skipped by History.
type record struct {
	version version.Token
	absent  bool
	deleted bool
	diff    []byte
}

// chain is the journal of one name. head is the newest known state.
type chain struct {
	head       []byte
	headVer    version.Token
	headAbsent bool
	records    []record // newest first
}

// Option configures a Journal.
type Option func(*Journal)

// WithCodec replaces the delta codec.
func WithCodec(c delta.Codec) Option {
	return func(j *Journal) { j.codec = c }
}

// WithDepth bounds the number of revisions kept per name.
func WithDepth(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.depth = n
		}
	}
}

// WithNames bounds the number of names with a history; the least recently
// written name is evicted first.
func WithNames(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.names = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// Journal is a storage.Storage decorator.
type Journal struct {
	storage.Storage

	codec  delta.Codec
	depth  int
	names  int
	logger hclog.Logger

	mu     sync.Mutex
	chains *lru.Cache[string, *chain]
}

var _ storage.Storage = (*Journal)(nil)

// New wraps inner.
func New(inner storage.Storage, opts ...Option) (*Journal, error) {
	j := &Journal{
		Storage: inner,
		codec:   delta.NewZstdCodec(),
		depth:   DefaultDepth,
		names:   DefaultNames,
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(j)
	}
	chains, err := lru.New[string, *chain](j.names)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	j.chains = chains
	return j, nil
}

// Put writes through to the wrapped storage and records the replaced value
// on success.
func (j *Journal) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	next, ok, err := j.Storage.Put(ctx, name, expected, value)
	if err != nil || !ok {
		return next, ok, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	c, found := j.chains.Get(name)
	switch {
	case !found:
		c = &chain{}
	case c.headAbsent || c.headVer.Equal(expected):
		if err := j.push(c, value, false); err != nil {
			j.logger.Warn("dropping history", "name", name, "error", err)
			c = &chain{}
		}
	default:
		j.logger.Debug("history restarted after foreign write", "name", name)
		c = &chain{}
	}
	c.head = append([]byte(nil), value...)
	c.headVer = next
	c.headAbsent = false
	j.chains.Add(name, c)
	return next, true, nil
}

// Delete removes through to the wrapped storage and records the final value
// on success.
func (j *Journal) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	ok, err := j.Storage.Delete(ctx, name, expected)
	if err != nil || !ok {
		return ok, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	c, found := j.chains.Get(name)
	if !found || c.headAbsent || !c.headVer.Equal(expected) {
		// The removed value was never seen, only the deletion is known.
		c = &chain{}
	} else if err := j.push(c, nil, true); err != nil {
		j.logger.Warn("dropping history", "name", name, "error", err)
		c = &chain{}
	}
	c.head = nil
	c.headVer = version.Nil
	c.headAbsent = true
	j.chains.Add(name, c)
	return true, nil
}

// push records the current head as superseded by next.
func (j *Journal) push(c *chain, next []byte, deleted bool) error {
	r := record{version: c.headVer, absent: c.headAbsent, deleted: deleted}
	if !c.headAbsent {
		diff, err := j.codec.Diff(next, c.head)
		if err != nil {
			return err
		}
		r.diff = diff
	}
	c.records = append([]record{r}, c.records...)
	if len(c.records) > j.depth {
		c.records = c.records[:j.depth]
	}
	return nil
}

// History returns the values name held before its current one, newest first.
// A name the journal has not seen has no history.
func (j *Journal) History(name string) ([]Revision, error) {
	j.mu.Lock()
	c, found := j.chains.Peek(name)
	if !found {
		j.mu.Unlock()
		return nil, nil
	}
	base := append([]byte(nil), c.head...)
	records := append([]record(nil), c.records...)
	j.mu.Unlock()

	revisions := make([]Revision, 0, len(records))
	for _, r := range records {
		if r.absent {
			base = nil
			continue
		}
		value, err := j.codec.Patch(base, r.diff)
		if err != nil {
			return nil, fmt.Errorf("journal: history of %q: %w", name, err)
		}
		revisions = append(revisions, Revision{
			Version: r.version,
			Value:   value,
			Deleted: r.deleted,
		})
		base = value
	}
	return revisions, nil
}

// Forget drops the history of name.
func (j *Journal) Forget(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.chains.Remove(name)
}
