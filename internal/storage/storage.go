package storage

import (
	"context"
	"errors"

	"statestore/internal/version"
)

// ErrInvalidName is returned for names a backend cannot address.
var ErrInvalidName = errors.New("name cannot be empty")

// Storage is a versioned key-value backend.
//
// Put and Delete are compare-and-swap operations. When an entry exists, they
// only succeed if its version equals expected. When no entry exists, Put
// creates one regardless of expected while Delete reports a conflict.
// Conflicts are reported through the boolean result, never as an error; an
// error always means the backend itself failed.
type Storage interface {
	// Get returns the current entry for name, or nil if there is none.
	Get(ctx context.Context, name string) (*Entry, error)
	// Put replaces the value for name if the CAS rule holds and returns the
	// freshly minted version. ok is false on a version conflict.
	Put(ctx context.Context, name string, expected version.Token, value []byte) (next version.Token, ok bool, err error)
	// Delete removes name if its current version equals expected. ok is false
	// on a version conflict or when name holds no value.
	Delete(ctx context.Context, name string, expected version.Token) (ok bool, err error)
	// Names lists every name currently holding a value.
	Names(ctx context.Context) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// ValidateName checks that name can be stored.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	return nil
}
