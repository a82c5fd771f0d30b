// Package storage defines the versioned backend contract used by the state
// layer and provides the in-memory implementation. Every backend stores
// entries of (name, version, value) and performs compare-and-swap writes
// keyed on the version token of the current entry.
package storage
