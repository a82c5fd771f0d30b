package state

import (
	"fmt"

	"statestore/internal/version"
)

// Variable is an immutable snapshot of a named value and the version it was
// read or written at.
type Variable struct {
	name    string
	value   []byte
	version version.Token
	absent  bool
}

// NewVariable rebuilds a Variable from its parts, for instance after it was
// handed to another process.
func NewVariable(name string, value []byte, ver version.Token) Variable {
	return Variable{name: name, value: clone(value), version: ver}
}

func absentVariable(name string) Variable {
	return Variable{name: name, version: version.New(), absent: true}
}

func (v Variable) Name() string { return v.name }

// Value returns a copy of the value.
func (v Variable) Value() []byte { return clone(v.value) }

func (v Variable) Version() version.Token { return v.version }

// IsAbsent reports whether v was fetched for a name that held no value and
// has not been stored since.
func (v Variable) IsAbsent() bool { return v.absent }

// Mutate returns a copy of v holding value. The version is kept, so storing
// the result only succeeds if nobody wrote the name in between.
func (v Variable) Mutate(value []byte) Variable {
	return Variable{name: v.name, value: clone(value), version: v.version, absent: v.absent}
}

func (v Variable) String() string {
	return fmt.Sprintf("%s@%s (%d bytes)", v.name, v.version, len(v.value))
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
