package version

import (
	"fmt"

	"github.com/google/uuid"
)

// Token identifies a single successful write. Two tokens are equal iff they
// were produced by the same write.
type Token [16]byte

// Nil is the zero token. Backends never mint it.
var Nil Token

// New mints a fresh random token.
func New() Token {
	return Token(uuid.New())
}

// FromBytes converts a 16-byte slice into a Token.
func FromBytes(b []byte) (Token, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Nil, fmt.Errorf("invalid version token: %w", err)
	}
	return Token(u), nil
}

// Parse parses the canonical string form of a token.
func Parse(s string) (Token, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("invalid version token %q: %w", s, err)
	}
	return Token(u), nil
}

// Equal reports whether t and other were produced by the same write.
func (t Token) Equal(other Token) bool {
	return t == other
}

// IsNil reports whether t is the zero token.
func (t Token) IsNil() bool {
	return t == Nil
}

// Bytes returns a copy of the raw token bytes.
func (t Token) Bytes() []byte {
	b := make([]byte, len(t))
	copy(b, t[:])
	return b
}

func (t Token) String() string {
	return uuid.UUID(t).String()
}

// MarshalText implements encoding.TextMarshaler.
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Token) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
