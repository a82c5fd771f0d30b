package storage

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"statestore/internal/version"
)

// Entry wire field numbers.
const (
	fieldName    protowire.Number = 1
	fieldVersion protowire.Number = 2
	fieldValue   protowire.Number = 3
)

// Entry is a stored value together with the version of the write that
// produced it.
type Entry struct {
	Name    string
	Value   []byte
	Version version.Token
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		Name:    e.Name,
		Value:   append([]byte(nil), e.Value...),
		Version: e.Version,
	}
}

// MarshalBinary encodes the entry in protobuf wire format.
func (e *Entry) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, len(e.Name)+len(e.Value)+len(e.Version)+8)
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, e.Name)
	b = protowire.AppendTag(b, fieldVersion, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Version[:])
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Value)
	return b, nil
}

// UnmarshalBinary decodes an entry produced by MarshalBinary. Unknown fields
// are skipped.
func (e *Entry) UnmarshalBinary(data []byte) error {
	var out Entry
	var sawVersion bool
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("decode entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("decode entry field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return fmt.Errorf("decode entry field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldName:
			out.Name = string(v)
		case fieldVersion:
			tok, err := version.FromBytes(v)
			if err != nil {
				return err
			}
			out.Version = tok
			sawVersion = true
		case fieldValue:
			out.Value = append([]byte(nil), v...)
		}
	}
	if !sawVersion {
		return fmt.Errorf("decode entry: missing version")
	}
	*e = out
	return nil
}

// DecodeEntry is a convenience wrapper around UnmarshalBinary.
func DecodeEntry(data []byte) (*Entry, error) {
	e := &Entry{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return e, nil
}
