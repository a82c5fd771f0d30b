package server

import (
	"google.golang.org/protobuf/encoding/protowire"

	"statestore/internal/storage"
	"statestore/internal/storage/journal"
	"statestore/internal/version"
)

// Status is the outcome carried by every response.
type Status int32

const (
	StatusSuccess Status = iota
	StatusConflict
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusConflict:
		return "CONFLICT"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// GetRequest asks for the current entry of a name.
type GetRequest struct {
	Name string
}

func (m *GetRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, m.Name), nil
}

func (m *GetRequest) UnmarshalWire(b []byte) error {
	*m = GetRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		if num == 1 {
			return consumeString(typ, v, &m.Name)
		}
		return 0
	})
}

// GetResponse carries the entry when Status is StatusSuccess.
type GetResponse struct {
	Status       Status
	Entry        *storage.Entry
	ErrorMessage string
}

func (m *GetResponse) MarshalWire() ([]byte, error) {
	b := appendStatus(nil, 1, m.Status)
	if m.Entry != nil {
		entry, err := m.Entry.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, 2, entry)
	}
	return appendString(b, 3, m.ErrorMessage), nil
}

func (m *GetResponse) UnmarshalWire(b []byte) error {
	*m = GetResponse{}
	var entry []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeStatus(typ, v, &m.Status)
		case 2:
			return consumeBytes(typ, v, &entry)
		case 3:
			return consumeString(typ, v, &m.ErrorMessage)
		}
		return 0
	})
	if err != nil {
		return err
	}
	if entry != nil {
		m.Entry, err = storage.DecodeEntry(entry)
	}
	return err
}

// PutRequest is a compare-and-swap write.
type PutRequest struct {
	Name     string
	Expected []byte
	Value    []byte
}

func (m *PutRequest) MarshalWire() ([]byte, error) {
	b := appendString(nil, 1, m.Name)
	b = appendBytes(b, 2, m.Expected)
	return appendBytes(b, 3, m.Value), nil
}

func (m *PutRequest) UnmarshalWire(b []byte) error {
	*m = PutRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeString(typ, v, &m.Name)
		case 2:
			return consumeBytes(typ, v, &m.Expected)
		case 3:
			return consumeBytes(typ, v, &m.Value)
		}
		return 0
	})
}

// PutResponse carries the new version when Status is StatusSuccess.
type PutResponse struct {
	Status       Status
	Version      []byte
	ErrorMessage string
}

func (m *PutResponse) MarshalWire() ([]byte, error) {
	b := appendStatus(nil, 1, m.Status)
	b = appendBytes(b, 2, m.Version)
	return appendString(b, 3, m.ErrorMessage), nil
}

func (m *PutResponse) UnmarshalWire(b []byte) error {
	*m = PutResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeStatus(typ, v, &m.Status)
		case 2:
			return consumeBytes(typ, v, &m.Version)
		case 3:
			return consumeString(typ, v, &m.ErrorMessage)
		}
		return 0
	})
}

// DeleteRequest is a compare-and-swap removal.
type DeleteRequest struct {
	Name     string
	Expected []byte
}

func (m *DeleteRequest) MarshalWire() ([]byte, error) {
	b := appendString(nil, 1, m.Name)
	return appendBytes(b, 2, m.Expected), nil
}

func (m *DeleteRequest) UnmarshalWire(b []byte) error {
	*m = DeleteRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeString(typ, v, &m.Name)
		case 2:
			return consumeBytes(typ, v, &m.Expected)
		}
		return 0
	})
}

type DeleteResponse struct {
	Status       Status
	ErrorMessage string
}

func (m *DeleteResponse) MarshalWire() ([]byte, error) {
	b := appendStatus(nil, 1, m.Status)
	return appendString(b, 3, m.ErrorMessage), nil
}

func (m *DeleteResponse) UnmarshalWire(b []byte) error {
	*m = DeleteResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeStatus(typ, v, &m.Status)
		case 3:
			return consumeString(typ, v, &m.ErrorMessage)
		}
		return 0
	})
}

type NamesRequest struct{}

func (m *NamesRequest) MarshalWire() ([]byte, error) { return nil, nil }

func (m *NamesRequest) UnmarshalWire(b []byte) error {
	return walkFields(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

type NamesResponse struct {
	Status       Status
	Names        []string
	ErrorMessage string
}

func (m *NamesResponse) MarshalWire() ([]byte, error) {
	b := appendStatus(nil, 1, m.Status)
	for _, name := range m.Names {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	return appendString(b, 3, m.ErrorMessage), nil
}

func (m *NamesResponse) UnmarshalWire(b []byte) error {
	*m = NamesResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeStatus(typ, v, &m.Status)
		case 2:
			var name string
			n := consumeString(typ, v, &name)
			if n > 0 {
				m.Names = append(m.Names, name)
			}
			return n
		case 3:
			return consumeString(typ, v, &m.ErrorMessage)
		}
		return 0
	})
}

// HistoryRequest asks for the recorded previous values of a name.
type HistoryRequest struct {
	Name string
}

func (m *HistoryRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, m.Name), nil
}

func (m *HistoryRequest) UnmarshalWire(b []byte) error {
	*m = HistoryRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		if num == 1 {
			return consumeString(typ, v, &m.Name)
		}
		return 0
	})
}

// HistoryResponse lists revisions newest first.
type HistoryResponse struct {
	Status       Status
	Revisions    []journal.Revision
	ErrorMessage string
}

// Revision fields.
const (
	revVersion protowire.Number = 1
	revValue   protowire.Number = 2
	revDeleted protowire.Number = 3
)

func (m *HistoryResponse) MarshalWire() ([]byte, error) {
	b := appendStatus(nil, 1, m.Status)
	for _, r := range m.Revisions {
		rev := appendBytes(nil, revVersion, r.Version.Bytes())
		rev = appendBytes(rev, revValue, r.Value)
		if r.Deleted {
			rev = protowire.AppendTag(rev, revDeleted, protowire.VarintType)
			rev = protowire.AppendVarint(rev, protowire.EncodeBool(true))
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, rev)
	}
	return appendString(b, 3, m.ErrorMessage), nil
}

func (m *HistoryResponse) UnmarshalWire(b []byte) error {
	*m = HistoryResponse{}
	var revs [][]byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case 1:
			return consumeStatus(typ, v, &m.Status)
		case 2:
			var rev []byte
			n := consumeBytes(typ, v, &rev)
			if n > 0 {
				revs = append(revs, rev)
			}
			return n
		case 3:
			return consumeString(typ, v, &m.ErrorMessage)
		}
		return 0
	})
	if err != nil {
		return err
	}
	for _, raw := range revs {
		r, err := decodeRevision(raw)
		if err != nil {
			return err
		}
		m.Revisions = append(m.Revisions, r)
	}
	return nil
}

func decodeRevision(b []byte) (journal.Revision, error) {
	var r journal.Revision
	var ver []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch num {
		case revVersion:
			return consumeBytes(typ, v, &ver)
		case revValue:
			return consumeBytes(typ, v, &r.Value)
		case revDeleted:
			if typ != protowire.VarintType {
				return 0
			}
			x, n := protowire.ConsumeVarint(v)
			if n >= 0 {
				r.Deleted = protowire.DecodeBool(x)
			}
			return n
		}
		return 0
	})
	if err != nil {
		return r, err
	}
	r.Version, err = version.FromBytes(ver)
	return r, err
}
