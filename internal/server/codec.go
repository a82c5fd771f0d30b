package server

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// CodecName is reported as the content subtype. Messages that are not ours,
// such as reflection traffic, are handled as regular protobuf so the name
// stays "proto".
const CodecName = "proto"

// Codec encodes wireMessages directly and falls back to protobuf for
// generated messages.
type Codec struct{}

var _ encoding.Codec = Codec{}

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case wireMessage:
		return m.MarshalWire()
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("server: cannot marshal %T", v)
	}
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case wireMessage:
		return m.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("server: cannot unmarshal into %T", v)
	}
}

func (Codec) Name() string {
	return CodecName
}
