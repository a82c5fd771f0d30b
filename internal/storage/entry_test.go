package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"statestore/internal/version"
)

func TestEntry_EncodeDecode(t *testing.T) {
	in := &Entry{Name: "job-17", Value: []byte("RUNNING"), Version: version.New()}

	data, err := in.MarshalBinary()
	require.NoError(t, err)

	out, err := DecodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEntry_EmptyValue(t *testing.T) {
	in := &Entry{Name: "empty", Version: version.New()}

	data, err := in.MarshalBinary()
	require.NoError(t, err)

	out, err := DecodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, in.Version, out.Version)
	assert.Empty(t, out.Value)
}

func TestEntry_SkipsUnknownFields(t *testing.T) {
	in := &Entry{Name: "n", Value: []byte("v"), Version: version.New()}
	data, err := in.MarshalBinary()
	require.NoError(t, err)

	data = protowire.AppendTag(data, 9, protowire.VarintType)
	data = protowire.AppendVarint(data, 42)
	data = protowire.AppendTag(data, 10, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future field"))

	out, err := DecodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEntry_DecodeErrors(t *testing.T) {
	_, err := DecodeEntry([]byte{0xff})
	assert.Error(t, err, "truncated tag")

	noVersion := protowire.AppendTag(nil, fieldName, protowire.BytesType)
	noVersion = protowire.AppendString(noVersion, "n")
	_, err = DecodeEntry(noVersion)
	assert.Error(t, err, "missing version")

	badVersion := protowire.AppendTag(nil, fieldVersion, protowire.BytesType)
	badVersion = protowire.AppendBytes(badVersion, []byte{1, 2})
	_, err = DecodeEntry(badVersion)
	assert.Error(t, err, "short version")
}

func TestEntry_CloneIsDeep(t *testing.T) {
	in := &Entry{Name: "n", Value: []byte("abc"), Version: version.New()}
	c := in.Clone()
	c.Value[0] = 'x'
	assert.Equal(t, "abc", string(in.Value))

	var nilEntry *Entry
	assert.Nil(t, nilEntry.Clone())
}
