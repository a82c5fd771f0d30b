package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"statestore/internal/storage"
	"statestore/internal/storage/journal"
	"statestore/internal/version"
)

func TestCodec_Messages(t *testing.T) {
	tok := version.New()
	tests := []struct {
		name string
		in   wireMessage
		out  wireMessage
	}{
		{"get request", &GetRequest{Name: "job-17"}, &GetRequest{}},
		{"get response", &GetResponse{Entry: &storage.Entry{Name: "job-17", Value: []byte("v"), Version: tok}}, &GetResponse{}},
		{"get not found", &GetResponse{Status: StatusNotFound}, &GetResponse{}},
		{"put request", &PutRequest{Name: "a", Expected: tok.Bytes(), Value: []byte{0, 1, 2}}, &PutRequest{}},
		{"put conflict", &PutResponse{Status: StatusConflict}, &PutResponse{}},
		{"put error", &PutResponse{Status: StatusError, ErrorMessage: "boom"}, &PutResponse{}},
		{"delete request", &DeleteRequest{Name: "a", Expected: tok.Bytes()}, &DeleteRequest{}},
		{"delete response", &DeleteResponse{Status: StatusConflict}, &DeleteResponse{}},
		{"names request", &NamesRequest{}, &NamesRequest{}},
		{"names response", &NamesResponse{Names: []string{"a", "b/c", "ü"}}, &NamesResponse{}},
		{"history request", &HistoryRequest{Name: "job-17"}, &HistoryRequest{}},
		{"history response", &HistoryResponse{Revisions: []journal.Revision{
			{Version: tok, Value: []byte("v2"), Deleted: true},
			{Version: version.New(), Value: []byte("v1")},
		}}, &HistoryResponse{}},
	}

	var codec Codec
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := codec.Marshal(tt.in)
			require.NoError(t, err)
			require.NoError(t, codec.Unmarshal(data, tt.out))
			if diff := cmp.Diff(tt.in, tt.out); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "known")
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("later"))

	var req GetRequest
	require.NoError(t, Codec{}.Unmarshal(b, &req))
	assert.Equal(t, "known", req.Name)
}

func TestCodec_Errors(t *testing.T) {
	var req PutRequest
	assert.Error(t, Codec{}.Unmarshal([]byte{0x0a, 0x05, 'a'}, &req), "truncated field")

	_, err := Codec{}.Marshal(struct{}{})
	assert.Error(t, err)
	assert.Error(t, Codec{}.Unmarshal(nil, &struct{}{}))
	assert.Equal(t, "proto", Codec{}.Name())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "SUCCESS", StatusSuccess.String())
	assert.Equal(t, "CONFLICT", StatusConflict.String())
	assert.Equal(t, "NOT_FOUND", StatusNotFound.String())
	assert.Equal(t, "ERROR", StatusError.String())
	assert.Equal(t, "UNKNOWN", Status(99).String())
}
