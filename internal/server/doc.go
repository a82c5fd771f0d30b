// Package server exposes a storage.Storage over gRPC.
//
// The service is described by hand rather than generated: requests and
// responses are plain structs encoded in protobuf wire format, and Codec is
// forced on both ends of the connection.
package server
