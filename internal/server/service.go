package server

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "statestore.Storage"

const (
	FullMethodGet     = "/" + ServiceName + "/Get"
	FullMethodPut     = "/" + ServiceName + "/Put"
	FullMethodDelete  = "/" + ServiceName + "/Delete"
	FullMethodNames   = "/" + ServiceName + "/Names"
	FullMethodHistory = "/" + ServiceName + "/History"
)

// StorageServer is the server API of the statestore.Storage service.
type StorageServer interface {
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Put(context.Context, *PutRequest) (*PutResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Names(context.Context, *NamesRequest) (*NamesResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
}

// ServiceDesc describes the statestore.Storage service. Servers registering
// it must use Codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler(FullMethodGet, StorageServer.Get)},
		{MethodName: "Put", Handler: unaryHandler(FullMethodPut, StorageServer.Put)},
		{MethodName: "Delete", Handler: unaryHandler(FullMethodDelete, StorageServer.Delete)},
		{MethodName: "Names", Handler: unaryHandler(FullMethodNames, StorageServer.Names)},
		{MethodName: "History", Handler: unaryHandler(FullMethodHistory, StorageServer.History)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "statestore.proto",
}

// RegisterStorageServer registers srv on s.
func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[Req any, Resp any, PReq interface {
	*Req
	wireMessage
}](fullMethod string, call func(StorageServer, context.Context, PReq) (Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StorageServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StorageServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// StorageClient is the client API of the statestore.Storage service.
type StorageClient interface {
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error)
	Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error)
	Names(ctx context.Context, in *NamesRequest, opts ...grpc.CallOption) (*NamesResponse, error)
	History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error)
}

type storageClient struct {
	cc grpc.ClientConnInterface
}

// NewStorageClient returns a client that forces Codec on every call.
func NewStorageClient(cc grpc.ClientConnInterface) StorageClient {
	return &storageClient{cc: cc}
}

func (c *storageClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *storageClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	out := new(GetResponse)
	if err := c.invoke(ctx, FullMethodGet, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageClient) Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error) {
	out := new(PutResponse)
	if err := c.invoke(ctx, FullMethodPut, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	out := new(DeleteResponse)
	if err := c.invoke(ctx, FullMethodDelete, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageClient) Names(ctx context.Context, in *NamesRequest, opts ...grpc.CallOption) (*NamesResponse, error) {
	out := new(NamesResponse)
	if err := c.invoke(ctx, FullMethodNames, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storageClient) History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	out := new(HistoryResponse)
	if err := c.invoke(ctx, FullMethodHistory, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
