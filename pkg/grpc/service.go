package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The Ingest service carries google.protobuf.Struct messages in both
// directions, so it is registered without generated stubs.
const (
	IngestServiceName       = "climate.v1.Ingest"
	IngestPostReadingMethod = "/climate.v1.Ingest/PostReading"
	IngestPostLimiterMethod = "/climate.v1.Ingest/PostLimiter"
)

type IngestServer interface {
	PostReading(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	PostLimiter(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(IngestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IngestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(IngestServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var IngestServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PostReading",
			Handler:    unaryHandler(IngestPostReadingMethod, IngestServer.PostReading),
		},
		{
			MethodName: "PostLimiter",
			Handler:    unaryHandler(IngestPostLimiterMethod, IngestServer.PostLimiter),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "climate/v1/ingest.proto",
}

func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&IngestServiceDesc, srv)
}

type IngestClient struct {
	cc grpc.ClientConnInterface
}

func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

func (c *IngestClient) PostReading(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, IngestPostReadingMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IngestClient) PostLimiter(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, IngestPostLimiterMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
