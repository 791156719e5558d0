package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "baatkare.admin.v1.Admin"

const (
	methodGetStatus   = "/" + ServiceName + "/GetStatus"
	methodListOnline  = "/" + ServiceName + "/ListOnline"
	methodCreateUser  = "/" + ServiceName + "/CreateUser"
	methodIssueToken  = "/" + ServiceName + "/IssueToken"
	methodWatchEvents = "/" + ServiceName + "/WatchEvents"
)

// AdminServer is the server API for the admin service. Messages use the
// protobuf well-known Struct type so no generated code is needed.
type AdminServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListOnline(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CreateUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes the admin service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unary(methodGetStatus, func(s AdminServer, ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
			return s.GetStatus(ctx, in)
		})},
		{MethodName: "ListOnline", Handler: unary(methodListOnline, func(s AdminServer, ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
			return s.ListOnline(ctx, in)
		})},
		{MethodName: "CreateUser", Handler: unary(methodCreateUser, func(s AdminServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return s.CreateUser(ctx, in)
		})},
		{MethodName: "IssueToken", Handler: unary(methodIssueToken, func(s AdminServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return s.IssueToken(ctx, in)
		})},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(AdminServer).WatchEvents(in, stream)
			},
		},
	},
	Metadata: "baatkare/admin/v1/admin.proto",
}

// unary adapts a typed method to grpc's untyped handler signature.
func unary[In any, PIn interface{ *In }](fullMethod string, call func(AdminServer, context.Context, PIn) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PIn(new(In))
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(AdminServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(PIn))
		})
	}
}
