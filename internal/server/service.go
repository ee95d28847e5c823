package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "hostguard.v1.HostGuard"

// Method names. Requests and responses are google.protobuf.Struct values
// holding the JSON form of the node request and response types.
const (
	MethodApply    = "Apply"
	MethodClassify = "Classify"
	MethodStatus   = "Status"
	MethodSchedule = "Schedule"
	MethodEvents   = "Events"
)

// FullMethod returns the wire path of a method, e.g. /hostguard.v1.HostGuard/Apply.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// HostGuardServer is the server API of the HostGuard service.
type HostGuardServer interface {
	Apply(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Classify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Schedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Events(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(HostGuardServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HostGuardServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HostGuardServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the HostGuard service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HostGuardServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodApply, HostGuardServer.Apply),
		unary(MethodClassify, HostGuardServer.Classify),
		unary(MethodStatus, HostGuardServer.Status),
		unary(MethodSchedule, HostGuardServer.Schedule),
		unary(MethodEvents, HostGuardServer.Events),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hostguard/v1/hostguard.proto",
}
