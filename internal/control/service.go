// Package control exposes the orchestrator over gRPC on a unix socket so the
// CLI and external trigger sources can reach the running Primary.
//
// The service is registered from a hand-written descriptor. Requests and
// responses are the well-known Empty and Struct messages, so no generated
// code is needed on either side.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "keepalive.v1.Control"

const (
	methodCheck  = "/" + serviceName + "/Check"
	methodStart  = "/" + serviceName + "/Start"
	methodStop   = "/" + serviceName + "/Stop"
	methodStatus = "/" + serviceName + "/Status"
)

type controlServer interface {
	Check(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Start(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Stop(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*controlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: unary(methodCheck, controlServer.Check)},
		{MethodName: "Start", Handler: unary(methodStart, controlServer.Start)},
		{MethodName: "Stop", Handler: unary(methodStop, controlServer.Stop)},
		{MethodName: "Status", Handler: unary(methodStatus, controlServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keepalive/v1/control.proto",
}

func unary[R any](fullMethod string, call func(controlServer, context.Context, *emptypb.Empty) (R, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(controlServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*emptypb.Empty))
		})
	}
}
