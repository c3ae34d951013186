package grpctransport

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName    = "rtps.Transport"
	DeliverMethod  = "/rtps.Transport/Deliver"
	HealthMethod   = "/rtps.Transport/Health"
	healthServing  = "ok"
	healthDegraded = "not_serving"
)

// Receiver handles messages arriving over gRPC.
type Receiver interface {
	Deliver(ctx context.Context, msg []byte) error
	CheckHealth(ctx context.Context) error
}

// RegisterReceiver registers r on s.
func RegisterReceiver(s grpc.ServiceRegistrar, r Receiver) {
	s.RegisterService(&ServiceDesc, r)
}

// ServiceDesc describes the raw transport service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Receiver)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Metadata: "rtps/transport",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new([]byte)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req interface{}) (interface{}, error) {
		out := []byte{}
		return &out, srv.(Receiver).Deliver(ctx, *req.(*[]byte))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: DeliverMethod}, call)
}

func healthHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new([]byte)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, _ interface{}) (interface{}, error) {
		status := []byte(healthServing)
		if err := srv.(Receiver).CheckHealth(ctx); err != nil {
			status = []byte(healthDegraded)
		}
		return &status, nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthMethod}, call)
}
