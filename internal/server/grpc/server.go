package grpcserver

import (
	"context"
	"net"

	"google.golang.org/grpc"

	grpctransport "github.com/rzbill/rtps/internal/transport/grpc"
)

// Server owns the gRPC server instance and the receiver it feeds.
type Server struct {
	recv grpctransport.Receiver
	grpc *grpc.Server
	lis  net.Listener
}

// New constructs a gRPC server and registers the transport service.
func New(recv grpctransport.Receiver, opts ...grpc.ServerOption) *Server {
	s := &Server{recv: recv, grpc: grpc.NewServer(opts...)}
	grpctransport.RegisterReceiver(s.grpc, recv)
	return s
}

// Serve serves on an existing listener until it is closed.
func (s *Server) Serve(l net.Listener) error {
	s.lis = l
	return s.grpc.Serve(l)
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound address once serving.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
