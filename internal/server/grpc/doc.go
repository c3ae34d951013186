// Package grpcserver hosts the receiving side of the gRPC transport.
//
// Example:
//
//	s := grpcserver.New(rt)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7500")
package grpcserver
