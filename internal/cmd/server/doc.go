// Package serverrun exposes the Run entrypoint used by the CLI to start an
// RTPS participant with its gRPC transport endpoint and admin HTTP server,
// handling lifecycle and shutdown.
//
// Example:
//
//	cfg := config.Default()
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg, GRPCAddr: ":7410", HTTPAddr: ":7480"})
package serverrun
