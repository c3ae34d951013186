// Package client provides the admin commands of the `rtps` binary.
//
// The commands talk to the participant's admin HTTP endpoint to inspect
// writers and publish samples, and to its gRPC transport endpoint for
// health checks. They are primarily intended for developers and
// operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. BaseURLFromEnv reads RTPS_HTTP and defaults
// to http://127.0.0.1:7480. The gRPC address is read from RTPS_GRPC
// (default 127.0.0.1:7410).
//
// Usage
//
//	rtps writers list
//	rtps writers get 010f...|00000102
//	rtps publish --writer 010f...|00000102 --data '{"hello":"world"}' --count 3
//	rtps participant
//	rtps health
//	rtps health --grpc --addr 127.0.0.1:7410
package client
