// Package grpctransport carries framed messages over gRPC unary calls.
//
// Messages travel as raw bytes through a registered codec, so no generated
// protobuf code is involved. The client side is a transport.Transport for
// TCP locators that caches one connection per address; the server side is
// in internal/server/grpc.
package grpctransport
