// Package transport sends framed messages to sets of locators.
//
// Implementations: Loopback (in-process, used by tests and benchmarks), the
// udp and grpc subpackages for the network, and Multi, which routes each
// locator to the transport registered for its kind.
package transport
