// Package asyncsender runs the background drains of asynchronous writers.
//
// Writers are hashed by GUID onto a fixed set of shards; each shard owns one
// worker goroutine, so at most one drain per writer runs at a time while
// distinct writers on different shards drain concurrently. A wake is an
// edge-triggered signal: waking a writer that is already pending is a no-op,
// and a writer that wakes itself during its own drain is drained again
// afterwards.
package asyncsender
