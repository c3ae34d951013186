// Package history implements the writer's ordered store of changes.
//
// A History assigns sequence numbers (starting at 1, strictly increasing,
// never reused), keeps changes sorted front-to-back, and enforces resource
// limits. Removing a change notifies the owning writer, which drops it from
// its delivery state and returns the slot and payload to their pools.
//
// History is not safe for concurrent use; the owning writer serializes access
// under its own lock.
package history
