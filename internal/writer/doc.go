// Package writer is the write-side reliability and delivery engine.
//
// A Writer creates changes from pooled slots, stores them in a bounded
// history, keeps the registry of matched readers and the aggregated locator
// selection, and delivers each change either inline (synchronous writers and
// in-process readers) or through the shared asynchronous sender under flow
// control.
//
// All writer state is guarded by one non-reentrant lock whose acquisition is
// bounded by the caller's deadline. Work that the original design performed
// through re-entry (liveliness assertion, selector rebuilds) is done by the
// lock holder directly.
//
// Lifecycle of a change:
//
//	c, _ := w.NewChange(cache.KindAlive, handle, size)   // pooled slot + payload
//	c.SetData(buf)
//	_ = w.AddChange(ctx, c)                              // sequence number assigned, delivered
//	_ = w.RemoveOlderChanges(10)                         // slot and payload released
package writer
