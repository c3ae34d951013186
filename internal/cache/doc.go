// Package cache holds the change record and the pools that back it.
//
// A Change is one writer-produced sample. Change slots come from a
// ChangePool (a bounded arena, reused across samples) and the serialized
// bytes come from a PayloadPool. Both pools are internally synchronized so a
// single pool can serve several writers.
//
//	changes := cache.NewChangePool(cache.PoolConfig{Initial: 16, Maximum: 64})
//	payloads := cache.NewPayloadPool(cache.PoolConfig{Policy: cache.PreallocatedWithRealloc, PayloadMaxSize: 1024})
//	c, err := changes.Reserve()
//	if err != nil { /* errs.ErrResourceExhausted */ }
//	if err := payloads.Get(256, c); err != nil {
//	    _ = changes.Release(c)
//	}
//	...
//	_ = payloads.Release(c)
//	_ = changes.Release(c)
package cache
