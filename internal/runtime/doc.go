// Package runtime wires one participant: the pebble-backed history store,
// the shared asynchronous sender, the liveliness tracker, the flow
// controller registry and the transports. Writers are created through it so
// they share those collaborators, and local readers register with it to be
// served in-process.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	defer rt.Close()
//	opts, _ := rt.WriterOptions("orders")
//	w, _ := rt.CreateWriter(opts)
//	_, _ = w.MatchedReaderAdd(writer.ReaderProxyData{GUID: readerGUID})
//	_, _ = w.Write(ctx, cache.KindAlive, cache.InstanceHandle{}, []byte("hello"))
package runtime
