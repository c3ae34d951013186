// Package httpserver is the admin REST endpoint of a participant: health,
// writer listings with their counters, and a raw sample publishing route
// for demos and smoke tests.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7480")
package httpserver
