// Package runtime wires storage, config, and the durable store into a
// single-node Relay instance. It exposes Open/Close, a health check, and
// the producer-facing Enqueue entry point.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	rec, _ := rt.Enqueue(context.Background(), "", []byte(`{"reading": 42}`))
package runtime
