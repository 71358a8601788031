// Package audit defines the engine's audit event model, sink interface,
// and the asynchronous dispatcher that decouples request paths from sink
// latency. Events are fire-and-forget from the engine's perspective;
// overflow is counted, never blocked on.
package audit
