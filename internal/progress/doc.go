// Package progress provides the event primitives, non-blocking hub, and emitter
// interface that batch workers use to report job progress. Events are batched
// on a background goroutine and fanned out to pluggable sinks.
package progress
