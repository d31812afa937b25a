// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the crawl orchestrator uses to report job progress. The
// hub batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus collectors, structured logs, or the in-memory
// recorder served by the API.
package progress
