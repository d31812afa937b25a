// Package sinks implements concrete progress consumers: Prometheus
// collectors, structured logging, and an in-memory recorder for the API's
// job event endpoint. Each sink satisfies the progress.Sink interface and is
// safe for repeated Consume/Close cycles.
package sinks
