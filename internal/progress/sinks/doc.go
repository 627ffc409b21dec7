// Package sinks implements concrete progress consumers: Prometheus collectors,
// the job event history, a Redis status cache, and structured logging. Each sink
// satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
