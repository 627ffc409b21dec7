// Package progress carries job milestones from the worker to observers. The Hub
// batches events on a background goroutine and fans them out to pluggable sinks
// (Prometheus, the event history store, a Redis status cache, logs) without ever
// blocking the job pipeline.
package progress
