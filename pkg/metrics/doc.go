// Package metrics defines and registers the Prometheus metrics exposed on a
// node's /metrics endpoint (pkg/opsapi). Gauges (nodes, jobs, chunks) are
// re-derived wholesale by Collector on each tick. Of the counters, only
// CommandsProcessedTotal is incremented (by pkg/node as it handles each
// drained command); the other counters and DispatchCycleDuration are
// registered and exported but nothing in this module updates them.
package metrics
