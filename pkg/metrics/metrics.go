// Package metrics defines and registers every Prometheus metric this node
// exposes on its local /metrics endpoint (pkg/opsapi). Metrics observe the
// farm coordination fabric itself (heartbeats, dispatch, chunks, commands,
// submissions) — never the renderer the agent hosts, which is out of
// scope per spec §1.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Among the counters and the histogram below, only CommandsProcessedTotal
// is incremented anywhere in this module; the others are registered and
// exported but stay at zero.
var (
	// NodesTotal counts peers this node currently sees in its heartbeat
	// snapshot, by liveness status ("alive", "dead").
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smallrender_nodes_total",
			Help: "Peers visible in this node's heartbeat snapshot, by liveness status",
		},
		[]string{"status"},
	)

	// SelfSkewed reports whether this node's local clock flagged itself
	// as the outlier against a majority of alive peers.
	SelfSkewed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smallrender_self_clock_skewed",
			Help: "1 if a majority of alive peers flag this node's clock as skewed, else 0",
		},
	)

	// HeartbeatsSentTotal counts this node's own heartbeat writes.
	HeartbeatsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smallrender_heartbeats_sent_total",
			Help: "Total heartbeat beats written by this node",
		},
	)

	// CommandsSentTotal counts commands this node has written into a
	// target's inbox, by command type.
	CommandsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallrender_commands_sent_total",
			Help: "Commands written into a target node's inbox, by type",
		},
		[]string{"type"},
	)

	// CommandsProcessedTotal counts commands this node drained from its
	// own inbox, by command type.
	CommandsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallrender_commands_processed_total",
			Help: "Commands drained from this node's own inbox, by type",
		},
		[]string{"type"},
	)

	// CommandsDedupedTotal counts inbox entries dropped as duplicates
	// within the 60s dedup window.
	CommandsDedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smallrender_commands_deduped_total",
			Help: "Commands dropped as duplicate msg_ids within the dedup window",
		},
	)

	// JobsTotal is the coordinator's current job count by lifecycle state.
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smallrender_jobs_total",
			Help: "Jobs known to the Job Store, by lifecycle state",
		},
		[]string{"state"},
	)

	// ChunksTotal is the coordinator's current chunk count across every
	// in-memory dispatch table, by chunk state.
	ChunksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smallrender_chunks_total",
			Help: "Chunks across all in-memory dispatch tables, by chunk state",
		},
		[]string{"state"},
	)

	// ChunksCompletedTotal, ChunksFailedTotal, and ChunksRetriedTotal are
	// monotonic counters of chunk outcomes the dispatch cycle observes.
	ChunksCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smallrender_chunks_completed_total",
			Help: "Total chunks that reached the completed state",
		},
	)
	ChunksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smallrender_chunks_failed_total",
			Help: "Total chunks that exhausted their retries and reached the failed state",
		},
	)
	ChunksRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smallrender_chunks_retried_total",
			Help: "Total chunk failures that were retried rather than exhausted",
		},
	)

	// JobsCompletedTotal counts jobs the dispatch cycle has declared
	// completed (one state=completed entry per job, per spec §4.8's
	// completion_written guard).
	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smallrender_jobs_completed_total",
			Help: "Total jobs for which a state=completed entry was written",
		},
	)

	// DispatchCycleDuration times the coordinator's six-step dispatch
	// cycle (spec §4.8).
	DispatchCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smallrender_dispatch_cycle_duration_seconds",
			Help:    "Duration of one coordinator dispatch cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SubmissionsProcessedTotal and SubmissionsFailedTotal count the
	// Submission Intake's outcomes.
	SubmissionsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smallrender_submissions_processed_total",
			Help: "External submissions successfully materialized into jobs",
		},
	)
	SubmissionsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smallrender_submissions_failed_total",
			Help: "External submissions archived with an error (unknown template, retry exhaustion)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		SelfSkewed,
		HeartbeatsSentTotal,
		CommandsSentTotal,
		CommandsProcessedTotal,
		CommandsDedupedTotal,
		JobsTotal,
		ChunksTotal,
		ChunksCompletedTotal,
		ChunksFailedTotal,
		ChunksRetriedTotal,
		JobsCompletedTotal,
		DispatchCycleDuration,
		SubmissionsProcessedTotal,
		SubmissionsFailedTotal,
	)
}
