package rendersupervisor

import (
	"github.com/smallrender/core/pkg/commandchannel"
	"github.com/smallrender/core/pkg/dispatch"
	"github.com/smallrender/core/pkg/log"
)

// Router implements dispatch.Dispatcher: it routes an assign_chunk/
// abort_chunk instruction to the local Supervisor when the target node is
// this node, and over the Command Channel otherwise.
type Router struct {
	syncRoot string
	selfID   string
	local    *Supervisor
	notifier commandchannel.Notifier
}

// NewRouter builds a Router. notifier may be nil (pure polling cadence).
func NewRouter(syncRoot, selfID string, local *Supervisor, notifier commandchannel.Notifier) *Router {
	return &Router{syncRoot: syncRoot, selfID: selfID, local: local, notifier: notifier}
}

// AssignChunk satisfies dispatch.Dispatcher.
func (r *Router) AssignChunk(nodeID, jobID string, frameStart, frameEnd int) {
	if nodeID == r.selfID {
		r.local.Dispatch(Assignment{JobID: jobID, FrameStart: frameStart, FrameEnd: frameEnd})
		return
	}
	if err := commandchannel.Send(r.syncRoot, r.selfID, nodeID, commandchannel.TypeAssignChunk, jobID, "", frameStart, frameEnd, r.notifier); err != nil {
		log.WithComponent("render-router").Error().Err(err).
			Str("node_id", nodeID).Str("job_id", jobID).Msg("failed to send assign_chunk")
	}
}

// AbortChunk satisfies dispatch.Dispatcher.
func (r *Router) AbortChunk(nodeID, jobID, reason string) {
	if nodeID == r.selfID {
		r.local.Abort(reason)
		return
	}
	if err := commandchannel.Send(r.syncRoot, r.selfID, nodeID, commandchannel.TypeAbortChunk, jobID, reason, 0, 0, r.notifier); err != nil {
		log.WithComponent("render-router").Error().Err(err).
			Str("node_id", nodeID).Str("job_id", jobID).Msg("failed to send abort_chunk")
	}
}

// LocalSink delivers a chunk outcome directly into the coordinator's own
// Dispatch Engine, bypassing the filesystem entirely (this node is both
// worker and coordinator for this chunk).
type LocalSink struct {
	ch chan<- dispatch.CompletionReport
}

// NewLocalSink wraps a Dispatch Engine's local-completions channel.
func NewLocalSink(ch chan<- dispatch.CompletionReport) *LocalSink { return &LocalSink{ch: ch} }

// Report satisfies ResultSink.
func (l *LocalSink) Report(r CompletionReport) {
	l.ch <- dispatch.CompletionReport{
		JobID: r.JobID, FrameStart: r.FrameStart, FrameEnd: r.FrameEnd,
		NodeID: r.NodeID, Failed: r.Failed, Reason: r.Reason,
	}
}

// RemoteSink reports a chunk outcome to a remote coordinator over the
// Command Channel. coordinatorID is resolved at report time so a
// mid-job coordinator failover is picked up without re-wiring.
type RemoteSink struct {
	syncRoot      string
	selfID        string
	coordinatorID func() string
	notifier      commandchannel.Notifier
}

// NewRemoteSink builds a RemoteSink. notifier may be nil.
func NewRemoteSink(syncRoot, selfID string, coordinatorID func() string, notifier commandchannel.Notifier) *RemoteSink {
	return &RemoteSink{syncRoot: syncRoot, selfID: selfID, coordinatorID: coordinatorID, notifier: notifier}
}

// Report satisfies ResultSink.
func (r *RemoteSink) Report(rep CompletionReport) {
	typ := commandchannel.TypeChunkCompleted
	if rep.Failed {
		typ = commandchannel.TypeChunkFailed
	}

	target := r.coordinatorID()
	if target == "" {
		log.WithComponent("render-router").Warn().Str("job_id", rep.JobID).
			Msg("no known coordinator, dropping chunk outcome report")
		return
	}

	if err := commandchannel.Send(r.syncRoot, r.selfID, target, typ, rep.JobID, rep.Reason, rep.FrameStart, rep.FrameEnd, r.notifier); err != nil {
		log.WithComponent("render-router").Error().Err(err).
			Str("job_id", rep.JobID).Msg("failed to report chunk outcome to coordinator")
	}
}
