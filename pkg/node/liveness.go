package node

import (
	"github.com/smallrender/core/pkg/dispatch"
	"github.com/smallrender/core/pkg/heartbeat"
)

// livenessAdapter satisfies dispatch.LivenessView over a *heartbeat.Engine,
// folding the coordinator's own heartbeat state into the same idle/dead
// checks applied to every peer — a coordinator dispatching to itself walks
// the identical assignment/stale/reclaim path as dispatching to a remote
// worker, per the decision recorded for spec §9's local-dispatch symmetry
// question.
type livenessAdapter struct {
	hb     *heartbeat.Engine
	selfID string
}

func newLivenessAdapter(hb *heartbeat.Engine, selfID string) *livenessAdapter {
	return &livenessAdapter{hb: hb, selfID: selfID}
}

// IsDead satisfies dispatch.LivenessView.
func (a *livenessAdapter) IsDead(nodeID string) bool {
	if nodeID == a.selfID {
		return a.hb.Self().NodeState == heartbeat.NodeStateStopped
	}
	peer, ok := a.hb.Snapshot()[nodeID]
	if !ok {
		return true
	}
	return !peer.IsAlive()
}

// IdleWorkers satisfies dispatch.LivenessView, including self.
func (a *livenessAdapter) IdleWorkers() []dispatch.WorkerInfo {
	var out []dispatch.WorkerInfo

	for nodeID, peer := range a.hb.Snapshot() {
		if !peer.IsIdleWorker() {
			continue
		}
		out = append(out, dispatch.WorkerInfo{
			NodeID:         nodeID,
			OS:             peer.Heartbeat.Hardware.OS,
			Tags:           peer.Heartbeat.Tags,
			IsIdle:         true,
			IsDead:         false,
			RenderingJobID: peer.Heartbeat.ActiveJob,
		})
	}

	own := a.hb.Self()
	if own.NodeState == heartbeat.NodeStateActive && own.RenderState == heartbeat.RenderStateIdle {
		out = append(out, dispatch.WorkerInfo{
			NodeID:         a.selfID,
			OS:             own.Hardware.OS,
			Tags:           own.Tags,
			IsIdle:         true,
			IsDead:         false,
			RenderingJobID: own.ActiveJob,
		})
	}

	return out
}

// IsRenderingJob satisfies dispatch.LivenessView.
func (a *livenessAdapter) IsRenderingJob(nodeID, jobID string) bool {
	if nodeID == a.selfID {
		own := a.hb.Self()
		return own.RenderState == heartbeat.RenderStateRendering && own.ActiveJob == jobID
	}
	peer, ok := a.hb.Snapshot()[nodeID]
	if !ok {
		return false
	}
	return peer.Heartbeat.RenderState == heartbeat.RenderStateRendering && peer.Heartbeat.ActiveJob == jobID
}

// coordinatorID resolves the currently-known coordinator's node id by
// scanning self and every alive peer's is_coordinator flag. Returns "" if
// none is currently visible.
func coordinatorID(hb *heartbeat.Engine, selfID string) string {
	if hb.Self().IsCoordinator {
		return selfID
	}
	for nodeID, peer := range hb.Snapshot() {
		if peer.IsAlive() && peer.Heartbeat.IsCoordinator {
			return nodeID
		}
	}
	return ""
}
