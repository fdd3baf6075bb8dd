package heartbeat

import "github.com/smallrender/core/pkg/nodeid"

// NodeState is the coarse lifecycle state a node reports about itself.
type NodeState string

const (
	NodeStateActive  NodeState = "active"
	NodeStateStopped NodeState = "stopped"
)

// RenderState is whether this node's Render Supervisor is busy.
type RenderState string

const (
	RenderStateIdle      RenderState = "idle"
	RenderStateRendering RenderState = "rendering"
)

// Heartbeat is the record written to nodes/<node_id>/heartbeat.json on every
// beat. seq must advance strictly on every beat written by the owning node;
// staleness detection on every other node hinges entirely on that.
type Heartbeat struct {
	NodeID           string      `json:"node_id"`
	Seq              int64       `json:"seq"`
	TimestampMS      int64       `json:"timestamp_ms"`
	NodeState        NodeState   `json:"node_state"`
	RenderState      RenderState `json:"render_state"`
	ActiveJob        string      `json:"active_job,omitempty"`
	ActiveChunkLabel string      `json:"active_chunk_label,omitempty"`
	IsCoordinator    bool        `json:"is_coordinator"`
	Tags             []string    `json:"tags,omitempty"`
	Hardware         nodeid.Info `json:"hardware"`
	ProtocolVersion  int         `json:"protocol_version"`
}

// PeerView is this node's derived liveness view of one peer, merging the
// peer's latest on-disk Heartbeat with locally-computed staleness state.
// PeerView is never itself persisted; it only ever lives in the engine's
// in-memory map and in snapshots taken from it.
type PeerView struct {
	Heartbeat Heartbeat

	LastSeenSeq     int64
	StaleCount      int
	Dead            bool
	ReclaimEligible bool
	SkewMS          int64
	SkewFlagged     bool
}

// IsAlive reports whether the peer is not dead by staleness. A stopped node
// that is still advancing its seq counts as alive (it is reclaim-eligible,
// not dead).
func (p PeerView) IsAlive() bool {
	return !p.Dead
}

// IsIdleWorker reports whether the peer can accept a new assignment right
// now: alive, actively running (not stopped), and not rendering.
func (p PeerView) IsIdleWorker() bool {
	return p.IsAlive() &&
		p.Heartbeat.NodeState == NodeStateActive &&
		p.Heartbeat.RenderState == RenderStateIdle
}
