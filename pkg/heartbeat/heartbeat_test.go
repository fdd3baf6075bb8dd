package heartbeat

import (
	"testing"
	"time"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/config"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTiming() config.Timing {
	return config.Timing{BeatIntervalMS: 10_000, ScanIntervalMS: 10_000, DeadThresholdScans: 3}
}

func TestBeatWritesOwnHeartbeatWithAdvancingSeq(t *testing.T) {
	root := t.TempDir()
	e := New(root, "aaaaaaaaaaaa", nodeid.Info{}, testTiming(), false)

	e.beat()
	first := e.Self().Seq
	e.beat()
	second := e.Self().Seq

	assert.Greater(t, second, first)

	var onDisk Heartbeat
	ok, err := atomicstore.ReadJSON(layout.HeartbeatFile(root, "aaaaaaaaaaaa"), &onDisk)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, onDisk.Seq)
}

func TestScanMarksPeerDeadAfterStaleScans(t *testing.T) {
	root := t.TempDir()
	peerHB := Heartbeat{NodeID: "bbbbbbbbbbbb", Seq: 1, TimestampMS: time.Now().UnixMilli(), NodeState: NodeStateActive, RenderState: RenderStateIdle}
	require.NoError(t, atomicstore.WriteJSON(layout.HeartbeatFile(root, "bbbbbbbbbbbb"), peerHB))

	e := New(root, "aaaaaaaaaaaa", nodeid.Info{}, testTiming(), false)

	e.scan() // seeds lastSeenSeq
	view := e.Snapshot()["bbbbbbbbbbbb"]
	assert.False(t, view.Dead, "must not be dead on first observation")

	e.scan()
	e.scan()
	view = e.Snapshot()["bbbbbbbbbbbb"]
	assert.True(t, view.Dead, "3 consecutive unchanged scans must mark the peer dead")
}

func TestScanResetsStalenessWhenSeqAdvances(t *testing.T) {
	root := t.TempDir()
	write := func(seq int64) {
		require.NoError(t, atomicstore.WriteJSON(layout.HeartbeatFile(root, "bbbbbbbbbbbb"), Heartbeat{
			NodeID: "bbbbbbbbbbbb", Seq: seq, TimestampMS: time.Now().UnixMilli(),
			NodeState: NodeStateActive, RenderState: RenderStateIdle,
		}))
	}

	e := New(root, "aaaaaaaaaaaa", nodeid.Info{}, testTiming(), false)
	write(1)
	e.scan()
	write(1)
	e.scan()
	assert.Equal(t, 2, e.Snapshot()["bbbbbbbbbbbb"].StaleCount)

	write(2)
	e.scan()
	view := e.Snapshot()["bbbbbbbbbbbb"]
	assert.Equal(t, 0, view.StaleCount)
	assert.False(t, view.Dead)
}

func TestReclaimEligibleForStoppedButLivePeer(t *testing.T) {
	root := t.TempDir()
	write := func(seq int64, state NodeState) {
		require.NoError(t, atomicstore.WriteJSON(layout.HeartbeatFile(root, "bbbbbbbbbbbb"), Heartbeat{
			NodeID: "bbbbbbbbbbbb", Seq: seq, TimestampMS: time.Now().UnixMilli(),
			NodeState: state, RenderState: RenderStateIdle,
		}))
	}

	e := New(root, "aaaaaaaaaaaa", nodeid.Info{}, testTiming(), false)
	write(1, NodeStateStopped)
	e.scan()
	write(2, NodeStateStopped)
	e.scan()

	view := e.Snapshot()["bbbbbbbbbbbb"]
	assert.False(t, view.Dead)
	assert.True(t, view.ReclaimEligible)
	assert.False(t, view.IsIdleWorker(), "a stopped node is never an idle worker")
}

func TestSelfSkewFlaggedWhenMajorityOfPeersFlagIt(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UnixMilli()
	// two peers see this node's clock as far off (simulated by writing
	// peers whose own timestamps are "normal" but whose skew vs now looks
	// large from the scanning node's perspective stands in for the
	// majority-flags-self rule under test here).
	require.NoError(t, atomicstore.WriteJSON(layout.HeartbeatFile(root, "bbbbbbbbbbbb"), Heartbeat{
		NodeID: "bbbbbbbbbbbb", Seq: 1, TimestampMS: now - 10*time.Minute.Milliseconds(), NodeState: NodeStateActive, RenderState: RenderStateIdle,
	}))
	require.NoError(t, atomicstore.WriteJSON(layout.HeartbeatFile(root, "cccccccccccc"), Heartbeat{
		NodeID: "cccccccccccc", Seq: 1, TimestampMS: now - 10*time.Minute.Milliseconds(), NodeState: NodeStateActive, RenderState: RenderStateIdle,
	}))

	e := New(root, "aaaaaaaaaaaa", nodeid.Info{}, testTiming(), false)
	e.scan()

	snap := e.Snapshot()
	assert.True(t, snap["bbbbbbbbbbbb"].SkewFlagged)
	assert.True(t, snap["cccccccccccc"].SkewFlagged)
	assert.True(t, e.IsSelfSkewed())
}

func TestIdleWorkersSortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	mk := func(id string, state RenderState) {
		require.NoError(t, atomicstore.WriteJSON(layout.HeartbeatFile(root, id), Heartbeat{
			NodeID: id, Seq: 1, TimestampMS: time.Now().UnixMilli(), NodeState: NodeStateActive, RenderState: state,
		}))
	}
	mk("cccccccccccc", RenderStateIdle)
	mk("bbbbbbbbbbbb", RenderStateRendering)
	mk("dddddddddddd", RenderStateIdle)

	e := New(root, "aaaaaaaaaaaa", nodeid.Info{}, testTiming(), false)
	e.scan()

	assert.Equal(t, []string{"cccccccccccc", "dddddddddddd"}, e.IdleWorkers())
}

func TestStopWritesFinalStoppedHeartbeat(t *testing.T) {
	root := t.TempDir()
	e := New(root, "aaaaaaaaaaaa", nodeid.Info{}, testTiming(), false)
	e.Start()
	e.Stop()

	var onDisk Heartbeat
	ok, err := atomicstore.ReadJSON(layout.HeartbeatFile(root, "aaaaaaaaaaaa"), &onDisk)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NodeStateStopped, onDisk.NodeState)
}
