// Package heartbeat implements the node presence/liveness protocol: a
// background worker that alternates between writing this node's own
// heartbeat and scanning every peer's, deriving dead/reclaim-eligible flags
// purely from sequence numbers rather than timestamps, since the farm root's
// writers and readers never share a clock. Timestamps are used only for the
// clock-skew flags.
package heartbeat

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/config"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/log"
	"github.com/smallrender/core/pkg/nodeid"
)

const (
	protocolVersion = 1
	skewThresholdMS = 30_000
)

// Engine owns this node's own heartbeat and its view of every peer's.
type Engine struct {
	syncRoot string
	nodeID   string
	hardware nodeid.Info
	timing   config.Timing

	mu     sync.RWMutex
	own    Heartbeat
	peers  map[string]PeerView
	skewed bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Heartbeat Engine for this node. Start must be called to
// begin beating and scanning.
func New(syncRoot, nodeID string, hardware nodeid.Info, timing config.Timing, isCoordinator bool) *Engine {
	return &Engine{
		syncRoot: syncRoot,
		nodeID:   nodeID,
		hardware: hardware,
		timing:   timing,
		peers:    make(map[string]PeerView),
		own: Heartbeat{
			NodeID:          nodeID,
			NodeState:       NodeStateActive,
			RenderState:     RenderStateIdle,
			IsCoordinator:   isCoordinator,
			Hardware:        hardware,
			ProtocolVersion: protocolVersion,
		},
		stopCh: make(chan struct{}),
	}
}

// Start performs one synchronous beat+scan so the first snapshot any
// consumer reads is non-empty, then launches the background worker.
func (e *Engine) Start() {
	e.beat()
	e.scan()

	e.wg.Add(1)
	go e.run()
}

// Stop halts the background worker, then synchronously writes one final
// heartbeat with NodeState=stopped.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()

	e.mu.Lock()
	e.own.NodeState = NodeStateStopped
	e.mu.Unlock()
	e.beat()
}

func (e *Engine) run() {
	defer e.wg.Done()

	beatEvery := time.Duration(e.timing.BeatIntervalMS) * time.Millisecond
	scanEvery := time.Duration(e.timing.ScanIntervalMS) * time.Millisecond
	beatTicker := time.NewTicker(beatEvery)
	scanTicker := time.NewTicker(scanEvery)
	defer beatTicker.Stop()
	defer scanTicker.Stop()

	logger := log.WithComponent("heartbeat")
	for {
		select {
		case <-beatTicker.C:
			e.beat()
		case <-scanTicker.C:
			e.scan()
		case <-e.stopCh:
			logger.Info().Msg("heartbeat engine stopping")
			return
		}
	}
}

// Setters. Each updates the in-memory own-heartbeat; the change is picked
// up by the next beat rather than written immediately.

func (e *Engine) SetRenderState(s RenderState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.own.RenderState = s
}

func (e *Engine) SetActiveJob(jobID, chunkLabel string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.own.ActiveJob = jobID
	e.own.ActiveChunkLabel = chunkLabel
}

func (e *Engine) SetNodeState(s NodeState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.own.NodeState = s
}

func (e *Engine) SetTags(tags []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.own.Tags = append([]string{}, tags...)
}

func (e *Engine) SetIsCoordinator(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.own.IsCoordinator = v
}

// Self returns a copy of this node's own current heartbeat state.
func (e *Engine) Self() Heartbeat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.own
}

// beat increments seq and atomically writes this node's heartbeat.
func (e *Engine) beat() {
	e.mu.Lock()
	e.own.Seq++
	e.own.TimestampMS = time.Now().UnixMilli()
	snapshot := e.own
	e.mu.Unlock()

	path := layout.HeartbeatFile(e.syncRoot, e.nodeID)
	if err := atomicstore.WriteJSON(path, snapshot); err != nil {
		log.WithComponent("heartbeat").Error().Err(err).Msg("failed to write heartbeat")
	}
}

// scan enumerates every peer's heartbeat file, merges it into the in-memory
// peer map, and recomputes liveness and clock-skew flags.
func (e *Engine) scan() {
	nodeDirs := listNodeDirs(layout.NodesDir(e.syncRoot))
	now := time.Now().UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, peerID := range nodeDirs {
		if peerID == e.nodeID {
			continue
		}

		var hb Heartbeat
		ok, err := atomicstore.ReadJSON(layout.HeartbeatFile(e.syncRoot, peerID), &hb)
		if err != nil || !ok {
			// Transient I/O (not yet propagated) or a malformed record:
			// leave the existing view untouched and try again next scan.
			continue
		}

		view, known := e.peers[peerID]
		if !known {
			// Seed lastSeenSeq with the current value so an old-but-valid
			// file isn't mistaken for live until it advances at least once.
			view = PeerView{Heartbeat: hb, LastSeenSeq: hb.Seq}
		}

		if hb.Seq == view.LastSeenSeq {
			view.StaleCount++
		} else {
			view.StaleCount = 0
			view.LastSeenSeq = hb.Seq
		}
		view.Heartbeat = hb
		view.Dead = view.StaleCount >= e.timing.DeadThresholdScans
		view.ReclaimEligible = !view.Dead && hb.NodeState == NodeStateStopped

		view.SkewMS = now - hb.TimestampMS
		if view.SkewMS < 0 {
			view.SkewMS = -view.SkewMS
		}
		view.SkewFlagged = view.SkewMS > skewThresholdMS

		e.peers[peerID] = view
	}

	e.recomputeSelfSkewLocked()
}

// recomputeSelfSkewLocked flags this node's own clock as the outlier when a
// majority of alive peers flag it.
func (e *Engine) recomputeSelfSkewLocked() {
	alive, flagged := 0, 0
	for _, p := range e.peers {
		if !p.IsAlive() {
			continue
		}
		alive++
		if p.SkewFlagged {
			flagged++
		}
	}
	e.skewed = alive > 0 && flagged*2 > alive
}

// IsSelfSkewed reports whether a majority of alive peers flag this node's
// clock as the outlier.
func (e *Engine) IsSelfSkewed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.skewed
}

// Snapshot returns a thread-safe copy of the full peer view, keyed by
// node id. The map carries no iteration order; callers that need one sort
// the keys themselves (as IdleWorkers does).
func (e *Engine) Snapshot() map[string]PeerView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]PeerView, len(e.peers))
	for id, v := range e.peers {
		out[id] = v
	}
	return out
}

// AliveCount returns the number of peers (excluding self) not currently
// flagged dead by staleness.
func (e *Engine) AliveCount() int {
	count := 0
	for _, v := range e.Snapshot() {
		if v.IsAlive() {
			count++
		}
	}
	return count
}

// DeadCount returns the number of peers flagged dead by staleness.
func (e *Engine) DeadCount() int {
	count := 0
	for _, v := range e.Snapshot() {
		if !v.IsAlive() {
			count++
		}
	}
	return count
}

// IdleWorkers returns the node ids of peers currently eligible for a new
// assignment, sorted for determinism.
func (e *Engine) IdleWorkers() []string {
	snap := e.Snapshot()
	var ids []string
	for id, v := range snap {
		if v.IsIdleWorker() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func listNodeDirs(nodesDir string) []string {
	entries, err := os.ReadDir(nodesDir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}
