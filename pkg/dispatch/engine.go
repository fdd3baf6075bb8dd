// Package dispatch implements the coordinator-only Dispatch Engine: an
// in-memory assignment state machine over one dispatch table per active
// job, flushed to disk on a throttled cadence and recovered at startup by
// reconciling against which workers are actually still alive.
package dispatch

import (
	"sort"
	"sync"
	"time"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/jobstore"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/log"
)

const flushInterval = 2 * time.Second

// LivenessView answers the questions the Dispatch Engine needs about
// workers without depending on pkg/heartbeat's concrete types directly.
type LivenessView interface {
	IsDead(nodeID string) bool
	IdleWorkers() []WorkerInfo
	IsRenderingJob(nodeID, jobID string) bool
}

// Engine owns every active job's dispatch table and the coordinator's
// worker assignment map.
type Engine struct {
	syncRoot string
	selfID   string
	jobs     *jobstore.Store
	liveness LivenessView
	sender   Dispatcher

	mu                sync.Mutex
	tables            map[string]*Table
	assignments       map[string]Assignment // nodeID -> assignment
	dirtyTables       map[string]bool
	completionWritten map[string]bool

	localCompletions  chan CompletionReport
	remoteCompletions chan CompletionReport

	staleThreshold time.Duration
	lastFlush      time.Time
}

// Options configures the engine's tunables.
type Options struct {
	StaleThreshold time.Duration // max(60s, 2*dead_scans*beat_interval) computed by the caller
}

// New creates a Dispatch Engine. Call Recover then run Tick on a cadence
// (the caller owns the main-loop scheduling per spec §5).
func New(syncRoot, selfID string, jobs *jobstore.Store, liveness LivenessView, sender Dispatcher, opts Options) *Engine {
	threshold := opts.StaleThreshold
	if threshold <= 0 {
		threshold = 60 * time.Second
	}
	return &Engine{
		syncRoot:          syncRoot,
		selfID:            selfID,
		jobs:              jobs,
		liveness:          liveness,
		sender:            sender,
		tables:            make(map[string]*Table),
		assignments:       make(map[string]Assignment),
		dirtyTables:       make(map[string]bool),
		completionWritten: make(map[string]bool),
		localCompletions:  make(chan CompletionReport, 64),
		remoteCompletions: make(chan CompletionReport, 64),
		staleThreshold:    threshold,
	}
}

// LocalCompletions returns the channel the Render Supervisor reports this
// node's own chunk outcomes on.
func (e *Engine) LocalCompletions() chan<- CompletionReport { return e.localCompletions }

// RemoteCompletions returns the channel worker reports parsed off the
// Command Channel are pushed onto.
func (e *Engine) RemoteCompletions() chan<- CompletionReport { return e.remoteCompletions }

// Snapshot returns a deep copy of every in-memory dispatch table, keyed by
// job id, for read-only consumers (metrics, CLI status) that must never
// observe a table mid-mutation.
func (e *Engine) Snapshot() map[string]Table {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]Table, len(e.tables))
	for jobID, t := range e.tables {
		chunks := make([]Chunk, len(t.Chunks))
		copy(chunks, t.Chunks)
		out[jobID] = Table{CoordinatorID: t.CoordinatorID, UpdatedAtMS: t.UpdatedAtMS, Chunks: chunks}
	}
	return out
}

// ChunkStateCounts returns the number of chunks in each state across every
// in-memory dispatch table.
func (e *Engine) ChunkStateCounts() map[string]int {
	counts := make(map[string]int)
	for _, t := range e.Snapshot() {
		for _, c := range t.Chunks {
			counts[string(c.State)]++
		}
	}
	return counts
}

// Recover reads any existing dispatch.json for every active, paused, or
// cancelled job (a paused job keeps its table for a later resume), resetting
// assignments held by dead workers back to pending and rebuilding the
// assignments map for assignments still held by live workers.
func (e *Engine) Recover() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, info := range e.jobs.Snapshot() {
		switch info.CurrentState {
		case jobstore.StateActive, jobstore.StatePaused, jobstore.StateCancelled:
		default:
			continue
		}
		jobID := info.Manifest.JobID

		var table Table
		ok, err := atomicstore.ReadJSON(layout.DispatchFile(e.syncRoot, jobID), &table)
		if err != nil || !ok {
			continue
		}

		for i := range table.Chunks {
			c := &table.Chunks[i]
			if c.State != ChunkAssigned {
				continue
			}
			if e.liveness.IsDead(c.AssignedTo) {
				c.State = ChunkPending
				c.AssignedTo = ""
				c.AssignedAtMS = 0
				e.dirtyTables[jobID] = true
				continue
			}
			e.assignments[c.AssignedTo] = Assignment{JobID: jobID, FrameStart: c.FrameStart, FrameEnd: c.FrameEnd, AssignedAtMS: c.AssignedAtMS}
		}
		e.tables[jobID] = &table
	}
}

// Tick runs exactly one dispatch cycle, in spec order.
func (e *Engine) Tick(selfStopped bool) {
	e.processCompletions(e.localCompletions)
	e.processCompletions(e.remoteCompletions)
	e.detectStaleAssignments()
	e.revertPausedOrCancelledAssignments()
	e.checkJobCompletions()
	if !selfStopped {
		e.assignWork()
	}
	e.flushDirtyTables()
}

func (e *Engine) processCompletions(ch chan CompletionReport) {
	for {
		select {
		case r := <-ch:
			e.applyCompletion(r)
		default:
			return
		}
	}
}

func (e *Engine) applyCompletion(r CompletionReport) {
	e.mu.Lock()
	defer e.mu.Unlock()

	table := e.tables[r.JobID]
	if table == nil {
		return
	}
	chunk := findChunk(table, r.FrameStart, r.FrameEnd)
	if chunk == nil || chunk.State != ChunkAssigned {
		return
	}

	delete(e.assignments, r.NodeID)
	if r.Failed {
		failChunkOrRetry(chunk, maxRetriesForJob(e.jobs, r.JobID))
	} else {
		chunk.State = ChunkComplete
		chunk.CompletedAtMS = time.Now().UnixMilli()
	}
	e.dirtyTables[r.JobID] = true
}

// detectStaleAssignments reverts assignments held past staleThreshold (or
// held by a now-dead worker, regardless of age) back to pending/failed.
func (e *Engine) detectStaleAssignments() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for nodeID, a := range e.assignments {
		dead := e.liveness.IsDead(nodeID)
		stale := now.Sub(time.UnixMilli(a.AssignedAtMS)) > e.staleThreshold
		rendering := e.liveness.IsRenderingJob(nodeID, a.JobID)

		if !dead && !stale {
			continue
		}
		if !dead && rendering {
			continue // legitimately still working it, just a slow chunk
		}

		table := e.tables[a.JobID]
		if table == nil {
			delete(e.assignments, nodeID)
			continue
		}
		chunk := findChunk(table, a.FrameStart, a.FrameEnd)
		if chunk != nil && chunk.State == ChunkAssigned {
			failChunkOrRetry(chunk, maxRetriesForJob(e.jobs, a.JobID))
			e.dirtyTables[a.JobID] = true
		}
		delete(e.assignments, nodeID)
	}
}

// revertPausedOrCancelledAssignments implements the job state table's
// "active -> user pause/cancel" side effect: any chunk still assigned
// within a job that is no longer active is reverted to pending and its
// holder is sent an abort_chunk, exactly as detectStaleAssignments does
// for a dead or stale worker.
func (e *Engine) revertPausedOrCancelledAssignments() {
	type abort struct {
		nodeID, jobID, reason string
	}
	var aborts []abort

	e.mu.Lock()
	for _, info := range e.jobs.Snapshot() {
		if info.CurrentState != jobstore.StatePaused && info.CurrentState != jobstore.StateCancelled {
			continue
		}
		jobID := info.Manifest.JobID
		table := e.tables[jobID]
		if table == nil {
			continue
		}
		reason := "job " + string(info.CurrentState)
		for i := range table.Chunks {
			chunk := &table.Chunks[i]
			if chunk.State != ChunkAssigned {
				continue
			}
			holder := chunk.AssignedTo
			chunk.State = ChunkPending
			chunk.AssignedTo = ""
			chunk.AssignedAtMS = 0
			delete(e.assignments, holder)
			e.dirtyTables[jobID] = true
			aborts = append(aborts, abort{holder, jobID, reason})
		}
	}
	e.mu.Unlock()

	for _, a := range aborts {
		e.sender.AbortChunk(a.nodeID, a.jobID, a.reason)
	}
}

// checkJobCompletions appends a completed state entry exactly once for
// every active job whose every chunk has reached ChunkComplete.
func (e *Engine) checkJobCompletions() {
	active := make(map[string]bool)
	for _, info := range e.jobs.Snapshot() {
		if info.CurrentState == jobstore.StateActive {
			active[info.Manifest.JobID] = true
		}
	}

	e.mu.Lock()
	jobIDs := make([]string, 0, len(e.tables))
	for jobID, table := range e.tables {
		if e.completionWritten[jobID] || !active[jobID] {
			continue
		}
		if allComplete(table) {
			jobIDs = append(jobIDs, jobID)
			e.completionWritten[jobID] = true
		}
	}
	e.mu.Unlock()

	for _, jobID := range jobIDs {
		info, ok := e.jobs.Get(jobID)
		if !ok {
			continue
		}
		entry := jobstore.StateEntry{
			State:       jobstore.StateCompleted,
			Priority:    info.CurrentPriority,
			NodeID:      e.selfID,
			TimestampMS: time.Now().UnixMilli(),
		}
		if err := e.jobs.WriteStateEntry(jobID, entry); err != nil {
			log.WithComponent("dispatch").Error().Err(err).Str("job_id", jobID).Msg("failed to write completed state entry")
		}
	}
}

// assignWork builds the idle-worker list and the priority-ordered active
// job list, and makes at most one assignment per idle worker per cycle.
func (e *Engine) assignWork() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ensureTablesForActiveJobsLocked()

	idle := e.liveness.IdleWorkers()
	sort.Slice(idle, func(i, k int) bool { return idle[i].NodeID < idle[k].NodeID })

	candidates := e.activeJobsByPriorityLocked()

	for _, worker := range idle {
		if _, busy := e.assignments[worker.NodeID]; busy {
			continue
		}
		for _, job := range candidates {
			if !compatible(worker, job) {
				continue
			}
			table := e.tables[job.JobID]
			chunk := firstPending(table)
			if chunk == nil {
				continue
			}

			chunk.State = ChunkAssigned
			chunk.AssignedTo = worker.NodeID
			chunk.AssignedAtMS = time.Now().UnixMilli()
			e.assignments[worker.NodeID] = Assignment{JobID: job.JobID, FrameStart: chunk.FrameStart, FrameEnd: chunk.FrameEnd, AssignedAtMS: chunk.AssignedAtMS}
			e.dirtyTables[job.JobID] = true

			e.sender.AssignChunk(worker.NodeID, job.JobID, chunk.FrameStart, chunk.FrameEnd)
			break
		}
	}
}

func (e *Engine) ensureTablesForActiveJobsLocked() {
	for _, info := range e.jobs.Snapshot() {
		if info.CurrentState != jobstore.StateActive {
			continue
		}
		jobID := info.Manifest.JobID
		if _, ok := e.tables[jobID]; ok {
			continue
		}
		e.tables[jobID] = &Table{
			CoordinatorID: e.selfID,
			Chunks:        buildChunks(info.Manifest.FrameStart, info.Manifest.FrameEnd, info.Manifest.ChunkSize),
		}
		e.dirtyTables[jobID] = true
	}
}

func (e *Engine) activeJobsByPriorityLocked() []JobCandidate {
	snap := e.jobs.Snapshot() // already priority desc, submitted_at asc
	out := make([]JobCandidate, 0, len(snap))
	for _, info := range snap {
		if info.CurrentState != jobstore.StateActive {
			continue
		}
		out = append(out, JobCandidate{
			JobID:        info.Manifest.JobID,
			Priority:     info.CurrentPriority,
			TagsRequired: info.Manifest.TagsRequired,
			CmdPerOS:     info.Manifest.CmdPerOS,
		})
	}
	return out
}

// flushDirtyTables writes every dirty table to disk, throttled to at most
// once per flushInterval.
func (e *Engine) flushDirtyTables() {
	e.mu.Lock()
	if time.Since(e.lastFlush) < flushInterval || len(e.dirtyTables) == 0 {
		e.mu.Unlock()
		return
	}
	dirty := e.dirtyTables
	e.dirtyTables = make(map[string]bool)
	tables := make(map[string]Table, len(dirty))
	now := time.Now().UnixMilli()
	for jobID := range dirty {
		t := e.tables[jobID]
		if t == nil {
			continue
		}
		t.CoordinatorID = e.selfID
		t.UpdatedAtMS = now
		tables[jobID] = *t
	}
	e.lastFlush = time.Now()
	e.mu.Unlock()

	for jobID, t := range tables {
		if err := atomicstore.WriteJSON(layout.DispatchFile(e.syncRoot, jobID), t); err != nil {
			log.WithComponent("dispatch").Error().Err(err).Str("job_id", jobID).Msg("failed to flush dispatch table")
		}
	}
}

// ReassignChunk and RetryFailedChunk are the operator-facing manual
// operations named in spec §4.8 and SPEC_FULL §12.

func (e *Engine) ReassignChunk(jobID string, frameStart, frameEnd int, reason string) {
	e.mu.Lock()
	table := e.tables[jobID]
	if table == nil {
		e.mu.Unlock()
		return
	}
	chunk := findChunk(table, frameStart, frameEnd)
	if chunk == nil {
		e.mu.Unlock()
		return
	}
	holder := chunk.AssignedTo
	chunk.State = ChunkPending
	chunk.AssignedTo = ""
	chunk.AssignedAtMS = 0
	if holder != "" {
		delete(e.assignments, holder)
	}
	e.dirtyTables[jobID] = true
	e.mu.Unlock()

	if holder != "" {
		e.sender.AbortChunk(holder, jobID, reason)
	}
}

func (e *Engine) RetryFailedChunk(jobID string, frameStart, frameEnd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	table := e.tables[jobID]
	if table == nil {
		return
	}
	chunk := findChunk(table, frameStart, frameEnd)
	if chunk == nil || chunk.State != ChunkFailed {
		return
	}
	chunk.State = ChunkPending // retry_count is deliberately not reset
	e.dirtyTables[jobID] = true
}

func findChunk(table *Table, frameStart, frameEnd int) *Chunk {
	for i := range table.Chunks {
		if table.Chunks[i].FrameStart == frameStart && table.Chunks[i].FrameEnd == frameEnd {
			return &table.Chunks[i]
		}
	}
	return nil
}

func failChunkOrRetry(chunk *Chunk, maxRetries int) {
	chunk.RetryCount++
	chunk.AssignedTo = ""
	chunk.AssignedAtMS = 0
	if chunk.RetryCount >= maxRetries {
		chunk.State = ChunkFailed
	} else {
		chunk.State = ChunkPending
	}
}

func maxRetriesForJob(jobs *jobstore.Store, jobID string) int {
	if info, ok := jobs.Get(jobID); ok {
		return info.Manifest.MaxRetries
	}
	return 0
}

func allComplete(table *Table) bool {
	if len(table.Chunks) == 0 {
		return false
	}
	for _, c := range table.Chunks {
		if c.State != ChunkComplete {
			return false
		}
	}
	return true
}

func firstPending(table *Table) *Chunk {
	for i := range table.Chunks {
		if table.Chunks[i].State == ChunkPending {
			return &table.Chunks[i]
		}
	}
	return nil
}

func compatible(w WorkerInfo, job JobCandidate) bool {
	if _, ok := job.CmdPerOS[w.OS]; !ok {
		return false
	}
	for _, tag := range job.TagsRequired {
		if !contains(w.Tags, tag) {
			return false
		}
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func buildChunks(frameStart, frameEnd, chunkSize int) []Chunk {
	var chunks []Chunk
	for start := frameStart; start <= frameEnd; start += chunkSize {
		end := start + chunkSize - 1
		if end > frameEnd {
			end = frameEnd
		}
		chunks = append(chunks, Chunk{FrameStart: start, FrameEnd: end, State: ChunkPending})
	}
	return chunks
}
