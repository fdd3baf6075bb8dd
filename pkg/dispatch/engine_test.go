package dispatch

import (
	"testing"
	"time"

	"github.com/smallrender/core/pkg/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLiveness struct {
	idle      []WorkerInfo
	dead      map[string]bool
	rendering map[string]string // nodeID -> jobID
}

func (f *fakeLiveness) IsDead(nodeID string) bool { return f.dead[nodeID] }
func (f *fakeLiveness) IdleWorkers() []WorkerInfo { return f.idle }
func (f *fakeLiveness) IsRenderingJob(nodeID, jobID string) bool {
	return f.rendering[nodeID] == jobID
}

type fakeDispatcher struct {
	assigned []Assignment
	aborted  []string
}

func (f *fakeDispatcher) AssignChunk(nodeID, jobID string, frameStart, frameEnd int) {
	f.assigned = append(f.assigned, Assignment{JobID: jobID, FrameStart: frameStart, FrameEnd: frameEnd})
}
func (f *fakeDispatcher) AbortChunk(nodeID, jobID string, reason string) {
	f.aborted = append(f.aborted, nodeID)
}

func submitActiveJob(t *testing.T, jobs *jobstore.Store, name string, frameEnd, chunkSize, maxRetries int, tags []string) string {
	t.Helper()
	manifest := jobstore.Manifest{
		CmdPerOS:   map[string]string{"linux": "render"},
		FrameStart: 1, FrameEnd: frameEnd,
		ChunkSize: chunkSize, MaxRetries: maxRetries,
		TagsRequired: tags,
	}
	id, err := jobs.SubmitJob(name, manifest, 1, "tester")
	require.NoError(t, err)
	jobs.Scan()
	return id
}

func TestAssignWorkGivesEachIdleWorkerOneChunk(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 20, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}, {NodeID: "nodeb", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false)

	assert.Len(t, sender.assigned, 2)
	assert.Len(t, e.assignments, 2)

	table := e.tables[jobID]
	assignedCount := 0
	for _, c := range table.Chunks {
		if c.State == ChunkAssigned {
			assignedCount++
		}
	}
	assert.Equal(t, 2, assignedCount)
}

func TestAssignWorkSkipsWorkerMissingRequiredTag(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	submitActiveJob(t, jobs, "gpu job", 10, 10, 3, []string{"gpu"})

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux", Tags: []string{"cpu"}}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false)

	assert.Empty(t, sender.assigned)
}

func TestLocalCompletionMarksChunkComplete(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false)

	e.LocalCompletions() <- CompletionReport{JobID: jobID, FrameStart: 1, FrameEnd: 10, NodeID: "nodea"}
	e.Tick(false)

	table := e.tables[jobID]
	assert.Equal(t, ChunkComplete, table.Chunks[0].State)
	assert.Empty(t, e.assignments)
}

func TestFailedCompletionRetriesUntilMaxRetries(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 2, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()

	e.Tick(false) // assign
	e.LocalCompletions() <- CompletionReport{JobID: jobID, FrameStart: 1, FrameEnd: 10, NodeID: "nodea", Failed: true}
	e.Tick(false) // apply failure -> retry_count 1 < max_retries 2 -> pending

	table := e.tables[jobID]
	assert.Equal(t, ChunkPending, table.Chunks[0].State)
	assert.Equal(t, 1, table.Chunks[0].RetryCount)

	e.Tick(false) // reassign
	e.LocalCompletions() <- CompletionReport{JobID: jobID, FrameStart: 1, FrameEnd: 10, NodeID: "nodea", Failed: true}
	e.Tick(false) // apply failure -> retry_count 2 >= max_retries 2 -> failed

	assert.Equal(t, ChunkFailed, table.Chunks[0].State)
}

func TestDetectStaleAssignmentsRevertsDeadWorkerImmediately(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false) // assigns to nodea

	liveness.idle = nil
	liveness.dead["nodea"] = true
	e.Tick(false) // detect stale: dead worker, regardless of age

	table := e.tables[jobID]
	assert.Equal(t, ChunkPending, table.Chunks[0].State)
	assert.Empty(t, e.assignments)
}

func TestCheckJobCompletionsWritesCompletedStateOnce(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false)
	e.LocalCompletions() <- CompletionReport{JobID: jobID, FrameStart: 1, FrameEnd: 10, NodeID: "nodea"}
	e.Tick(false)

	jobs.Scan()
	info, ok := jobs.Get(jobID)
	require.True(t, ok)
	assert.Equal(t, jobstore.StateCompleted, info.CurrentState)
}

func TestRecoverResetsDeadWorkerAssignmentsToPending(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	first := New(root, "coord", jobs, liveness, sender, Options{})
	first.Recover()
	first.Tick(false)

	// Force an immediate flush so dispatch.json reflects the assignment,
	// then simulate a coordinator restart against a now-dead worker.
	first.lastFlush = time.Time{}
	first.flushDirtyTables()

	liveness.dead["nodea"] = true
	second := New(root, "coord", jobs, liveness, sender, Options{})
	second.Recover()

	table := second.tables[jobID]
	require.NotNil(t, table)
	assert.Equal(t, ChunkPending, table.Chunks[0].State)
}

func TestPauseRevertsAssignedChunkAndAbortsHolder(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false) // assigns to nodea

	require.NoError(t, jobs.WriteStateEntry(jobID, jobstore.StateEntry{State: jobstore.StatePaused, Priority: 1, NodeID: "operator"}))
	jobs.Scan()

	e.Tick(false) // should revert+abort the now-paused job's assignment

	table := e.tables[jobID]
	assert.Equal(t, ChunkPending, table.Chunks[0].State)
	assert.Empty(t, e.assignments)
	assert.Contains(t, sender.aborted, "nodea")

	// Paused jobs never receive new assignments.
	aborted := len(sender.aborted)
	e.Tick(false)
	assert.Equal(t, aborted, len(sender.aborted))
	assert.Empty(t, e.assignments)
}

func TestResumeReassignsPausedJob(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false)

	require.NoError(t, jobs.WriteStateEntry(jobID, jobstore.StateEntry{State: jobstore.StatePaused, Priority: 1, NodeID: "operator"}))
	jobs.Scan()
	e.Tick(false)

	require.NoError(t, jobs.WriteStateEntry(jobID, jobstore.StateEntry{State: jobstore.StateActive, Priority: 1, NodeID: "operator"}))
	jobs.Scan()
	e.Tick(false)

	assert.Len(t, e.assignments, 1)
	table := e.tables[jobID]
	assert.Equal(t, ChunkAssigned, table.Chunks[0].State)
}

func TestCancelRevertsAssignedChunkAndAbortsHolder(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false)

	require.NoError(t, jobs.WriteStateEntry(jobID, jobstore.StateEntry{State: jobstore.StateCancelled, Priority: 1, NodeID: "operator"}))
	jobs.Scan()
	e.Tick(false)

	table := e.tables[jobID]
	assert.Equal(t, ChunkPending, table.Chunks[0].State)
	assert.Empty(t, e.assignments)
	assert.Contains(t, sender.aborted, "nodea")
}

func TestRecoverKeepsPausedJobTableForLaterResume(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	first := New(root, "coord", jobs, liveness, sender, Options{})
	first.Recover()
	first.Tick(false)
	first.LocalCompletions() <- CompletionReport{JobID: jobID, FrameStart: 1, FrameEnd: 10, NodeID: "nodea"}
	first.Tick(false)

	first.lastFlush = time.Time{}
	first.flushDirtyTables()

	require.NoError(t, jobs.WriteStateEntry(jobID, jobstore.StateEntry{State: jobstore.StatePaused, Priority: 1, NodeID: "operator"}))
	jobs.Scan()

	second := New(root, "coord", jobs, liveness, sender, Options{})
	second.Recover()

	table := second.tables[jobID]
	require.NotNil(t, table)
	assert.Equal(t, ChunkComplete, table.Chunks[0].State)
}

func TestReassignChunkRevertsAndAbortsCurrentHolder(t *testing.T) {
	root := t.TempDir()
	jobs := jobstore.New(root)
	jobID := submitActiveJob(t, jobs, "job one", 10, 10, 3, nil)

	liveness := &fakeLiveness{idle: []WorkerInfo{{NodeID: "nodea", OS: "linux"}}, dead: map[string]bool{}}
	sender := &fakeDispatcher{}
	e := New(root, "coord", jobs, liveness, sender, Options{})
	e.Recover()
	e.Tick(false)

	e.ReassignChunk(jobID, 1, 10, "operator requested")

	assert.Contains(t, sender.aborted, "nodea")
	table := e.tables[jobID]
	assert.Equal(t, ChunkPending, table.Chunks[0].State)
}
