// Package rendersupervisor implements the Render Supervisor: the
// single-chunk-at-a-time state machine every node runs to drive its local
// agent child process, emit event files, capture stdout, and report the
// outcome back toward the Dispatch Engine.
package rendersupervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/ipc"
	"github.com/smallrender/core/pkg/jobstore"
	"github.com/smallrender/core/pkg/layout"
	"github.com/smallrender/core/pkg/log"
)

const inboundQueueSize = 64

// Supervisor owns at most one active render. Every field below it.state is
// mutated exclusively inside Tick — the only exception is the published
// Status snapshot, guarded by statusMu, which other threads may poll.
type Supervisor struct {
	syncRoot string
	selfID   string
	jobs     JobLookup
	spawn    AgentFactory
	sink     ResultSink

	dispatchCh chan Assignment
	abortCh    chan string
	inbound    chan rawInbound
	readDone   chan struct{}

	state   State
	current *Assignment
	agent   Agent
	seq     int
	stdout  *os.File
	stopped bool

	statusMu sync.Mutex
	status   Status
}

// New creates an idle Supervisor. spawn launches a fresh agent connection
// per dispatch; sink receives this node's chunk outcomes.
func New(syncRoot, selfID string, jobs JobLookup, spawn AgentFactory, sink ResultSink) *Supervisor {
	s := &Supervisor{
		syncRoot:   syncRoot,
		selfID:     selfID,
		jobs:       jobs,
		spawn:      spawn,
		sink:       sink,
		dispatchCh: make(chan Assignment, 1),
		abortCh:    make(chan string, 1),
		inbound:    make(chan rawInbound, inboundQueueSize),
		state:      StateIdle,
	}
	s.publishStatus()
	return s
}

// Dispatch queues a new chunk assignment for the next Tick to pick up.
// Safe to call from any goroutine.
func (s *Supervisor) Dispatch(a Assignment) {
	select {
	case s.dispatchCh <- a:
	default:
		log.WithComponent("render-supervisor").Warn().
			Str("job_id", a.JobID).Msg("dispatch queue full, dropping assignment")
	}
}

// Abort queues an abort request for the currently running chunk, if any.
// Safe to call from any goroutine.
func (s *Supervisor) Abort(reason string) {
	select {
	case s.abortCh <- reason:
	default:
	}
}

// SetStopped marks this node's own node_state. Must be called from the
// same goroutine that drives Tick — it is read-and-written there alongside
// every other state-machine field.
func (s *Supervisor) SetStopped(stopped bool) { s.stopped = stopped }

// Status returns the last-published read-only snapshot.
func (s *Supervisor) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Tick drains at most one queued dispatch/abort request and every inbound
// agent frame currently buffered, advancing the state machine. Called on
// the same cadence as the Dispatch Engine's own Tick, per spec.
func (s *Supervisor) Tick() {
	select {
	case a := <-s.dispatchCh:
		s.onDispatchRequested(a)
	default:
	}

	select {
	case reason := <-s.abortCh:
		s.onAbortRequested(reason)
	default:
	}

	for s.drainOneInbound() {
	}
}

func (s *Supervisor) drainOneInbound() bool {
	select {
	case in := <-s.inbound:
		s.handleInbound(in)
		return true
	default:
		return false
	}
}

func (s *Supervisor) onDispatchRequested(a Assignment) {
	logger := log.WithComponent("render-supervisor")

	if s.stopped {
		logger.Info().Str("job_id", a.JobID).Msg("dispatch abandoned, node is stopped")
		s.sink.Report(CompletionReport{JobID: a.JobID, FrameStart: a.FrameStart, FrameEnd: a.FrameEnd, NodeID: s.selfID, Failed: true, Reason: "node stopped before dispatch"})
		return
	}
	if s.state != StateIdle {
		logger.Warn().Str("job_id", a.JobID).Msg("dispatch rejected, supervisor is busy")
		return
	}

	a.DispatchedAtMS = time.Now().UnixMilli()
	a.CorrelationID = uuid.NewString()
	s.state = StatePendingDispatch
	s.current = &a
	s.publishStatus()

	logger = log.WithCorrelationID(a.CorrelationID)

	info, ok := s.jobs.Get(a.JobID)
	if !ok {
		s.finish(false, "unknown job", ipc.Completed{})
		return
	}

	agent, err := s.spawn()
	if err != nil {
		logger.Error().Err(err).Str("job_id", a.JobID).Msg("failed to start agent")
		s.finish(false, "agent start failed: "+err.Error(), ipc.Completed{})
		return
	}

	task := buildTask(info.Manifest, a)
	if err := agent.SendFrame(task); err != nil {
		_ = agent.Close()
		logger.Error().Err(err).Str("job_id", a.JobID).Msg("failed to send task to agent")
		s.finish(false, "agent send task failed: "+err.Error(), ipc.Completed{})
		return
	}

	if err := s.openStdoutLog(a); err != nil {
		logger.Warn().Err(err).Str("job_id", a.JobID).Msg("failed to open stdout capture log")
	}

	s.agent = agent
	s.seq = 0
	s.state = StateDispatched
	s.publishStatus()

	done := make(chan struct{})
	s.readDone = done
	go s.readLoop(agent, done)
}

func (s *Supervisor) onAbortRequested(reason string) {
	if s.state == StateIdle {
		return
	}
	if s.agent != nil {
		_ = s.agent.SendFrame(ipc.Abort{Type: ipc.TypeAbort, Reason: reason})
	}
	s.finish(false, reason, ipc.Completed{})
}

func (s *Supervisor) handleInbound(in rawInbound) {
	if s.state == StateIdle {
		return // stray frame from an agent we already tore down
	}

	switch in.typ {
	case disconnectType:
		s.finish(false, "agent disconnected", ipc.Completed{})

	case ipc.TypeAck:
		s.onAck()

	case ipc.TypeStdout:
		var m ipc.StdoutBatch
		if err := json.Unmarshal(in.body, &m); err == nil {
			s.appendStdout(m.Lines)
		}

	case ipc.TypeFrameCompleted:
		var m ipc.FrameCompleted
		if err := json.Unmarshal(in.body, &m); err == nil {
			s.onFrameCompleted(m.Frame)
		}

	case ipc.TypeCompleted:
		var m ipc.Completed
		if err := json.Unmarshal(in.body, &m); err == nil {
			s.onAgentCompleted(m)
		}

	case ipc.TypeFailed:
		var m ipc.Failed
		if err := json.Unmarshal(in.body, &m); err == nil {
			s.finish(false, m.Error, ipc.Completed{})
		}

	case ipc.TypeProgress, ipc.TypeStatus, ipc.TypePong:
		// informational; no event, no state change
	}
}

// currentLogger derives a logger tagged with the active chunk's correlation
// id, or a bare component logger when no chunk is in flight.
func (s *Supervisor) currentLogger() zerolog.Logger {
	if s.current == nil {
		return log.WithComponent("render-supervisor")
	}
	return log.WithCorrelationID(s.current.CorrelationID)
}

func (s *Supervisor) onAck() {
	if s.state != StateDispatched {
		return
	}
	s.state = StateRunning
	s.publishStatus()
	s.emitEvent("chunk_started", rangeLabel(s.current.FrameStart, s.current.FrameEnd), chunkStartedEvent{
		JobID: s.current.JobID, FrameStart: s.current.FrameStart, FrameEnd: s.current.FrameEnd,
		TimestampMS: time.Now().UnixMilli(),
	})
}

func (s *Supervisor) onFrameCompleted(frame int) {
	if s.state != StateRunning {
		return
	}
	s.emitEvent("frame_finished", strconv.Itoa(frame), frameFinishedEvent{
		JobID: s.current.JobID, Frame: frame, TimestampMS: time.Now().UnixMilli(),
	})
}

func (s *Supervisor) onAgentCompleted(m ipc.Completed) {
	s.finish(true, "", m)
}

// finish tears down the active render, emits the terminal event, reports
// the outcome, and returns the supervisor to Idle.
func (s *Supervisor) finish(success bool, errText string, completed ipc.Completed) {
	a := s.current
	if a == nil {
		return
	}

	now := time.Now().UnixMilli()
	if success {
		s.emitEvent("chunk_finished", rangeLabel(a.FrameStart, a.FrameEnd), chunkFinishedEvent{
			JobID: a.JobID, FrameStart: a.FrameStart, FrameEnd: a.FrameEnd,
			ElapsedMS: completed.ElapsedMS, ExitCode: completed.ExitCode, OutputFile: completed.OutputFile,
			TimestampMS: now,
		})
	} else {
		s.emitEvent("chunk_failed", rangeLabel(a.FrameStart, a.FrameEnd), chunkFailedEvent{
			JobID: a.JobID, FrameStart: a.FrameStart, FrameEnd: a.FrameEnd, Error: errText, TimestampMS: now,
		})
	}

	s.sink.Report(CompletionReport{
		JobID: a.JobID, FrameStart: a.FrameStart, FrameEnd: a.FrameEnd,
		NodeID: s.selfID, Failed: !success, Reason: errText,
	})

	if s.agent != nil {
		_ = s.agent.SendFrame(ipc.Shutdown{Type: ipc.TypeShutdown})
		agent := s.agent
		go func() { _ = agent.Close() }()
	}
	if s.readDone != nil {
		close(s.readDone)
	}
	s.closeStdoutLog()

	s.agent = nil
	s.current = nil
	s.readDone = nil
	s.state = StateIdle
	s.publishStatus()
}

func (s *Supervisor) publishStatus() {
	st := Status{State: s.state}
	if s.current != nil {
		st.JobID = s.current.JobID
		st.FrameStart = s.current.FrameStart
		st.FrameEnd = s.current.FrameEnd
	}
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

// readLoop runs on its own goroutine for the lifetime of one agent
// connection, feeding parsed frame envelopes back to Tick via inbound.
// It is the one piece of this package that must block on I/O, matching
// the spec's "asynchronous inputs through bounded internal queues" model.
func (s *Supervisor) readLoop(agent Agent, done chan struct{}) {
	for {
		body, err := agent.ReadRawFrame()
		if err != nil {
			select {
			case s.inbound <- rawInbound{typ: disconnectType}:
			case <-done:
			}
			return
		}

		var env ipc.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			continue
		}

		select {
		case s.inbound <- rawInbound{typ: env.Type, body: body}:
		case <-done:
			return
		}
	}
}

func (s *Supervisor) emitEvent(eventType, rangeSeg string, payload any) {
	a := s.current
	s.seq++
	name := fmt.Sprintf("%06d_%s_%s.json", s.seq, eventType, rangeSeg)
	path := layout.EventFile(s.syncRoot, a.JobID, s.selfID, name)
	if err := atomicstore.WriteJSON(path, payload); err != nil {
		s.currentLogger().Error().Err(err).
			Str("event", eventType).Str("job_id", a.JobID).Msg("failed to write event")
	}
}

func (s *Supervisor) openStdoutLog(a Assignment) error {
	name := fmt.Sprintf("%s_%d.log", rangeLabel(a.FrameStart, a.FrameEnd), a.DispatchedAtMS)
	path := layout.StdoutLogFile(s.syncRoot, a.JobID, s.selfID, name)
	if err := os.MkdirAll(layout.NodeStdoutDir(s.syncRoot, a.JobID, s.selfID), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.stdout = f
	return nil
}

func (s *Supervisor) appendStdout(lines []string) {
	if s.stdout == nil {
		return
	}
	for _, line := range lines {
		if _, err := s.stdout.WriteString(line + "\n"); err != nil {
			log.WithComponent("render-supervisor").Warn().Err(err).Msg("failed to append captured stdout")
			return
		}
	}
	_ = s.stdout.Sync()
}

func (s *Supervisor) closeStdoutLog() {
	if s.stdout == nil {
		return
	}
	_ = s.stdout.Close()
	s.stdout = nil
}

func rangeLabel(start, end int) string {
	return fmt.Sprintf("%d-%d", start, end)
}

func buildTask(m jobstore.Manifest, a Assignment) ipc.Task {
	executable := m.CmdPerOS[runtime.GOOS]
	args := ipc.SubstituteTokens(m.Args(), a.FrameStart, a.FrameStart, a.FrameEnd)

	var patterns []string
	if m.Progress.Pattern != "" {
		patterns = []string{m.Progress.Pattern}
	}

	return ipc.Task{
		Type:        ipc.TypeTask,
		JobID:       a.JobID,
		FrameStart:  a.FrameStart,
		FrameEnd:    a.FrameEnd,
		Command:     ipc.Command{Executable: executable, Args: args},
		WorkingDir:  m.OutputDir,
		Environment: m.Environment,
		Progress:    ipc.Progress{Patterns: patterns, FrameGroup: m.Progress.FrameGroup},
		OutputDetection: ipc.OutputDetection{
			Validation:  string(m.OutputDetection.Validation),
			PathPattern: m.OutputDetection.PathPattern,
		},
		TimeoutSeconds: m.TimeoutSeconds,
	}
}
