package rendersupervisor

import "github.com/smallrender/core/pkg/jobstore"

// State is the supervisor's position in its single-render state machine:
// Idle -> PendingDispatch -> Dispatched(ack pending) -> Running -> Idle.
type State string

const (
	StateIdle            State = "idle"
	StatePendingDispatch State = "pending_dispatch"
	StateDispatched      State = "dispatched"
	StateRunning         State = "running"
)

// Assignment is the chunk the Dispatch Engine has handed this node.
type Assignment struct {
	JobID          string
	FrameStart     int
	FrameEnd       int
	DispatchedAtMS int64

	// CorrelationID ties together every log line and event this one
	// dispatch produces, from onDispatchRequested through finish.
	CorrelationID string
}

// Agent is the duplex pipe to the renderer's child process. The supervisor
// never manages the renderer's own PID — that is the agent's job; the
// supervisor only ever talks the frame protocol in pkg/ipc to whatever
// implements this interface.
type Agent interface {
	SendFrame(v any) error
	ReadRawFrame() ([]byte, error)
	Close() error
}

// AgentFactory starts a fresh agent connection for one dispatch. A new
// Agent is created per render; the supervisor never reuses one across
// chunks.
type AgentFactory func() (Agent, error)

// JobLookup is the subset of pkg/jobstore.Store the supervisor needs to
// resolve a dispatched chunk's manifest.
type JobLookup interface {
	Get(jobID string) (jobstore.JobInfo, bool)
}

// CompletionReport is the outcome the supervisor hands to its ResultSink —
// shaped like pkg/dispatch.CompletionReport so a thin adapter is the only
// translation needed, without this package importing pkg/dispatch for a
// single struct.
type CompletionReport struct {
	JobID      string
	FrameStart int
	FrameEnd   int
	NodeID     string
	Failed     bool
	Reason     string
}

// ResultSink delivers a finished chunk's outcome back toward the Dispatch
// Engine: directly (this node is the coordinator) or over the Command
// Channel (this node reports to a remote coordinator).
type ResultSink interface {
	Report(r CompletionReport)
}

// Status is the read-only snapshot other threads (CLI, opsapi, the
// Heartbeat Engine's render_state setter) may poll.
type Status struct {
	State      State
	JobID      string
	FrameStart int
	FrameEnd   int
}

// chunk_started/frame_finished/chunk_finished/chunk_failed event payloads,
// written under jobs/<id>/events/<self>/<seq>_<type>_<range>.json.

type chunkStartedEvent struct {
	JobID       string `json:"job_id"`
	FrameStart  int    `json:"frame_start"`
	FrameEnd    int    `json:"frame_end"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type frameFinishedEvent struct {
	JobID       string `json:"job_id"`
	Frame       int    `json:"frame"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type chunkFinishedEvent struct {
	JobID       string `json:"job_id"`
	FrameStart  int    `json:"frame_start"`
	FrameEnd    int    `json:"frame_end"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	ExitCode    int    `json:"exit_code"`
	OutputFile  string `json:"output_file,omitempty"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type chunkFailedEvent struct {
	JobID       string `json:"job_id"`
	FrameStart  int    `json:"frame_start"`
	FrameEnd    int    `json:"frame_end"`
	Error       string `json:"error"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// rawInbound is one not-yet-decoded frame read off the agent pipe, or the
// synthetic disconnect marker the read loop emits when the pipe closes.
type rawInbound struct {
	typ  string
	body []byte
}

const disconnectType = "__agent_disconnect__"
